package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote Compositor service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target with keepalive pings. Without extra options the
// connection is plaintext, which is what the kiosk LAN uses.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(16 << 20)),
	}
	if len(opts) == 0 {
		base = append(base, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// ComposeRequest mirrors the fields Service.Compose reads.
type ComposeRequest struct {
	Kind     string
	Template string
	Photos   []string
	Session  string
	Output   string
	Copies   int
	Prefix   string
}

func (r ComposeRequest) fields() map[string]any {
	m := map[string]any{}
	if r.Kind != "" {
		m["kind"] = r.Kind
	}
	if r.Template != "" {
		m["template"] = r.Template
	}
	if len(r.Photos) > 0 {
		photos := make([]any, len(r.Photos))
		for i, p := range r.Photos {
			photos[i] = p
		}
		m["photos"] = photos
	}
	if r.Session != "" {
		m["session"] = r.Session
	}
	if r.Output != "" {
		m["output"] = r.Output
	}
	if r.Copies > 0 {
		m["copies"] = r.Copies
	}
	if r.Prefix != "" {
		m["prefix"] = r.Prefix
	}
	return m
}

// ListTemplates returns the remote template list.
func (c *Client) ListTemplates(ctx context.Context) ([]map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/ListTemplates", &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	raw, _ := out.AsMap()["templates"].([]any)
	list := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			list = append(list, m)
		}
	}
	return list, nil
}

// Compose runs a compose job remotely and returns its result metadata.
func (c *Client) Compose(ctx context.Context, req ComposeRequest) (map[string]any, error) {
	in, err := structpb.NewStruct(req.fields())
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Compose", in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
