// Package rpc serves the compositing engine over gRPC. Messages are
// google.protobuf.Struct values, so no generated code is needed on either
// side.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"photobooth/internal/pipeline"
	"photobooth/internal/templates"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "photobooth.v1.Compositor"

// CompositorServer is the server API for the Compositor service.
type CompositorServer interface {
	ListTemplates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Compose(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Compositor service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompositorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTemplates", Handler: unaryHandler("ListTemplates", CompositorServer.ListTemplates)},
		{MethodName: "Compose", Handler: unaryHandler("Compose", CompositorServer.Compose)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "photobooth/v1/compositor.proto",
}

type unaryMethod func(CompositorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CompositorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CompositorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TemplateSource is the registry view the service needs.
type TemplateSource interface {
	Get(key string) (*templates.Descriptor, bool)
	List() []*templates.Descriptor
}

// Service implements CompositorServer on top of the job pipeline.
type Service struct {
	templates TemplateSource
	runner    pipeline.Runner
	log       *slog.Logger
}

// NewService returns a Compositor service.
func NewService(ts TemplateSource, runner pipeline.Runner, log *slog.Logger) *Service {
	return &Service{templates: ts, runner: runner, log: log}
}

// ListTemplates returns {"templates": [...]} with one entry per template.
func (s *Service) ListTemplates(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list := s.templates.List()
	out := make([]any, 0, len(list))
	for _, d := range list {
		out = append(out, map[string]any{
			"id":              d.ID,
			"asset_path":      d.AssetPath,
			"layout":          d.Layout,
			"display_text":    d.DisplayText,
			"required_photos": d.RequiredPhotos,
			"slots":           len(d.Slots),
			"color":           d.ColorHex,
		})
	}
	return toStruct(map[string]any{"templates": out})
}

// Compose runs a composite, strip or all-templates job and waits for it.
// Request fields: kind, template, photos, session, output, copies, prefix.
func (s *Service) Compose(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	kind, _ := fields["kind"].(string)
	tpl, _ := fields["template"].(string)
	session, _ := fields["session"].(string)
	output, _ := fields["output"].(string)

	jobType := pipeline.JobComposite
	switch kind {
	case "", "composite":
	case "strip":
		jobType = pipeline.JobStrip
	case "all":
		jobType = pipeline.JobAll
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown kind %q", kind)
	}

	if jobType != pipeline.JobAll {
		if tpl == "" {
			return nil, status.Error(codes.InvalidArgument, "template is required")
		}
		if _, ok := s.templates.Get(tpl); !ok {
			return nil, status.Errorf(codes.NotFound, "unknown template %q", tpl)
		}
	}

	opts := map[string]any{"template": tpl}
	if photos, ok := fields["photos"].([]any); ok && len(photos) > 0 {
		opts["photos"] = photos
	} else if session == "" {
		return nil, status.Error(codes.InvalidArgument, "photos or session is required")
	}
	if copies, ok := fields["copies"].(float64); ok {
		opts["copies"] = copies
	}
	if prefix, ok := fields["prefix"].(string); ok && prefix != "" {
		opts["prefix"] = prefix
	}

	job := pipeline.Job{
		ID:        pipeline.NewID(string(jobType)),
		Type:      jobType,
		InputPath: session,
		Output:    output,
		Options:   opts,
	}
	res, err := pipeline.SubmitAndWait(ctx, s.runner, job)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrQueueFull):
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		case errors.Is(err, pipeline.ErrStopped):
			return nil, status.Error(codes.Unavailable, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, status.FromContextError(err).Err()
		}
		// kind=all fails only when a template could not be rendered; the
		// others are already on disk and the caller still needs their paths
		if outputs, ok := res.Meta["outputs"].(map[string]string); !ok || len(outputs) == 0 {
			return nil, status.Error(codes.Internal, err.Error())
		}
		s.log.Warn("compose finished with failures", "id", job.ID, "error", err)
	}

	meta := map[string]any{"id": job.ID}
	for k, v := range res.Meta {
		meta[k] = v
	}
	if err != nil {
		meta["warnings"] = err.Error()
	}
	return toStruct(meta)
}

// toStruct normalises arbitrary JSON-able values (int slices, string maps)
// into the shapes structpb accepts.
func toStruct(v map[string]any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Serve registers svc and serves on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, svc CompositorServer, log *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, lis, svc, log)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, lis net.Listener, svc CompositorServer, log *slog.Logger) error {
	srv := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	srv.RegisterService(&ServiceDesc, svc)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down gRPC server...")
		srv.GracefulStop()
	}()

	log.Info("gRPC server starting", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
