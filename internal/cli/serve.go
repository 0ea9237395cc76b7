package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"photobooth/internal/rpc"
	"photobooth/internal/server"
	"photobooth/internal/templates"
)

type serveOptions struct {
	addr     string
	grpcAddr string
	watch    bool
}

type serveFunc func(ctx context.Context, r *Root, opts serveOptions) error

func newServeCmd(root *Root) *cobra.Command {
	opts := serveOptions{
		addr:     root.cfg.Server.HTTPAddr,
		grpcAddr: root.cfg.Server.GRPCAddr,
		watch:    root.cfg.Server.Watch,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers for the kiosk front end",
		Long: `Serve the compositing engine to the kiosk UI. HTTP carries the job API, the
job event stream and the websocket live preview; gRPC exposes ListTemplates and
Compose. The template directory is watched and reloaded on change.

Examples:
  photobooth serve
  photobooth serve --addr :8081 --grpc-addr "" --watch=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server",
				"addr", opts.addr,
				"grpc_addr", opts.grpcAddr,
				"watch", opts.watch,
				"templates", root.registry.Dir(),
			)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", opts.addr, "HTTP listen address")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", opts.grpcAddr, "gRPC listen address (empty disables gRPC)")
	cmd.Flags().BoolVar(&opts.watch, "watch", opts.watch, "reload templates when the directory changes")
	return cmd
}

func runServe(ctx context.Context, r *Root, opts serveOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := r.registry.Templates(); err != nil {
		r.log.Warn("some templates failed to load", "error", err)
	}
	r.recordTemplates(r.registry.List())

	if path := r.cfg.Preview.OverlayPath; path != "" {
		if err := r.blender.Load(path); err != nil {
			r.log.Warn("preview overlay unavailable", "path", path, "error", err)
		}
	}

	if opts.watch {
		w, err := templates.NewWatcher(r.registry, r.log, r.templatesChanged)
		if err != nil {
			return fmt.Errorf("watch templates: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("watch templates: %w", err)
		}
		defer w.Stop()
	}

	srv := server.NewServer(opts.addr, server.Deps{
		Store:    r.store,
		Pipeline: r.pipeline,
		Registry: r.registry,
		Blender:  r.blender,
		Preview:  r.cfg.Preview,
	}, r.log)

	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- srv.Start(ctx) }()
	if opts.grpcAddr != "" {
		running++
		svc := rpc.NewService(r.registry, r.pipeline, r.log)
		go func() { errCh <- rpc.Serve(ctx, opts.grpcAddr, svc, r.log) }()
	}

	var firstErr error
	for ; running > 0; running-- {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// templatesChanged drops cached decodes of changed templates and records the
// reloaded set.
func (r *Root) templatesChanged(paths []string) {
	for _, p := range paths {
		r.compositor.InvalidateTemplate(p)
		if err := r.blender.Invalidate(p); err != nil {
			r.log.Warn("overlay reload failed", "path", p, "error", err)
		}
	}
	r.recordTemplates(r.registry.List())
}
