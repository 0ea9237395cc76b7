package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"

	"photobooth/internal/cli"
	"photobooth/internal/compose"
	"photobooth/internal/config"
	"photobooth/internal/fsutil"
	"photobooth/internal/logging"
	"photobooth/internal/overlay"
	"photobooth/internal/pipeline"
	"photobooth/internal/storage"
	"photobooth/internal/templates"
)

// fallbackTemplateDirs are tried when the configured directory is missing.
var fallbackTemplateDirs = []string{"./templates", "/usr/share/photobooth/templates"}

func main() {
	// .env is optional; it only seeds PHOTOBOOTH_* variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.Paths.DatabasePath, "error", err)
		os.Exit(1)
	}

	templateDir := cfg.Paths.TemplatesDir
	if dir := fsutil.FirstExisting(append([]string{templateDir}, fallbackTemplateDirs...)...); dir != "" {
		templateDir = dir
	}
	if templateDir != cfg.Paths.TemplatesDir {
		log.Warn("configured template directory missing, using fallback",
			"configured", cfg.Paths.TemplatesDir, "using", templateDir)
	}

	registry := templates.NewRegistry(templateDir, log)
	compositor := compose.New(log)
	blender := overlay.NewBlender()

	ctx, cancel := context.WithCancel(context.Background())
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, cfg.Processing.QueueSize, log, store, pipeline.Deps{
		Templates:       registry,
		Compositor:      compositor,
		Blender:         blender,
		StripPrefix:     cfg.Compose.StripPrefix,
		CompositePrefix: cfg.Compose.CompositePrefix,
		FinalName:       cfg.Compose.FinalName,
	})

	root := cli.NewRootCmd(cli.NewRoot(cfg, log, cli.Components{
		Store:      store,
		Pipeline:   pipe,
		Registry:   registry,
		Compositor: compositor,
		Blender:    blender,
	}))

	err = fang.Execute(
		ctx,
		root,
		fang.WithVersion(cli.Version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	)
	pipe.Stop()
	cancel()
	store.Close()
	if err != nil {
		os.Exit(1)
	}
}
