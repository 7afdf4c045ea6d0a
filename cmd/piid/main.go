// Command piid serves the PII detection API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"piiguard/internal/app"
	"piiguard/internal/config"
	"piiguard/internal/logging"
	"piiguard/internal/server"
	"piiguard/internal/stats"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "piid failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "config file (default ~/.piiguard/config.yaml)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	if *cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		*cfgPath = p
	}
	config.LoadDotEnv(*envFile)
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logging.Sync(log)
	logging.SetDefault(log)
	log = log.Named("piid")
	log.Info("starting", logging.String("version", version), logging.String("config", *cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := stats.NewCollector()
	rt, err := app.Build(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("closing backends", logging.Err(err))
		}
	}()

	srv := server.New(cfg, server.Deps{
		Pipeline: rt.Pipeline,
		Patterns: rt.Patterns,
		Metrics:  metrics,
		Logger:   log,
		Version:  version,
	})

	if _, err := os.Stat(*cfgPath); err == nil {
		config.Watch(*cfgPath, log, func(next *config.Config) {
			if err := logging.SetLevel(log, next.Log.Level); err != nil {
				log.Warn("log level not applied", logging.Err(err))
				return
			}
			log.Info("log level applied", logging.String("level", next.Log.Level))
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
