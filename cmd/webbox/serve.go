package main

import (
	"context"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/webbox"
	"pkt.systems/webbox/internal/appconfig"
	"pkt.systems/webbox/internal/persist"
	"pkt.systems/webbox/internal/sandboxgrpc"
	"pkt.systems/webbox/schema"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var socketPath string
	var keepaliveInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sandbox, messaging and persistence server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.Sandbox.SocketPath = socketPath
			}
			if keepaliveInterval > 0 {
				cfg.Sandbox.KeepaliveInterval = keepaliveInterval
			}
			serverCfg, err := serverConfig(cfg, logger)
			if err != nil {
				return err
			}
			srv, err := webbox.New(serverCfg, webbox.WithSandbox(), webbox.WithSessions())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := srv.Start(ctx); err != nil {
				return err
			}
			logger.Info("sandbox socket listening", "socket", cfg.Sandbox.SocketPath, "work_root", cfg.Sandbox.WorkRoot)
			err = srv.Wait()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := srv.Stop(stopCtx); err == nil {
				err = stopErr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "sandbox socket path (overrides config)")
	cmd.Flags().DurationVar(&keepaliveInterval, "keepalive-interval", 0, "exit when clients stop pinging for this long times the miss count")
	return cmd
}

func serverConfig(cfg appconfig.Config, logger pslog.Logger) (webbox.ServerConfig, error) {
	project, err := cfg.ProjectDefaults()
	if err != nil {
		return webbox.ServerConfig{}, err
	}
	reg, err := cfg.LanguageRegistry()
	if err != nil {
		return webbox.ServerConfig{}, err
	}
	return webbox.ServerConfig{
		StateDir: cfg.StateDir,
		Sandbox: sandboxgrpc.Config{
			SocketPath:        cfg.Sandbox.SocketPath,
			WorkRoot:          cfg.Sandbox.WorkRoot,
			KeepaliveInterval: cfg.Sandbox.KeepaliveInterval,
			KeepaliveMisses:   cfg.Sandbox.KeepaliveMisses,
			CommandNice:       cfg.Sandbox.CommandNice,
		},
		Store: persist.Options{
			Seal:         cfg.Store.Seal,
			KeyStorePath: cfg.Store.KeyStorePath,
			Logger:       logger,
		},
		Project:   project,
		Languages: reg,
		Location:  locationFromBaseURL(cfg.Project.BaseURL),
		Logger:    logger,
	}, nil
}

func locationFromBaseURL(raw string) schema.Location {
	if raw == "" {
		return schema.Location{}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return schema.Location{}
	}
	return schema.Location{Protocol: parsed.Scheme + ":", Host: parsed.Host}
}
