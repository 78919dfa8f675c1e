package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/refang/internal/config"
	"github.com/luckyPipewrench/refang/internal/metrics"
	"github.com/luckyPipewrench/refang/internal/pipeline"
	"github.com/luckyPipewrench/refang/internal/server"
)

func serveCmd() *cobra.Command {
	var (
		configFile string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the formatting pipeline over HTTP",
		Long: `Run the refang HTTP API for automated threat-intel pipelines.

Endpoints:
  POST /v1/format   {"url": "...", "resolve": true} -> {"urls": [...]}
  GET  /healthz     liveness probe
  GET  /metrics     Prometheus metrics
  GET  /stats       JSON stats summary

With --config, the file is watched (and SIGHUP honored) and reloads take
effect without restarting.

Examples:
  refang serve
  refang serve --listen 0.0.0.0:8787 --config refang.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			log, err := newDiagLogger(cfg)
			if err != nil {
				return fmt.Errorf("creating diagnostics logger: %w", err)
			}
			defer log.Close()

			m := metrics.New()
			srv := server.New(cfg.Server.Listen, pipeline.New(cfg, log, m), log, m)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if configFile != "" {
				reloader := config.NewReloader(configFile)
				defer reloader.Close()
				go func() {
					_ = reloader.Start(ctx)
				}()
				go func() {
					for newCfg := range reloader.Changes() {
						srv.SetFormatter(pipeline.New(newCfg, log, m))
						log.ConfigReload("ok", configFile)
					}
				}()
			}

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path (watched for changes)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")

	return cmd
}
