package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/logging"
	"github.com/promptgate/promptgate/pkg/scanner"
	"github.com/promptgate/promptgate/pkg/serve"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan service",
	Long:  "Start the HTTP scan service with health probes, metrics, and hot-reloadable datasets",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind address (overrides L0_API_HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides L0_API_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if serveHost != "" {
		cfg.APIHost = serveHost
	}
	if servePort != 0 {
		cfg.APIPort = servePort
	}

	log := logging.New(cfg.LogFormat, logLevel(cfg.LogLevel))
	defer log.Sync()

	core, err := scanner.NewCore(&cfg, log)
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}
	log.Info("scanner initialized",
		zap.Int("rules", core.Registry().RuleCount()),
		zap.Int("datasets", core.Registry().DatasetCount()),
		zap.String("version", core.Registry().Version()))

	srv := serve.NewServer(&cfg, core, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatasetWatch {
		go func() {
			if err := srv.WatchDatasets(ctx, cfg.DatasetPath); err != nil && ctx.Err() == nil {
				log.Error("dataset watcher stopped", zap.Error(err))
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	if err := srv.ListenAndServe(ctx, addr); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
