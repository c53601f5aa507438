package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/config"
	"github.com/sells-group/brandintel/internal/monitoring"
	"github.com/sells-group/brandintel/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the brand-intelligence HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		zap.L().Info("service configured",
			zap.String("addr", cfg.Server.Addr),
			zap.String("openai_model", cfg.OpenAI.Model),
			zap.String("openai_base_url", cfg.OpenAI.BaseURL),
			zap.String("openai_api_key", config.Redact(cfg.OpenAI.APIKey)),
			zap.String("server_api_key", config.Redact(cfg.Server.APIKey)),
			zap.Int("browser_pool_size", cfg.Browser.PoolSize),
			zap.Int("scrape_concurrency", cfg.Scrape.Concurrency),
		)

		// Background maintenance: gauge republishing, run/cache/log reaping,
		// and threshold alerting.
		monitor := monitoring.NewMonitor(env.Store, env.Fast, env.Metrics, cfg.Run, cfg.Metrics)
		go monitor.Run(ctx)

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		srv := server.New(cfg, env.Pipeline, env.Store, env.Pool, env.Metrics)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
