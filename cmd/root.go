package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "brandintel",
	Short: "Brand intelligence pipeline service",
	Long:  "Scrapes brand websites with a headless browser pool, derives brand summaries, competitor sets, competitor analyses, and a market kernel via LLM synthesis, and serves them over an authenticated HTTP API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
