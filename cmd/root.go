package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:     "histcollect",
	Short:   "Historical sports game collector",
	Long:    "Collects NBA and NFL game schedules, box scores, betting odds, player props and supplemental details from a prioritized chain of sources into a resumable local store.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Root().PersistentFlags()
		path, _ := flags.GetString("config")
		c, err := config.LoadFrom(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if lvl, _ := flags.GetString("log-level"); lvl != "" {
			c.Log.Level = lvl
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.L().Debug("config loaded",
			zap.String("version", version),
			zap.String("config_file", path),
			zap.String("store_driver", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./config.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level: debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
