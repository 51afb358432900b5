package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the provider response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached provider responses",
	Long:  "Deletes every cache entry, or only entries whose key starts with --prefix (a provider name such as oddsapi, or provider_endpoint).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		prefix, _ := cmd.Flags().GetString("prefix")

		fc, err := cache.NewFileCache(cfg.Cache.Dir, cfg.Cache.TTL)
		if err != nil {
			return eris.Wrap(err, "cache clear")
		}
		n, err := fc.Clear(prefix)
		if err != nil {
			return eris.Wrap(err, "cache clear")
		}
		zap.L().Info("cache cleared", zap.String("dir", cfg.Cache.Dir), zap.String("prefix", prefix), zap.Int("entries", n))
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries from %s.\n", n, cfg.Cache.Dir)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("prefix", "", "only clear entries whose key starts with this prefix")

	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
