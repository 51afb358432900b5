package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/config"
	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/store"
)

// applyStoreFlags copies --driver and --db over the loaded store config.
// --db is a file path for sqlite and a connection string for postgres.
func applyStoreFlags(cmd *cobra.Command, sc *config.StoreConfig) {
	if f := cmd.Flags().Lookup("driver"); f != nil && f.Changed {
		sc.Driver = f.Value.String()
	}
	if f := cmd.Flags().Lookup("db"); f != nil && f.Changed {
		if sc.Driver == "postgres" {
			sc.DatabaseURL = f.Value.String()
		} else {
			sc.Path = f.Value.String()
		}
	}
}

// openStore opens and migrates the configured store. A failure here is the
// only fatal error of a run.
func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case "sqlite":
		if dir := filepath.Dir(sc.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "create store dir %s", dir)
			}
		}
		st, err = store.NewSQLite(sc.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", sc.Driver)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	zap.L().Debug("store opened", zap.String("driver", sc.Driver))
	return st, nil
}

// openStoreReadOnly opens an existing store without creating or migrating
// it.
func openStoreReadOnly(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case "sqlite":
		st, err = store.OpenSQLiteReadOnly(sc.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
			ReadOnly: true,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", sc.Driver)
	}
	zap.L().Debug("store opened read-only", zap.String("driver", sc.Driver))
	return st, nil
}

// initStore applies the store flags of cmd, validates the config for mode
// and opens the store. The status and export modes only read.
func initStore(ctx context.Context, cmd *cobra.Command, mode string) (store.Store, error) {
	applyStoreFlags(cmd, &cfg.Store)
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if mode == "status" || mode == "export" {
		return openStoreReadOnly(ctx, cfg.Store)
	}
	return openStore(ctx, cfg.Store)
}

// -- store clear --

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Maintain the record store",
}

var storeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete collected games, odds, props and chunk log",
	Long:  "Deletes every collected row, or only those of --sport. Run history is kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return eris.New("store clear: refusing to delete without --yes")
		}

		var sport model.Sport
		if s, _ := cmd.Flags().GetString("sport"); s != "" {
			sp, err := model.ParseSport(s)
			if err != nil {
				return err
			}
			sport = sp
		}

		st, err := initStore(ctx, cmd, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.Clear(ctx, sport)
		if err != nil {
			return eris.Wrap(err, "store clear")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d games.\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("driver", "", "store driver: sqlite or postgres (overrides store.driver)")
	rootCmd.PersistentFlags().String("db", "", "sqlite path or postgres URL (overrides store.path / store.database_url)")

	storeClearCmd.Flags().String("sport", "", "only clear this sport")
	storeClearCmd.Flags().Bool("yes", false, "confirm deletion")

	storeCmd.AddCommand(storeClearCmd)
	rootCmd.AddCommand(storeCmd)
}
