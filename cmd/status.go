package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/omegalab/histcollect/internal/collector"
	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/store"
)

// seasonStatus is one row of the status table.
type seasonStatus struct {
	State    model.State
	Coverage *model.Coverage
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection coverage per sport and season",
	Long:  "Prints the collection state and field coverage of every stored season, or of the seasons selected by --sport and --years. Nothing is fetched or written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sports, seasons, err := parseSelection(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cmd, "status")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := loadStatus(ctx, st, sports, seasons)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintln(out, "No games collected.")
		} else {
			formatStatus(out, rows)
		}

		last, err := st.LastRun(ctx)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return eris.Wrap(err, "status: last run")
		}
		if last != nil {
			formatLastRun(out, last)
		}
		return nil
	},
}

// parseSelection reads the optional --sport and --years filters. Empty
// results select everything stored.
func parseSelection(cmd *cobra.Command) ([]model.Sport, []int, error) {
	var (
		sports  []model.Sport
		seasons []int
		err     error
	)
	if s, _ := cmd.Flags().GetString("sport"); s != "" {
		if sports, err = model.ParseSports(s); err != nil {
			return nil, nil, eris.Wrap(err, "--sport")
		}
	}
	if y, _ := cmd.Flags().GetString("years"); y != "" {
		if seasons, err = model.ParseYears(y); err != nil {
			return nil, nil, eris.Wrap(err, "--years")
		}
	}
	return sports, seasons, nil
}

// loadStatus derives the state of the selected seasons. With explicit years
// every requested sport and season is listed, collected or not.
func loadStatus(ctx context.Context, st store.Store, sports []model.Sport, seasons []int) ([]seasonStatus, error) {
	var keys []store.SportSeason
	if len(seasons) > 0 {
		if len(sports) == 0 {
			sports = model.CollectableSports
		}
		for _, sp := range sports {
			for _, y := range seasons {
				keys = append(keys, store.SportSeason{Sport: sp, Season: y})
			}
		}
	} else {
		stored, err := st.Seasons(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "status: list seasons")
		}
		for _, ss := range stored {
			if len(sports) == 0 || slices.Contains(sports, ss.Sport) {
				keys = append(keys, ss)
			}
		}
	}

	rows := make([]seasonStatus, 0, len(keys))
	for _, k := range keys {
		state, cov, err := collector.DeriveState(ctx, st, k.Sport, k.Season)
		if err != nil {
			return nil, err
		}
		rows = append(rows, seasonStatus{State: state, Coverage: cov})
	}
	return rows, nil
}

func formatStatus(w io.Writer, rows []seasonStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SPORT\tSEASON\tSTATE\tGAMES\tEXPECTED\tSTATS\tODDS\tSUPPLEMENTAL\tPROPS\tQUOTES\tPROP ROWS")
	for _, r := range rows {
		c := r.Coverage
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%.1f%%\t%d\t%d\n",
			c.Sport, c.Season, r.State, c.Games, c.ExpectedGames,
			c.Pct(c.WithStats), c.Pct(c.WithOdds), c.Pct(c.WithSupp), c.Pct(c.WithProps),
			c.Quotes, c.Props)
	}
	tw.Flush() //nolint:errcheck
}

func formatLastRun(w io.Writer, run *model.Run) {
	fmt.Fprintf(w, "\nLast run %s: %s, started %s", run.ID, run.Status, run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, ", took %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintln(w)
	if run.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", run.Error)
	}
}

func init() {
	statusCmd.Flags().String("sport", "", "limit to a sport: NBA, NFL or all")
	statusCmd.Flags().String("years", "", "limit to a season or range, e.g. 2023 or 2020-2024")

	rootCmd.AddCommand(statusCmd)
}
