package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/cache"
	"github.com/omegalab/histcollect/internal/collector"
	"github.com/omegalab/histcollect/internal/config"
	"github.com/omegalab/histcollect/internal/export"
	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/store"
	"github.com/omegalab/histcollect/internal/validate"
	"github.com/omegalab/histcollect/internal/waterfall"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect games for the given sports and seasons",
	Long: `Runs the collection phases (schedule, stats, odds, supplemental, props) for
every requested sport and season. Each phase only fetches what the store is
still missing, so an interrupted run picks up where it stopped.`,
	Example: `  histcollect collect --sport NBA --years 2024
  histcollect collect --sport all --years 2020-2024 --workers 4 --resume
  histcollect collect --sport NFL --years 2023 --phases schedule,odds --export-json out/nfl.json
  histcollect collect --sport all --years 2025 --resume --every "@daily"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := collectRequest(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			cfg.Collector.Workers, _ = cmd.Flags().GetInt("workers")
		}

		st, err := initStore(ctx, cmd, "collect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exportPath, _ := cmd.Flags().GetString("export-json")
		every, _ := cmd.Flags().GetString("every")
		out := cmd.OutOrStdout()

		once := func(ctx context.Context) error {
			return collectOnce(ctx, st, req, exportPath, out)
		}
		if every == "" {
			return once(ctx)
		}
		return collectEvery(ctx, every, once)
	},
}

// collectRequest builds the collector request from the command flags.
func collectRequest(cmd *cobra.Command) (collector.Request, error) {
	var req collector.Request

	sportFlag, _ := cmd.Flags().GetString("sport")
	sports, err := model.ParseSports(sportFlag)
	if err != nil {
		return req, eris.Wrap(err, "--sport")
	}
	yearsFlag, _ := cmd.Flags().GetString("years")
	seasons, err := model.ParseYears(yearsFlag)
	if err != nil {
		return req, eris.Wrap(err, "--years")
	}
	phaseFlag, _ := cmd.Flags().GetStringSlice("phases")
	phases, err := parsePhases(phaseFlag)
	if err != nil {
		return req, err
	}
	resume, _ := cmd.Flags().GetBool("resume")

	req.Sports = sports
	req.Seasons = seasons
	req.Phases = phases
	req.Resume = resume
	return req, nil
}

// parsePhases parses the --phases values. Empty means all phases.
func parsePhases(parts []string) ([]model.Phase, error) {
	var out []model.Phase
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, ok := model.ParsePhase(strings.ToLower(strings.TrimSpace(part)))
		if !ok {
			return nil, eris.Errorf("--phases: unknown phase %q", part)
		}
		out = append(out, p)
	}
	return out, nil
}

// collectOnce runs one collection with a fresh provider chain and prints the
// report. Cancellation leaves the store resumable and is not an error.
func collectOnce(ctx context.Context, st store.Store, req collector.Request, exportPath string, out io.Writer) error {
	c := buildCache(cfg)
	reg := buildRegistry(cfg)
	chain := waterfall.NewChain(loadWaterfall(cfg), reg, c, buildLimits(cfg, reg))

	col := collector.New(st, chain, validate.New(), collector.Options{
		Workers:    cfg.Collector.Workers,
		Thresholds: cfg.Collector.Thresholds(),
	})
	report, runErr := col.Run(ctx, req)
	if report != nil {
		printReport(out, report)
		printCircuits(out, chain.Breakers())
	}
	logCacheStats(c)
	if runErr != nil {
		if eris.Is(runErr, context.Canceled) {
			fmt.Fprintln(out, "Interrupted. Re-run with --resume to continue.")
			return nil
		}
		return eris.Wrap(runErr, "collect")
	}

	if exportPath != "" {
		games, err := export.Load(ctx, st, req.Sports, req.Seasons)
		if err == nil {
			err = export.WriteFile(exportPath, export.FormatJSON, games, time.Now())
		}
		if err != nil {
			zap.L().Error("collect: export failed", zap.String("path", exportPath), zap.Error(err))
			fmt.Fprintf(out, "Export to %s failed: %v\n", exportPath, err)
		} else {
			fmt.Fprintf(out, "Exported %d games to %s\n", len(games), exportPath)
		}
	}
	return nil
}

// loadWaterfall reads the provider order. Without a file, or when the file
// is unusable, the built-in order runs with the configured breaker settings.
func loadWaterfall(c *config.Config) *waterfall.Config {
	wcfg, err := waterfall.LoadConfig(c.Waterfall.ConfigPath)
	if err == nil && c.Waterfall.ConfigPath != "" {
		return wcfg
	}
	if err != nil {
		zap.L().Warn("waterfall config unusable, using built-in order",
			zap.String("path", c.Waterfall.ConfigPath), zap.Error(err))
		wcfg = waterfall.Default()
	}
	wcfg.Defaults.Circuit = waterfall.CircuitConfig{
		FailureThreshold: c.Waterfall.FailureThreshold,
		ResetTimeout:     c.Waterfall.ResetTimeout,
	}
	return wcfg
}

// printCircuits lists providers whose breaker is not closed at the end of a
// run.
func printCircuits(w io.Writer, states map[string]resilience.CircuitState) {
	var tripped []string
	for name, st := range states {
		if st != resilience.CircuitClosed {
			tripped = append(tripped, fmt.Sprintf("%s (%s)", name, st))
		}
	}
	if len(tripped) == 0 {
		return
	}
	sort.Strings(tripped)
	fmt.Fprintf(w, "Circuit breakers not closed: %s\n", strings.Join(tripped, ", "))
}

func logCacheStats(c cache.Cache) {
	fc, ok := c.(*cache.FileCache)
	if !ok {
		return
	}
	hits, misses := fc.Stats()
	zap.L().Info("collect: cache usage", zap.Int64("hits", hits), zap.Int64("misses", misses))
}

// collectEvery runs once immediately and then on the cron schedule until ctx
// is cancelled. Overlapping runs are skipped.
func collectEvery(ctx context.Context, spec string, once func(context.Context) error) error {
	log := zap.L().With(zap.String("every", spec))
	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := sched.AddFunc(spec, func() {
		if err := once(ctx); err != nil {
			log.Error("scheduled collection failed", zap.Error(err))
		}
	}); err != nil {
		return eris.Wrapf(err, "--every: invalid schedule %q", spec)
	}

	if err := once(ctx); err != nil {
		log.Error("collection failed", zap.Error(err))
	}
	if ctx.Err() != nil {
		return nil
	}

	sched.Start()
	log.Info("waiting for next scheduled collection")
	<-ctx.Done()
	<-sched.Stop().Done()
	log.Info("scheduler stopped")
	return nil
}

// printReport writes a per-season summary table followed by anomalies and
// providers disabled during the run.
func printReport(w io.Writer, r *collector.Report) {
	fmt.Fprintf(w, "Run %s (%s)\n\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SPORT\tSEASON\tPHASE\tFETCHED\tINSERTED\tENRICHED\tSKIPPED\tNOT FOUND\tINVALID\tERRORS\tCACHE")
	for _, s := range r.Seasons {
		for _, p := range s.Phases {
			c := p.Counters
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
				s.Sport, s.Season, p.Phase, c.Fetched, c.Inserted, c.Enriched,
				c.Skipped, c.NotFound, c.Invalid, c.Errors, c.CacheHits)
		}
	}
	t := r.Totals
	fmt.Fprintf(tw, "TOTAL\t\t\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		t.Fetched, t.Inserted, t.Enriched, t.Skipped, t.NotFound, t.Invalid, t.Errors, t.CacheHits)
	tw.Flush() //nolint:errcheck

	fmt.Fprintln(w)
	for _, s := range r.Seasons {
		line := fmt.Sprintf("%s %d: %s -> %s", s.Sport, s.Season, s.StartState, s.EndState)
		if s.Error != "" {
			line += " (" + s.Error + ")"
		}
		fmt.Fprintln(w, line)
	}

	if anomalies := r.Anomalies(); len(anomalies) > 0 {
		fmt.Fprintln(w, "\nAnomalies:")
		for _, a := range anomalies {
			fmt.Fprintf(w, "  %s %d [%s] %s\n", a.Sport, a.Season, a.Kind, a.Message)
		}
	}
	if len(r.Disabled) > 0 {
		fmt.Fprintf(w, "\nDisabled providers: %s\n", strings.Join(r.Disabled, ", "))
	}
}

// addCollectFlags registers the collect flags on fs.
func addCollectFlags(fs *pflag.FlagSet) {
	fs.String("sport", "all", "sport to collect: NBA, NFL or all")
	fs.String("years", "", "season or inclusive range, e.g. 2023 or 2020-2024")
	fs.Int("workers", 1, "concurrent per-game workers")
	fs.Bool("resume", false, "skip schedule chunks already collected")
	fs.String("export-json", "", "write the collected seasons to this JSON file")
	fs.StringSlice("phases", nil, "phases to run (schedule,stats,odds,supplemental,props); default all")
	fs.String("every", "", "re-run on a cron schedule, e.g. @daily or \"0 6 * * *\"")
}

func init() {
	addCollectFlags(collectCmd.Flags())
	_ = collectCmd.MarkFlagRequired("years")

	rootCmd.AddCommand(collectCmd)
}
