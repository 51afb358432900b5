package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/omegalab/histcollect/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored games to JSON, CSV or XLSX",
	Long:  "Writes the stored games, optionally limited by --sport and --years, to --out. The file is replaced atomically; an existing export is kept if writing fails.",
	Example: `  histcollect export --out exports/all.json
  histcollect export --format csv --out exports/nba_2024.csv --sport NBA --years 2024
  histcollect export --out exports/nfl.xlsx --sport NFL --years 2020-2023`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		outPath, _ := cmd.Flags().GetString("out")
		format := export.FormatFromPath(outPath)
		if f, _ := cmd.Flags().GetString("format"); f != "" {
			parsed, err := export.ParseFormat(f)
			if err != nil {
				return err
			}
			format = parsed
		}
		sports, seasons, err := parseSelection(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cmd, "export")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		games, err := export.Load(ctx, st, sports, seasons)
		if err != nil {
			return err
		}
		if err := export.WriteFile(outPath, format, games, time.Now()); err != nil {
			return eris.Wrap(err, "export")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d games to %s (%s).\n", len(games), outPath, format)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "", "json, csv or xlsx (default: from the --out extension)")
	exportCmd.Flags().String("out", "", "output file path")
	exportCmd.Flags().String("sport", "", "limit to a sport: NBA, NFL or all")
	exportCmd.Flags().String("years", "", "limit to a season or range, e.g. 2023 or 2020-2024")
	_ = exportCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(exportCmd)
}
