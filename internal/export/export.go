// Package export writes collected game records to JSON, CSV and XLSX files.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts json, csv or xlsx in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q (want json, csv or xlsx)", s)
	}
}

// FormatFromPath picks the format from the file extension, defaulting to
// JSON.
func FormatFromPath(path string) Format {
	if f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return f
	}
	return FormatJSON
}

// Document is the JSON export envelope.
type Document struct {
	ExportedAt time.Time          `json:"exported_at"`
	Count      int                `json:"count"`
	Games      []model.GameRecord `json:"games"`
}

// Columns is the flat column order of CSV and XLSX exports.
var Columns = []string{
	"game_id", "sport", "season", "date", "home_team", "away_team",
	"home_score", "away_score", "status", "venue", "attendance", "referee", "weather",
	"moneyline_home", "moneyline_away", "spread_line", "spread_home_odds", "spread_away_odds",
	"total_line", "total_over_odds", "total_under_odds",
	"has_stats", "has_odds", "has_supplemental", "has_props", "source_ref",
}

// cell is one typed value of a flat row. Nil pointers become empty cells.
type cell struct {
	s string
	i *int
	f *float64
	b *bool
}

func (c cell) String() string {
	switch {
	case c.i != nil:
		return strconv.Itoa(*c.i)
	case c.f != nil:
		return strconv.FormatFloat(*c.f, 'f', -1, 64)
	case c.b != nil:
		return strconv.FormatBool(*c.b)
	default:
		return c.s
	}
}

func row(g model.GameRecord) []cell {
	season := g.Season
	flags := []bool{g.HasStats, g.HasOdds, g.HasSupplemental, g.HasProps}
	return []cell{
		{s: g.ID}, {s: string(g.Sport)}, {i: &season}, {s: g.Date}, {s: g.HomeTeam}, {s: g.AwayTeam},
		{i: g.HomeScore}, {i: g.AwayScore}, {s: g.Status}, {s: g.Venue}, {i: g.Attendance}, {s: g.Referee}, {s: g.Weather},
		{f: g.MoneylineHome}, {f: g.MoneylineAway}, {f: g.SpreadLine}, {f: g.SpreadHomeOdds}, {f: g.SpreadAwayOdds},
		{f: g.TotalLine}, {f: g.TotalOverOdds}, {f: g.TotalUnderOdds},
		{b: &flags[0]}, {b: &flags[1]}, {b: &flags[2]}, {b: &flags[3]}, {s: g.SourceRef},
	}
}

// Row flattens g in Columns order.
func Row(g model.GameRecord) []string {
	cells := row(g)
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.String()
	}
	return out
}

// JSON writes games as an indented Document.
func JSON(w io.Writer, games []model.GameRecord, at time.Time) error {
	if games == nil {
		games = []model.GameRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(Document{ExportedAt: at.UTC(), Count: len(games), Games: games})
	return eris.Wrap(err, "export: encode json")
}

// CSV writes a header row followed by one row per game.
func CSV(w io.Writer, games []model.GameRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, g := range games {
		if err := cw.Write(Row(g)); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", g.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// SheetName is the worksheet XLSX exports write to.
const SheetName = "games"

// XLSX writes a single-sheet workbook with typed numeric cells.
func XLSX(w io.Writer, games []model.GameRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, name := range Columns {
		header.AddCell().SetString(name)
	}
	for _, g := range games {
		r := sheet.AddRow()
		for _, c := range row(g) {
			xc := r.AddCell()
			switch {
			case c.i != nil:
				xc.SetInt(*c.i)
			case c.f != nil:
				xc.SetFloat(*c.f)
			case c.b != nil:
				xc.SetBool(*c.b)
			default:
				xc.SetString(c.s)
			}
		}
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}

// Encode writes games in format.
func Encode(w io.Writer, format Format, games []model.GameRecord, at time.Time) error {
	switch format {
	case FormatJSON:
		return JSON(w, games, at)
	case FormatCSV:
		return CSV(w, games)
	case FormatXLSX:
		return XLSX(w, games)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

// WriteFile encodes games into path without ever leaving a partial file.
// The export is written to a temp file in the same directory; an existing
// file is moved aside to path.bak, restored if the final rename fails, and
// removed once the new file is in place.
func WriteFile(path string, format Format, games []model.GameRecord, at time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return eris.Wrap(err, "export: create temp file")
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := Encode(bw, format, games, at); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "export: flush temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "export: close temp file")
	}

	backup := path + ".bak"
	hadOld := false
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, backup); err != nil {
			os.Remove(tmpName) //nolint:errcheck
			return eris.Wrapf(err, "export: back up %s", path)
		}
		hadOld = true
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		if hadOld {
			if rerr := os.Rename(backup, path); rerr != nil {
				zap.L().Error("export: restore backup failed", zap.String("path", path), zap.Error(rerr))
			}
		}
		return eris.Wrapf(err, "export: rename into %s", path)
	}
	if hadOld {
		if err := os.Remove(backup); err != nil {
			zap.L().Warn("export: remove backup", zap.String("path", backup), zap.Error(err))
		}
	}
	zap.L().Info("export written",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("games", len(games)),
	)
	return nil
}

// Load reads the games to export, with field provenance attached. Empty
// sports or seasons select everything stored.
func Load(ctx context.Context, st store.Store, sports []model.Sport, seasons []int) ([]model.GameRecord, error) {
	all, err := st.Seasons(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "export: list seasons")
	}
	var games []model.GameRecord
	for _, ss := range all {
		if len(sports) > 0 && !slices.Contains(sports, ss.Sport) {
			continue
		}
		if len(seasons) > 0 && !slices.Contains(seasons, ss.Season) {
			continue
		}
		batch, err := st.ListGames(ctx, store.GameFilter{Sport: ss.Sport, Season: ss.Season})
		if err != nil {
			return nil, eris.Wrapf(err, "export: list %s %d", ss.Sport, ss.Season)
		}
		games = append(games, batch...)
	}
	for i := range games {
		prov, err := st.Provenance(ctx, games[i].ID)
		if err != nil {
			return nil, eris.Wrapf(err, "export: provenance %s", games[i].ID)
		}
		if len(prov) > 0 {
			games[i].Provenance = prov
		}
	}
	return games, nil
}
