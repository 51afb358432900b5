// Package validate is the single point where provider records are checked
// and converted into stored records.
package validate

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

// ValidationError explains why a record was rejected.
type ValidationError struct {
	Record string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("validate: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validate: %s: %s: %s", e.Record, e.Field, e.Reason)
}

func invalid(record, field, reason string, args ...any) *ValidationError {
	return &ValidationError{Record: record, Field: field, Reason: fmt.Sprintf(reason, args...)}
}

// Placeholder words that mark a record as test or sample data.
var sampleIndicators = []string{
	"sample", "test", "mock", "fake", "example", "demo",
	"placeholder", "xxx", "tbd", "n/a",
}

// earliestYear bounds plausible game dates from below.
const earliestYear = 2000

// Validator checks records against schema and plausibility rules.
type Validator struct {
	nowFunc func() time.Time
}

// New creates a Validator.
func New() *Validator {
	return &Validator{nowFunc: time.Now}
}

// Game validates a schedule entry for the given season and converts it into
// a GameRecord carrying only schedule-owned fields.
func (v *Validator) Game(raw provider.RawGame, season int) (model.GameRecord, error) {
	ref := raw.ExternalID
	if ref == "" {
		ref = raw.Date + " " + raw.AwayTeam + " @ " + raw.HomeTeam
	}

	if !raw.Sport.Valid() {
		return model.GameRecord{}, invalid(ref, "sport", "unknown sport %q", raw.Sport)
	}
	home, away := strings.TrimSpace(raw.HomeTeam), strings.TrimSpace(raw.AwayTeam)
	if home == "" {
		return model.GameRecord{}, invalid(ref, "home_team", "missing")
	}
	if away == "" {
		return model.GameRecord{}, invalid(ref, "away_team", "missing")
	}
	if strings.EqualFold(home, away) {
		return model.GameRecord{}, invalid(ref, "away_team", "same as home team %q", home)
	}
	if raw.Date == "" {
		return model.GameRecord{}, invalid(ref, "date", "missing")
	}
	d, err := time.Parse(model.DateLayout, raw.Date)
	if err != nil {
		return model.GameRecord{}, invalid(ref, "date", "malformed date %q", raw.Date)
	}
	if y := d.Year(); y < earliestYear || y > v.nowFunc().Year()+1 {
		return model.GameRecord{}, invalid(ref, "date", "implausible year %d", y)
	}
	window, err := model.SeasonWindow(raw.Sport, season)
	if err != nil {
		return model.GameRecord{}, invalid(ref, "season", "%v", err)
	}
	if !window.Contains(raw.Date) {
		return model.GameRecord{}, invalid(ref, "date", "%s outside %s season %d (%s)", raw.Date, raw.Sport, season, window)
	}
	if w := sampleWord(raw.ExternalID, home, away); w != "" {
		return model.GameRecord{}, invalid(ref, "teams", "looks like sample data (%q)", w)
	}
	if err := checkScores(ref, raw.HomeScore, raw.AwayScore, raw.Status); err != nil {
		return model.GameRecord{}, err
	}

	rec := model.GameRecord{
		ID:        model.GameID(raw.Sport, raw.Date, home, away),
		Date:      raw.Date,
		Sport:     raw.Sport,
		Season:    season,
		HomeTeam:  home,
		AwayTeam:  away,
		HomeScore: raw.HomeScore,
		AwayScore: raw.AwayScore,
		Status:    strings.TrimSpace(raw.Status),
		Venue:     strings.TrimSpace(raw.Venue),
	}
	if raw.ExternalID != "" {
		rec.SourceRef = raw.Source + ":" + raw.ExternalID
	}
	return rec, nil
}

// Stats validates a box score for game.
func (v *Validator) Stats(game model.GameRecord, raw *provider.RawStats) error {
	if raw == nil {
		return invalid(game.ID, "stats", "missing")
	}
	if raw.HomeScore == nil && raw.AwayScore == nil && len(raw.Home) == 0 && len(raw.Away) == 0 {
		return invalid(game.ID, "stats", "empty box score")
	}
	if err := checkScores(game.ID, raw.HomeScore, raw.AwayScore, raw.Status); err != nil {
		return err
	}
	for side, m := range map[string]map[string]float64{"home": raw.Home, "away": raw.Away} {
		for k, val := range m {
			if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 {
				return invalid(game.ID, side+"."+k, "implausible value %v", val)
			}
		}
	}
	if raw.Attendance != nil && *raw.Attendance < 0 {
		return invalid(game.ID, "attendance", "negative")
	}
	return nil
}

// Quote validates an odds quote and binds it to gameID.
func (v *Validator) Quote(gameID string, raw provider.RawQuote) (model.OddsQuote, error) {
	if gameID == "" {
		return model.OddsQuote{}, invalid("", "game_id", "missing")
	}
	if raw.Source == "" {
		return model.OddsQuote{}, invalid(gameID, "source", "missing")
	}
	switch raw.MarketType {
	case model.MarketMoneyline, model.MarketSpread, model.MarketTotal:
	default:
		return model.OddsQuote{}, invalid(gameID, "market_type", "unknown market %q", raw.MarketType)
	}
	prices := []*float64{raw.HomeOdds, raw.AwayOdds, raw.OverOdds, raw.UnderOdds}
	if err := checkPrices(gameID, raw.MarketType, prices...); err != nil {
		return model.OddsQuote{}, err
	}
	if raw.Line != nil && (math.IsNaN(*raw.Line) || math.IsInf(*raw.Line, 0)) {
		return model.OddsQuote{}, invalid(gameID, "line", "not a number")
	}
	bookmaker := raw.Bookmaker
	if bookmaker == "" {
		bookmaker = "unknown"
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = v.nowFunc().UTC()
	}
	return model.OddsQuote{
		GameID:     gameID,
		Bookmaker:  bookmaker,
		MarketType: raw.MarketType,
		Line:       raw.Line,
		HomeOdds:   raw.HomeOdds,
		AwayOdds:   raw.AwayOdds,
		OverOdds:   raw.OverOdds,
		UnderOdds:  raw.UnderOdds,
		Source:     raw.Source,
		Timestamp:  ts,
	}, nil
}

// Prop validates a player prop and binds it to gameID.
func (v *Validator) Prop(gameID string, raw provider.RawProp) (model.PropRecord, error) {
	if gameID == "" {
		return model.PropRecord{}, invalid("", "game_id", "missing")
	}
	player := strings.TrimSpace(raw.Player)
	if player == "" {
		return model.PropRecord{}, invalid(gameID, "player", "missing")
	}
	if w := sampleWord(player); w != "" {
		return model.PropRecord{}, invalid(gameID, "player", "looks like sample data (%q)", w)
	}
	if raw.Market == "" {
		return model.PropRecord{}, invalid(gameID, "market", "missing")
	}
	if raw.Source == "" {
		return model.PropRecord{}, invalid(gameID, "source", "missing")
	}
	if err := checkPrices(gameID, raw.Market, raw.OverOdds, raw.UnderOdds); err != nil {
		return model.PropRecord{}, err
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = v.nowFunc().UTC()
	}
	return model.PropRecord{
		GameID:    gameID,
		Player:    player,
		Market:    raw.Market,
		Line:      raw.Line,
		OverOdds:  raw.OverOdds,
		UnderOdds: raw.UnderOdds,
		Bookmaker: raw.Bookmaker,
		Source:    raw.Source,
		Timestamp: ts,
	}, nil
}

// Supplement validates supplemental answers and returns a copy of game with
// only the missing fields filled. Fields outside missing, and fields that
// already hold a value, are never touched.
func (v *Validator) Supplement(game model.GameRecord, raw *provider.RawSupplement, missing []string) (model.GameRecord, []string, error) {
	if raw.Empty() {
		return game, nil, invalid(game.ID, "supplemental", "no fields answered")
	}
	want := make(map[string]bool, len(missing))
	for _, f := range missing {
		want[f] = true
	}

	var filled []string
	if want[model.FieldVenue] && game.Venue == "" && raw.Venue != nil && usable(*raw.Venue) {
		game.Venue = strings.TrimSpace(*raw.Venue)
		filled = append(filled, model.FieldVenue)
	}
	if want[model.FieldAttendance] && game.Attendance == nil && raw.Attendance != nil {
		if *raw.Attendance <= 0 || *raw.Attendance > 200000 {
			return game, nil, invalid(game.ID, "attendance", "implausible value %d", *raw.Attendance)
		}
		n := *raw.Attendance
		game.Attendance = &n
		filled = append(filled, model.FieldAttendance)
	}
	if want[model.FieldReferee] && game.Referee == "" && raw.Referee != nil && usable(*raw.Referee) {
		game.Referee = strings.TrimSpace(*raw.Referee)
		filled = append(filled, model.FieldReferee)
	}
	if want[model.FieldWeather] && game.Weather == "" && raw.Weather != nil && usable(*raw.Weather) {
		game.Weather = strings.TrimSpace(*raw.Weather)
		filled = append(filled, model.FieldWeather)
	}
	if len(filled) == 0 {
		return game, nil, invalid(game.ID, "supplemental", "no usable answer for %s", strings.Join(missing, ","))
	}
	return game, filled, nil
}

func usable(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && sampleWord(s) == "" && !strings.EqualFold(s, "unknown") && !strings.EqualFold(s, "null")
}

func sampleWord(fields ...string) string {
	for _, f := range fields {
		lower := strings.ToLower(f)
		for _, w := range sampleIndicators {
			if strings.Contains(lower, w) {
				return w
			}
		}
	}
	return ""
}

func checkScores(ref string, home, away *int, status string) error {
	if home != nil && *home < 0 {
		return invalid(ref, "home_score", "negative")
	}
	if away != nil && *away < 0 {
		return invalid(ref, "away_score", "negative")
	}
	if home != nil && away != nil && *home == 0 && *away == 0 && strings.EqualFold(strings.TrimSpace(status), "final") {
		return invalid(ref, "score", "0-0 final score")
	}
	return nil
}

func checkPrices(ref, market string, prices ...*float64) error {
	priced := false
	for _, p := range prices {
		if p == nil {
			continue
		}
		if math.IsNaN(*p) || math.IsInf(*p, 0) || *p == 0 {
			return invalid(ref, market, "invalid price %v", *p)
		}
		priced = true
	}
	if !priced {
		return invalid(ref, market, "no prices")
	}
	return nil
}
