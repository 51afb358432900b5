package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Sport identifies a league.
type Sport string

// Known sports. Only NBA and NFL have season windows and providers; the rest
// are accepted by validation.
const (
	SportNBA   Sport = "NBA"
	SportNFL   Sport = "NFL"
	SportMLB   Sport = "MLB"
	SportNHL   Sport = "NHL"
	SportNCAAB Sport = "NCAAB"
	SportNCAAF Sport = "NCAAF"
)

// CollectableSports are the sports with season windows.
var CollectableSports = []Sport{SportNBA, SportNFL}

var validSports = map[Sport]bool{
	SportNBA: true, SportNFL: true, SportMLB: true,
	SportNHL: true, SportNCAAB: true, SportNCAAF: true,
}

// Valid reports whether s is a recognized sport.
func (s Sport) Valid() bool { return validSports[s] }

func (s Sport) String() string { return string(s) }

// ParseSport normalizes a sport name.
func ParseSport(s string) (Sport, error) {
	sp := Sport(strings.ToUpper(strings.TrimSpace(s)))
	if !sp.Valid() {
		return "", eris.Errorf("model: unknown sport %q", s)
	}
	return sp, nil
}

// ParseSports expands "all" or a comma-separated list into collectable sports.
func ParseSports(s string) ([]Sport, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") || s == "" {
		return append([]Sport(nil), CollectableSports...), nil
	}
	var out []Sport
	for _, part := range strings.Split(s, ",") {
		sp, err := ParseSport(part)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}

// DefaultExpectedGames is the regular-season game count per sport.
var DefaultExpectedGames = map[Sport]int{
	SportNBA: 1230,
	SportNFL: 285,
}

// Season windows for NBA seasons that deviated from the usual calendar.
var nbaWindows = map[int][2]string{
	2020: {"2019-10-22", "2020-10-11"},
	2021: {"2020-12-22", "2021-07-20"},
	2022: {"2021-10-19", "2022-06-16"},
	2023: {"2022-10-18", "2023-06-12"},
	2024: {"2023-10-24", "2024-06-17"},
	2025: {"2024-10-22", "2025-06-30"},
}

// SeasonWindow returns the date range a season is played in. NBA seasons
// are labelled by the year they end in, NFL seasons by the year they start in.
func SeasonWindow(sport Sport, season int) (DateRange, error) {
	switch sport {
	case SportNBA:
		if w, ok := nbaWindows[season]; ok {
			return ParseDateRange(w[0], w[1])
		}
		return NewDateRange(
			time.Date(season-1, time.October, 1, 0, 0, 0, 0, time.UTC),
			time.Date(season, time.June, 30, 0, 0, 0, 0, time.UTC),
		), nil
	case SportNFL:
		// Last day of February, leap years included.
		end := time.Date(season+1, time.March, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		return NewDateRange(time.Date(season, time.September, 1, 0, 0, 0, 0, time.UTC), end), nil
	default:
		return DateRange{}, eris.Errorf("model: no season window for %s", sport)
	}
}

// ParseYears parses "2023" or "2020-2024" into an inclusive list of seasons.
func ParseYears(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, eris.New("model: empty years")
	}
	from, to := s, s
	if i := strings.Index(s, "-"); i > 0 {
		from, to = s[:i], s[i+1:]
	}
	start, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return nil, eris.Wrapf(err, "model: parse years %q", s)
	}
	end, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return nil, eris.Wrapf(err, "model: parse years %q", s)
	}
	if end < start {
		return nil, eris.Errorf("model: year range %q is reversed", s)
	}
	years := make([]int, 0, end-start+1)
	for y := start; y <= end; y++ {
		years = append(years, y)
	}
	return years, nil
}
