package validate

import (
	"fmt"

	"github.com/omegalab/histcollect/internal/model"
)

// Default plausibility thresholds. Both can be overridden in config.
const (
	DefaultTolerance       = 0.9
	DefaultPropsPerGame    = 10
	DefaultMinPropCoverage = 0.8
)

// AnomalyKind labels a plausibility finding.
type AnomalyKind string

const (
	AnomalyLowCount      AnomalyKind = "low_count"
	AnomalyLowCoverage   AnomalyKind = "low_prop_coverage"
	AnomalyNoExpectation AnomalyKind = "no_expected_count"
)

// Anomaly is a non-fatal plausibility finding for a season.
type Anomaly struct {
	Sport    model.Sport `json:"sport"`
	Season   int         `json:"season"`
	Kind     AnomalyKind `json:"kind"`
	Expected float64     `json:"expected"`
	Actual   float64     `json:"actual"`
	Message  string      `json:"message"`
}

// Thresholds configures the season-level checks.
type Thresholds struct {
	// ExpectedGames per sport for a full season.
	ExpectedGames map[model.Sport]int
	// Tolerance is the fraction of ExpectedGames below which a season is
	// flagged.
	Tolerance float64
	// PropsPerGame is the prop count a fully covered game carries.
	PropsPerGame int
	// MinPropCoverage is the minimum props / (games × PropsPerGame).
	MinPropCoverage float64
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	expected := make(map[model.Sport]int, len(model.DefaultExpectedGames))
	for k, v := range model.DefaultExpectedGames {
		expected[k] = v
	}
	return Thresholds{
		ExpectedGames:   expected,
		Tolerance:       DefaultTolerance,
		PropsPerGame:    DefaultPropsPerGame,
		MinPropCoverage: DefaultMinPropCoverage,
	}
}

// PropCoverage returns props / (games × perGame), or 0 when there are no
// games.
func PropCoverage(props, games, perGame int) float64 {
	if games <= 0 || perGame <= 0 {
		return 0
	}
	return float64(props) / float64(games*perGame)
}

// Season compares persisted coverage against the thresholds. checkProps
// controls whether prop coverage is evaluated (the props phase may not have
// run). The result is informational; callers never fail on it.
func Season(cov model.Coverage, th Thresholds, checkProps bool) []Anomaly {
	var out []Anomaly

	expected, ok := th.ExpectedGames[cov.Sport]
	switch {
	case !ok || expected <= 0:
		out = append(out, Anomaly{
			Sport: cov.Sport, Season: cov.Season, Kind: AnomalyNoExpectation,
			Actual:  float64(cov.Games),
			Message: fmt.Sprintf("no expected game count configured for %s", cov.Sport),
		})
	default:
		floor := float64(expected) * th.Tolerance
		if float64(cov.Games) < floor {
			out = append(out, Anomaly{
				Sport: cov.Sport, Season: cov.Season, Kind: AnomalyLowCount,
				Expected: float64(expected), Actual: float64(cov.Games),
				Message: fmt.Sprintf("%s %d: %d games persisted, expected at least %.0f (%d × %.2f)",
					cov.Sport, cov.Season, cov.Games, floor, expected, th.Tolerance),
			})
		}
	}

	if checkProps {
		ratio := PropCoverage(cov.Props, cov.Games, th.PropsPerGame)
		if ratio < th.MinPropCoverage {
			out = append(out, Anomaly{
				Sport: cov.Sport, Season: cov.Season, Kind: AnomalyLowCoverage,
				Expected: th.MinPropCoverage, Actual: ratio,
				Message: fmt.Sprintf("%s %d: prop coverage %.1f%% below %.1f%% (%d props for %d games)",
					cov.Sport, cov.Season, ratio*100, th.MinPropCoverage*100, cov.Props, cov.Games),
			})
		}
	}
	return out
}
