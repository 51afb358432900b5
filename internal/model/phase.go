package model

// Phase is one enrichment stage. Each phase owns a set of columns and a
// completion flag on GameRecord.
type Phase string

// Phases in execution order.
const (
	PhaseSchedule     Phase = "schedule"
	PhaseStats        Phase = "stats"
	PhaseOdds         Phase = "odds"
	PhaseSupplemental Phase = "supplemental"
	PhaseProps        Phase = "props"
)

// Phases lists every phase in the order the collector runs them.
var Phases = []Phase{PhaseSchedule, PhaseStats, PhaseOdds, PhaseSupplemental, PhaseProps}

// ParsePhase returns the phase with the given name.
func ParsePhase(s string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// State is the collection state of a (sport, season).
type State string

// States in lifecycle order.
const (
	StatePending            State = "PENDING"
	StateScheduled          State = "SCHEDULED"
	StateStatsEnriched      State = "STATS_ENRICHED"
	StateOddsEnriched       State = "ODDS_ENRICHED"
	StateSupplementEnriched State = "SUPPLEMENT_ENRICHED"
	StatePropsCollected     State = "PROPS_COLLECTED"
	StateValidated          State = "VALIDATED"
)

var stateOrder = map[State]int{
	StatePending:            0,
	StateScheduled:          1,
	StateStatsEnriched:      2,
	StateOddsEnriched:       3,
	StateSupplementEnriched: 4,
	StatePropsCollected:     5,
	StateValidated:          6,
}

// AtLeast reports whether s is at or beyond other in the lifecycle.
func (s State) AtLeast(other State) bool {
	return stateOrder[s] >= stateOrder[other]
}

// CompletedState is the state reached once p has finished for every record.
func CompletedState(p Phase) State {
	switch p {
	case PhaseSchedule:
		return StateScheduled
	case PhaseStats:
		return StateStatsEnriched
	case PhaseOdds:
		return StateOddsEnriched
	case PhaseSupplemental:
		return StateSupplementEnriched
	case PhaseProps:
		return StatePropsCollected
	default:
		return StatePending
	}
}

// Coverage summarizes persisted progress for a (sport, season).
type Coverage struct {
	Sport         Sport `json:"sport"`
	Season        int   `json:"season"`
	Games         int   `json:"games"`
	WithStats     int   `json:"with_stats"`
	WithOdds      int   `json:"with_odds"`
	WithSupp      int   `json:"with_supplemental"`
	WithProps     int   `json:"with_props"`
	Props         int   `json:"props"`
	Quotes        int   `json:"quotes"`
	ExpectedGames int   `json:"expected_games"`
}

// Pct returns n as a percentage of the game count.
func (c Coverage) Pct(n int) float64 {
	if c.Games == 0 {
		return 0
	}
	return float64(n) / float64(c.Games) * 100
}

// State derives the collection state from the flag counts: a phase is
// complete once every persisted game carries its flag.
func (c Coverage) State() State {
	if c.Games == 0 {
		return StatePending
	}
	state := StateScheduled
	for _, step := range []struct {
		n int
		s State
	}{
		{c.WithStats, StateStatsEnriched},
		{c.WithOdds, StateOddsEnriched},
		{c.WithSupp, StateSupplementEnriched},
		{c.WithProps, StatePropsCollected},
	} {
		if step.n < c.Games {
			return state
		}
		state = step.s
	}
	return state
}
