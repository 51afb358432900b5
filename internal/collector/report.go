package collector

import (
	"time"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/validate"
)

// Counters tallies one phase. Only the writer goroutine mutates them.
type Counters struct {
	Fetched   int `json:"fetched"`
	Inserted  int `json:"inserted"`
	Enriched  int `json:"enriched"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	Invalid   int `json:"invalid"`
	CacheHits int `json:"cache_hits"`
	NotFound  int `json:"not_found"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Fetched += o.Fetched
	c.Inserted += o.Inserted
	c.Enriched += o.Enriched
	c.Skipped += o.Skipped
	c.Errors += o.Errors
	c.Invalid += o.Invalid
	c.CacheHits += o.CacheHits
	c.NotFound += o.NotFound
}

// PhaseReport is the outcome of one phase for one season.
type PhaseReport struct {
	Phase    model.Phase   `json:"phase"`
	Counters Counters      `json:"counters"`
	Duration time.Duration `json:"duration"`
}

// SeasonReport is the outcome of one (sport, season).
type SeasonReport struct {
	Sport      model.Sport        `json:"sport"`
	Season     int                `json:"season"`
	StartState model.State        `json:"start_state"`
	EndState   model.State        `json:"end_state"`
	Phases     []PhaseReport      `json:"phases"`
	Coverage   *model.Coverage    `json:"coverage,omitempty"`
	Anomalies  []validate.Anomaly `json:"anomalies,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Report is the result of a collection run.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Seasons    []SeasonReport `json:"seasons"`
	Totals     Counters       `json:"totals"`
	Disabled   []string       `json:"disabled_providers,omitempty"`
}

// Anomalies flattens every season's anomalies.
func (r *Report) Anomalies() []validate.Anomaly {
	var out []validate.Anomaly
	for _, s := range r.Seasons {
		out = append(out, s.Anomalies...)
	}
	return out
}
