package provider

import (
	"strings"
	"time"
	_ "time/tzdata" // game dates are US Eastern even on hosts without zoneinfo

	"github.com/omegalab/histcollect/internal/model"
)

// Eastern is the zone US leagues schedule games in. A 8:20pm ET kickoff is
// already the next day in UTC, so providers convert timestamps here before
// taking the calendar date.
var Eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GameDate converts a provider date to YYYY-MM-DD. Plain dates pass through;
// RFC 3339 timestamps are converted to Eastern time first.
func GameDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == len(model.DateLayout) {
		if _, err := time.Parse(model.DateLayout, s); err == nil {
			return s, true
		}
		return "", false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(Eastern).Format(model.DateLayout), true
		}
	}
	return "", false
}
