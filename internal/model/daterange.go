package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DateLayout is the calendar date format used throughout the store.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days in UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates start and end to whole days.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: day(start), End: day(end)}
}

// ParseDateRange builds a range from two YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, eris.Wrapf(err, "model: parse start date %q", start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, eris.Wrapf(err, "model: parse end date %q", end)
	}
	if e.Before(s) {
		return DateRange{}, eris.Errorf("model: range %s..%s is reversed", start, end)
	}
	return NewDateRange(s, e), nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartDate formats the first day.
func (r DateRange) StartDate() string { return r.Start.Format(DateLayout) }

// EndDate formats the last day.
func (r DateRange) EndDate() string { return r.End.Format(DateLayout) }

func (r DateRange) String() string { return r.StartDate() + ".." + r.EndDate() }

// Contains reports whether the YYYY-MM-DD date falls inside the range.
func (r DateRange) Contains(date string) bool {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	return !d.Before(r.Start) && !d.After(r.End)
}

// Clamp limits the range to the days up to and including limit.
func (r DateRange) Clamp(limit time.Time) (DateRange, bool) {
	limit = day(limit)
	if r.Start.After(limit) {
		return DateRange{}, false
	}
	if r.End.After(limit) {
		r.End = limit
	}
	return r, true
}

// WeeklyChunks splits the range into consecutive chunks where each chunk
// ends seven days after it starts (or at the range end), and the next chunk
// starts the day after.
func (r DateRange) WeeklyChunks() []DateRange {
	var chunks []DateRange
	for cur := r.Start; !cur.After(r.End); {
		end := cur.AddDate(0, 0, 7)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, DateRange{Start: cur, End: end})
		cur = end.AddDate(0, 0, 1)
	}
	return chunks
}
