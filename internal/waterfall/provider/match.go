package provider

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldTeam normalizes a team name for comparison: Unicode case folding and
// collapsed whitespace.
func FoldTeam(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// TeamsMatch reports whether two team names refer to the same team: either
// folded name contains the other, or both end in the same nickname and one
// city is the initials of the other. "Lakers" matches "Los Angeles Lakers"
// and "LA Clippers" matches "Los Angeles Clippers".
func TeamsMatch(a, b string) bool {
	fa, fb := FoldTeam(a), FoldTeam(b)
	if fa == "" || fb == "" {
		return false
	}
	if strings.Contains(fa, fb) || strings.Contains(fb, fa) {
		return true
	}
	return abbreviatedCity(strings.Fields(fa), strings.Fields(fb))
}

func abbreviatedCity(a, b []string) bool {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	if n == 0 {
		return false
	}
	ca, cb := a[:len(a)-n], b[:len(b)-n]
	return initials(ca, cb) || initials(cb, ca)
}

// initials reports whether short is a single word spelling the first letters
// of long, ignoring dots: "la" and "l.a." for "los angeles".
func initials(short, long []string) bool {
	if len(short) != 1 || len(long) < 2 {
		return false
	}
	abbr := []rune(strings.ReplaceAll(short[0], ".", ""))
	if len(abbr) != len(long) {
		return false
	}
	for i, w := range long {
		if []rune(w)[0] != abbr[i] {
			return false
		}
	}
	return true
}

// SameGame reports whether both the home and away teams match.
func SameGame(home, away, otherHome, otherAway string) bool {
	return TeamsMatch(home, otherHome) && TeamsMatch(away, otherAway)
}

// FindGame selects the item whose teams match home and away. An exact
// folded match wins outright. Otherwise exactly one TeamsMatch candidate is
// required; several candidates are ambiguous and yield no match.
func FindGame[T any](items []T, home, away string, teams func(T) (string, string)) (T, bool) {
	var zero T
	fh, fa := FoldTeam(home), FoldTeam(away)

	var fuzzy []int
	for i, it := range items {
		h, a := teams(it)
		if FoldTeam(h) == fh && FoldTeam(a) == fa {
			return it, true
		}
		if SameGame(home, away, h, a) {
			fuzzy = append(fuzzy, i)
		}
	}
	if len(fuzzy) == 1 {
		return items[fuzzy[0]], true
	}
	return zero, false
}

// FilterGame returns every item whose teams match home and away, applying
// the same exact-then-unique rule as FindGame across distinct matchups.
func FilterGame[T any](items []T, home, away string, teams func(T) (string, string)) []T {
	type matchup struct{ home, away string }

	exact := matchup{FoldTeam(home), FoldTeam(away)}
	groups := make(map[matchup][]T)
	var order []matchup
	for _, it := range items {
		h, a := teams(it)
		if !SameGame(home, away, h, a) {
			continue
		}
		m := matchup{FoldTeam(h), FoldTeam(a)}
		if _, ok := groups[m]; !ok {
			order = append(order, m)
		}
		groups[m] = append(groups[m], it)
	}
	if g, ok := groups[exact]; ok {
		return g
	}
	if len(order) == 1 {
		return groups[order[0]]
	}
	return nil
}
