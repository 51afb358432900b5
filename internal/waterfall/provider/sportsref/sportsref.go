// Package sportsref scrapes basketball-reference and pro-football-reference
// as the fallback source for schedules and box scores.
package sportsref

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/scrape"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

// Name is the provider name used in config and provenance.
const Name = "sportsref"

const (
	DefaultBasketballURL = "https://www.basketball-reference.com"
	DefaultFootballURL   = "https://www.pro-football-reference.com"

	// pageMemoSize bounds the per-run page memo. A season needs at most nine
	// NBA month pages.
	pageMemoSize = 16
)

var (
	_ provider.ScheduleSource = (*Source)(nil)
	_ provider.BoxScoreSource = (*Source)(nil)
)

// PageFetcher retrieves raw HTML. *scrape.Chain satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*scrape.Page, error)
}

// Option configures a Source.
type Option func(*Source)

// WithBaseURLs overrides the site roots.
func WithBaseURLs(basketball, football string) Option {
	return func(s *Source) {
		s.basketballURL = strings.TrimRight(basketball, "/")
		s.footballURL = strings.TrimRight(football, "/")
	}
}

// WithPageLimiter paces page fetches after the first within one call.
func WithPageLimiter(l *rate.Limiter) Option {
	return func(s *Source) {
		s.pace = l
	}
}

// Source is the scraped fallback provider.
type Source struct {
	fetcher       PageFetcher
	basketballURL string
	footballURL   string
	pace          *rate.Limiter

	mu    sync.Mutex
	pages map[string]*html.Node
}

// New creates a scraped source backed by fetcher.
func New(fetcher PageFetcher, opts ...Option) *Source {
	s := &Source{
		fetcher:       fetcher,
		basketballURL: DefaultBasketballURL,
		footballURL:   DefaultFootballURL,
		pace:          rate.NewLimiter(rate.Every(3*time.Second), 1),
		pages:         make(map[string]*html.Node),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Source) Name() string        { return Name }
func (s *Source) Kind() provider.Kind { return provider.KindScraped }

// page fetches and parses url. Schedule pages cover a month or a season, so
// weekly chunks reuse the parsed document.
func (s *Source) page(ctx context.Context, url string, fetched *int) (*html.Node, error) {
	s.mu.Lock()
	doc, ok := s.pages[url]
	s.mu.Unlock()
	if ok {
		return doc, nil
	}

	if *fetched > 0 && s.pace != nil {
		if err := s.pace.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "sportsref: page wait")
		}
	}
	*fetched++
	p, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err = html.Parse(strings.NewReader(p.HTML))
	if err != nil {
		return nil, resilience.NewFatalError(eris.Wrapf(err, "sportsref: parse %s", url), 0)
	}

	s.mu.Lock()
	if len(s.pages) >= pageMemoSize {
		clear(s.pages)
	}
	s.pages[url] = doc
	s.mu.Unlock()
	return doc, nil
}

// FetchSchedule lists games in r from the season schedule pages.
func (s *Source) FetchSchedule(ctx context.Context, sport model.Sport, r model.DateRange) ([]provider.RawGame, error) {
	var (
		games []provider.RawGame
		err   error
	)
	switch sport {
	case model.SportNBA:
		games, err = s.nbaSchedule(ctx, r)
	case model.SportNFL:
		games, err = s.nflSchedule(ctx, r)
	default:
		return nil, eris.Wrapf(resilience.ErrUnsupported, "%s: %s", Name, sport)
	}
	if err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no %s games %s", Name, sport, r)
	}
	return games, nil
}

// seasonOf returns the season whose window contains date.
func seasonOf(sport model.Sport, date time.Time) int {
	for _, season := range []int{date.Year(), date.Year() + 1, date.Year() - 1} {
		w, err := model.SeasonWindow(sport, season)
		if err == nil && w.Contains(date.Format(model.DateLayout)) {
			return season
		}
	}
	if sport == model.SportNBA && date.Month() >= time.August {
		return date.Year() + 1
	}
	if sport == model.SportNFL && date.Month() < time.August {
		return date.Year() - 1
	}
	return date.Year()
}

func (s *Source) nbaSchedule(ctx context.Context, r model.DateRange) ([]provider.RawGame, error) {
	var (
		out     []provider.RawGame
		fetched int
	)
	for m := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(r.End); m = m.AddDate(0, 1, 0) {
		month := strings.ToLower(m.Month().String())
		url := fmt.Sprintf("%s/leagues/NBA_%d_games-%s.html", s.basketballURL, seasonOf(model.SportNBA, m.AddDate(0, 0, 14)), month)
		doc, err := s.page(ctx, url, &fetched)
		if resilience.Classify(err) == resilience.OutcomeNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, row := range bodyRows(tableByID(doc, "schedule")) {
			g, ok := nbaGame(row)
			if ok && r.Contains(g.Date) {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func nbaGame(r row) (provider.RawGame, bool) {
	date, ok := parseDate(r["date_game"].text, 0)
	if !ok {
		return provider.RawGame{}, false
	}
	g := provider.RawGame{
		ExternalID: boxID(r["box_score_text"].href),
		Sport:      model.SportNBA,
		Date:       date,
		HomeTeam:   r["home_team_name"].text,
		AwayTeam:   r["visitor_team_name"].text,
		HomeScore:  parseInt(r["home_pts"].text),
		AwayScore:  parseInt(r["visitor_pts"].text),
		Venue:      r["arena_name"].text,
		Source:     Name,
	}
	if g.HomeScore != nil && g.AwayScore != nil {
		g.Status = "Final"
	}
	return g, g.HomeTeam != "" && g.AwayTeam != ""
}

func (s *Source) nflSchedule(ctx context.Context, r model.DateRange) ([]provider.RawGame, error) {
	var (
		out     []provider.RawGame
		fetched int
	)
	first, last := seasonOf(model.SportNFL, r.Start), seasonOf(model.SportNFL, r.End)
	for season := first; season <= last; season++ {
		url := fmt.Sprintf("%s/years/%d/games.htm", s.footballURL, season)
		doc, err := s.page(ctx, url, &fetched)
		if resilience.Classify(err) == resilience.OutcomeNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, row := range bodyRows(tableByID(doc, "games")) {
			g, ok := nflGame(row, season)
			if ok && r.Contains(g.Date) {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

// nflGame maps a winner/loser row to home/away. "@" in game_location means
// the winner was the visiting team.
func nflGame(r row, season int) (provider.RawGame, bool) {
	date, ok := parseDate(r["game_date"].text, season)
	if !ok {
		date, ok = parseDate(r["boxscore_word"].csk, season)
	}
	if !ok {
		return provider.RawGame{}, false
	}
	winner, loser := r["winner"].text, r["loser"].text
	if winner == "" {
		winner, loser = r["visitor_team"].text, r["home_team"].text
	}
	winPts, losePts := parseInt(r["pts_win"].text), parseInt(r["pts_lose"].text)

	g := provider.RawGame{
		ExternalID: boxID(r["boxscore_word"].href),
		Sport:      model.SportNFL,
		Date:       date,
		HomeTeam:   winner,
		AwayTeam:   loser,
		HomeScore:  winPts,
		AwayScore:  losePts,
		Source:     Name,
	}
	if r["game_location"].text == "@" {
		g.HomeTeam, g.AwayTeam = loser, winner
		g.HomeScore, g.AwayScore = losePts, winPts
	}
	if g.HomeScore != nil && g.AwayScore != nil {
		g.Status = "Final"
	}
	return g, g.HomeTeam != "" && g.AwayTeam != ""
}

// FetchBoxScore scrapes the box score page for rec. When rec did not come
// from this source, the schedule page is used to find the box score id.
func (s *Source) FetchBoxScore(ctx context.Context, rec model.GameRecord) (*provider.RawStats, error) {
	id, ok := strings.CutPrefix(rec.SourceRef, Name+":")
	if !ok || id == "" {
		var err error
		if id, err = s.findBoxID(ctx, rec); err != nil {
			return nil, err
		}
	}

	var url string
	switch rec.Sport {
	case model.SportNBA:
		url = fmt.Sprintf("%s/boxscores/%s.html", s.basketballURL, id)
	case model.SportNFL:
		url = fmt.Sprintf("%s/boxscores/%s.htm", s.footballURL, id)
	default:
		return nil, eris.Wrapf(resilience.ErrUnsupported, "%s: %s", Name, rec.Sport)
	}
	fetched := 1
	doc, err := s.page(ctx, url, &fetched)
	if err != nil {
		return nil, err
	}

	st := &provider.RawStats{Source: Name, Status: "Final"}
	if scores := scoreboxScores(doc); len(scores) == 2 {
		st.AwayScore, st.HomeScore = scores[0], scores[1]
	}
	st.Attendance = parseInt(metaValue(doc, "Attendance"))
	if rec.Sport == model.SportNBA {
		st.Away, st.Home = nbaTeamTotals(doc)
	} else {
		st.Away, st.Home = nflTeamStats(doc)
	}
	if st.HomeScore == nil && len(st.Home) == 0 && len(st.Away) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: empty box score %s", Name, id)
	}
	return st, nil
}

func (s *Source) findBoxID(ctx context.Context, rec model.GameRecord) (string, error) {
	d, err := time.Parse(model.DateLayout, rec.Date)
	if err != nil {
		return "", resilience.NewFatalError(eris.Wrapf(err, "%s: game date %q", Name, rec.Date), 0)
	}
	games, err := s.FetchSchedule(ctx, rec.Sport, model.NewDateRange(d, d))
	if err != nil {
		return "", err
	}
	g, ok := provider.FindGame(games, rec.HomeTeam, rec.AwayTeam, func(g provider.RawGame) (string, string) {
		return g.HomeTeam, g.AwayTeam
	})
	if !ok || g.ExternalID == "" {
		return "", eris.Wrapf(resilience.ErrNotFound, "%s: no box score link for %s", Name, rec.ID)
	}
	return g.ExternalID, nil
}

// scoreboxScores returns the final scores in page order (visitor, home).
func scoreboxScores(doc *html.Node) []*int {
	box := findFirst(doc, func(n *html.Node) bool { return n.Data == "div" && hasClass(n, "scorebox") })
	if box == nil {
		return nil
	}
	var out []*int
	for _, n := range findAll(box, func(n *html.Node) bool { return n.Data == "div" && hasClass(n, "score") }) {
		out = append(out, parseInt(textOf(n)))
	}
	return out
}

// metaValue returns the text after a bold label such as "Attendance". The
// colon may sit inside or after the <strong> element.
func metaValue(doc *html.Node, label string) string {
	strong := findFirst(doc, func(n *html.Node) bool {
		return n.Data == "strong" && strings.HasPrefix(textOf(n), label)
	})
	if strong == nil || strong.Parent == nil {
		return ""
	}
	v := strings.TrimPrefix(textOf(strong.Parent), label)
	return strings.TrimSpace(strings.TrimLeft(v, ": "))
}

var basicBoxID = regexp.MustCompile(`^box-[A-Z]{3}-game-basic$`)

// nbaTeamTotals reads the tfoot totals of both basic box score tables. The
// visitor's table comes first.
func nbaTeamTotals(doc *html.Node) (away, home map[string]float64) {
	tables := findAll(doc, func(n *html.Node) bool {
		return n.Data == "table" && basicBoxID.MatchString(attr(n, "id"))
	})
	if len(tables) != 2 {
		return nil, nil
	}
	return numericRow(footRow(tables[0])), numericRow(footRow(tables[1]))
}

func numericRow(r row) map[string]float64 {
	out := make(map[string]float64)
	for k, c := range r {
		if v, ok := parseFloat(c.text); ok && v >= 0 {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// nflTeamStats reads the team_stats table. Compound cells like "30-140-1"
// under "Rush-Yds-TDs" are split into rush, rush_yds and rush_tds.
func nflTeamStats(doc *html.Node) (away, home map[string]float64) {
	away, home = make(map[string]float64), make(map[string]float64)
	for _, r := range bodyRows(tableByID(doc, "team_stats")) {
		label := r["stat"].text
		if label == "" {
			continue
		}
		splitStat(away, label, r["vis_stat"].text)
		splitStat(home, label, r["home_stat"].text)
	}
	if len(away) == 0 && len(home) == 0 {
		return nil, nil
	}
	return away, home
}

func splitStat(dst map[string]float64, label, value string) {
	if v, ok := parseFloat(value); ok {
		if v >= 0 {
			dst[statKey(label)] = v
		}
		return
	}
	labels, values := strings.Split(label, "-"), strings.Split(value, "-")
	if len(labels) != len(values) {
		return
	}
	prefix := statKey(labels[0])
	for i, l := range labels {
		v, ok := parseFloat(values[i])
		if !ok {
			continue
		}
		key := prefix
		if i > 0 {
			key += "_" + statKey(l)
		}
		dst[key] = v
	}
}

func statKey(label string) string {
	var sb strings.Builder
	for _, f := range strings.Fields(strings.ToLower(label)) {
		if sb.Len() > 0 {
			sb.WriteByte('_')
		}
		sb.WriteString(strings.Trim(f, ".:()"))
	}
	return sb.String()
}

func boxID(href string) string {
	if href == "" {
		return ""
	}
	base := path.Base(href)
	return strings.TrimSuffix(base, path.Ext(base))
}

func parseInt(s string) *int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// parseDate accepts the date formats used across both sites. Month-day
// dates without a year take it from the NFL season: January and February
// games belong to the following calendar year.
func parseDate(s string, season int) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range []string{model.DateLayout, "Mon, Jan 2, 2006", "Jan 2, 2006", "January 2, 2006", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(model.DateLayout), true
		}
	}
	if len(s) >= 8 {
		if t, err := time.Parse("20060102", s[:8]); err == nil {
			return t.Format(model.DateLayout), true
		}
	}
	if season == 0 {
		return "", false
	}
	for _, layout := range []string{"January 2", "Jan 2"} {
		if t, err := time.Parse(layout, s); err == nil {
			year := season
			if t.Month() < time.August {
				year++
			}
			return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Format(model.DateLayout), true
		}
	}
	return "", false
}
