// Package supplemental asks language-model search APIs for game details that
// no structured source reported: venue, attendance, referee and weather.
package supplemental

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

const systemPrompt = `You are a sports records researcher. You answer questions about a single, already-played professional game.
Reply with one JSON object and nothing else. Use exactly the keys you are asked for.
Use null for any value you cannot confirm from a reliable source. Never guess.
- venue: the stadium or arena name as a string
- attendance: the announced attendance as an integer
- referee: the crew chief or referee of record as a string
- weather: a short description of game-time weather as a string (outdoor games only, null for domes and indoor arenas)`

var fieldHints = map[string]string{
	model.FieldVenue:      `"venue": string|null`,
	model.FieldAttendance: `"attendance": integer|null`,
	model.FieldReferee:    `"referee": string|null`,
	model.FieldWeather:    `"weather": string|null`,
}

// question renders the user prompt for the missing fields of game.
func question(game model.GameRecord, missing []string) string {
	keys := make([]string, 0, len(missing))
	for _, f := range missing {
		if h, ok := fieldHints[f]; ok {
			keys = append(keys, h)
		}
	}
	return fmt.Sprintf("%s game on %s: %s (away) at %s (home).\nReturn JSON with only these keys: {%s}",
		game.Sport, game.Date, game.AwayTeam, game.HomeTeam, strings.Join(keys, ", "))
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseAnswer decodes a model reply into a RawSupplement holding only the
// requested fields. A reply that answers nothing is reported as not found.
func parseAnswer(source, text string, missing []string) (*provider.RawSupplement, error) {
	body := cleanJSON(text)
	if body == "" {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: empty answer", source)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: unparseable answer: %v", source, err)
	}

	out := &provider.RawSupplement{Source: source}
	for _, f := range missing {
		v, ok := raw[f]
		if !ok {
			continue
		}
		switch f {
		case model.FieldVenue:
			out.Venue = stringValue(v)
		case model.FieldReferee:
			out.Referee = stringValue(v)
		case model.FieldWeather:
			out.Weather = stringValue(v)
		case model.FieldAttendance:
			out.Attendance = intValue(v)
		}
	}
	if out.Empty() {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no fields answered", source)
	}
	return out, nil
}

func stringValue(v json.RawMessage) *string {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// intValue accepts 19842, 19842.0 and "19,842".
func intValue(v json.RawMessage) *int {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		n := int(f)
		return &n
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil {
		return nil
	}
	return &n
}
