package model

import "time"

// FieldProvenance records which provider supplied a category of fields for a
// game.
type FieldProvenance struct {
	GameID    string    `json:"game_id"`
	Field     string    `json:"field"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetched_at"`
}
