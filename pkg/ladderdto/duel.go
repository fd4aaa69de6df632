package ladderdto

import "time"

// Duel is the client view of a duel session.
type Duel struct {
	ID           string    `json:"id"`
	ChallengerID int64     `json:"challenger_id"`
	OpponentID   int64     `json:"opponent_id"`
	Category     string    `json:"category"`
	KillMargin   int       `json:"kills"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	WinnerID     int64     `json:"winner_id,omitempty"`
	LoserID      int64     `json:"loser_id,omitempty"`
	WinnerGain   int       `json:"winner_gain,omitempty"`
	LoserLoss    int       `json:"loser_loss,omitempty"`
}
