package ladderdto

import "time"

type PlayerRecord struct {
	PlayerID  int64   `json:"user_id"`
	Category  string  `json:"category"`
	Kills     int     `json:"kills"`
	Deaths    int     `json:"deaths"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	Winstreak int     `json:"winstreak"`
	Rating    int     `json:"elo"`
	KD        float64 `json:"kd"`
}

type AggregateStats struct {
	PlayerID      int64   `json:"user_id"`
	Categories    int     `json:"categories"`
	Kills         int     `json:"kills"`
	Deaths        int     `json:"deaths"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	BestWinstreak int     `json:"best_winstreak"`
	AverageRating float64 `json:"average_elo"`
	KD            float64 `json:"kd"`
}

type OverallEntry struct {
	Rank          int     `json:"rank"`
	PlayerID      int64   `json:"user_id"`
	AverageRating float64 `json:"average_elo"`
	Categories    int     `json:"categories"`
}

type RankedRecord struct {
	Rank int `json:"rank"`
	PlayerRecord
}

type Ban struct {
	PlayerID int64     `json:"user_id"`
	Reason   string    `json:"reason"`
	BannedAt time.Time `json:"banned_at"`
}

type HistoryEntry struct {
	ID        int64     `json:"id"`
	PlayerID  *int64    `json:"user_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchOutcome is a settled match with both updated records.
type MatchOutcome struct {
	Winner     PlayerRecord `json:"winner"`
	Loser      PlayerRecord `json:"loser"`
	Category   string       `json:"category"`
	KillMargin int          `json:"kills"`
	WinnerGain int          `json:"winner_gain"`
	LoserLoss  int          `json:"loser_loss"`
	HistoryID  int64        `json:"history_id"`
}
