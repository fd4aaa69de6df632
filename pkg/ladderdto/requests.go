package ladderdto

type PlayerRequest struct {
	PlayerID int64 `json:"player_id"`
}

type BanRequest struct {
	PlayerID int64  `json:"player_id"`
	Reason   string `json:"reason"`
}

type EditStatsRequest struct {
	PlayerID  int64  `json:"player_id"`
	Category  string `json:"category"`
	Kills     *int   `json:"kills,omitempty"`
	Deaths    *int   `json:"deaths,omitempty"`
	Wins      *int   `json:"wins,omitempty"`
	Losses    *int   `json:"losses,omitempty"`
	Winstreak *int   `json:"winstreak,omitempty"`
	Rating    *int   `json:"elo,omitempty"`
}

type ResetStatsRequest struct {
	PlayerID int64  `json:"player_id"`
	Category string `json:"category"`
}

// ReportMatchRequest omits category and kills to get sword and 1.
type ReportMatchRequest struct {
	WinnerID int64  `json:"winner_id"`
	LoserID  int64  `json:"loser_id"`
	Category string `json:"category,omitempty"`
	Kills    *int   `json:"kills,omitempty"`
}

type ProposeDuelRequest struct {
	OpponentID int64  `json:"opponent_id"`
	Category   string `json:"category,omitempty"`
	Kills      *int   `json:"kills,omitempty"`
}

type RespondDuelRequest struct {
	Accept bool `json:"accept"`
}

type ResolveDuelRequest struct {
	WinnerIsChallenger bool `json:"winner_is_challenger"`
}

type RegisterResponse struct {
	Records []PlayerRecord `json:"records"`
	Message string         `json:"message"`
}

type RemoveResponse struct {
	Removed int    `json:"removed"`
	Message string `json:"message"`
}

type BanResponse struct {
	Ban     *Ban   `json:"ban,omitempty"`
	Message string `json:"message"`
}

type BansResponse struct {
	Bans    []Ban  `json:"bans"`
	Message string `json:"message,omitempty"`
}

type RecordResponse struct {
	Record  PlayerRecord `json:"record"`
	Message string       `json:"message"`
}

type MatchResponse struct {
	Outcome MatchOutcome `json:"outcome"`
	Message string       `json:"message"`
}

type DuelResponse struct {
	Duel    Duel          `json:"duel"`
	Outcome *MatchOutcome `json:"outcome,omitempty"`
	Message string        `json:"message,omitempty"`
}

// StatsResponse carries Record for a category query and Aggregate otherwise.
type StatsResponse struct {
	Record    *PlayerRecord   `json:"record,omitempty"`
	Aggregate *AggregateStats `json:"aggregate,omitempty"`
}

type LeaderboardResponse struct {
	Category string         `json:"category,omitempty"`
	Records  []RankedRecord `json:"records,omitempty"`
	Overall  []OverallEntry `json:"overall,omitempty"`
}

type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
	Message string         `json:"message,omitempty"`
}

type WipeResponse struct {
	Removed int    `json:"removed"`
	Message string `json:"message"`
}
