package pvp

import (
	"time"

	"github.com/park285/pvp-ladder/internal/domain"
)

// State is the lifecycle position of a duel session.
type State string

const (
	StateProposed State = "PROPOSED"
	StateAccepted State = "ACCEPTED"
	StateDeclined State = "DECLINED"
	StateExpired  State = "EXPIRED"
	// StateSettling marks a session claimed by a resolver while the match is being written.
	StateSettling State = "SETTLING"
	StateSettled  State = "SETTLED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateDeclined, StateExpired, StateSettled:
		return true
	}
	return false
}

// Session is one two-party challenge. It is stored as JSON under duel:<id>.
type Session struct {
	ID           string          `json:"id"`
	ChallengerID int64           `json:"challenger_id"`
	OpponentID   int64           `json:"opponent_id"`
	Category     domain.Category `json:"category"`
	KillMargin   int             `json:"kills"`
	State        State           `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ExpiresAt    time.Time       `json:"expires_at"`

	WinnerID   int64 `json:"winner_id,omitempty"`
	LoserID    int64 `json:"loser_id,omitempty"`
	WinnerGain int   `json:"winner_gain,omitempty"`
	LoserLoss  int   `json:"loser_loss,omitempty"`
	HistoryID  int64 `json:"history_id,omitempty"`
}

// Participant reports whether playerID is one of the two sides.
func (s *Session) Participant(playerID int64) bool {
	return s.ChallengerID == playerID || s.OpponentID == playerID
}

func (s *Session) overdue(now time.Time) bool {
	return s.State == StateProposed && !now.Before(s.ExpiresAt)
}

// sides maps the resolver's choice onto winner and loser ids.
func (s *Session) sides(winnerIsChallenger bool) (winner, loser int64) {
	if winnerIsChallenger {
		return s.ChallengerID, s.OpponentID
	}
	return s.OpponentID, s.ChallengerID
}

func errSessionNotFound(id string) error {
	return domain.Errorf(domain.CodeNotFound, "duel %s not found or expired", id)
}
