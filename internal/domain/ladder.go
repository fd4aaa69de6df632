package domain

import (
	"math"
	"strings"
	"time"
)

// Category is one of the fixed combat styles a record is tracked under.
type Category string

const (
	CategorySword   Category = "sword"
	CategoryAxe     Category = "axe"
	CategoryMace    Category = "mace"
	CategoryCrystal Category = "crystal"
	CategoryUHC     Category = "uhc"
)

// DefaultCategory is used when a caller omits the category.
const DefaultCategory = CategorySword

// DefaultRating is the rating every fresh or reset record starts from.
const DefaultRating = 1000

// DefaultBanReason is stored when a ban is issued without a reason.
const DefaultBanReason = "No reason provided"

// MaxKillMargin keeps counters within the 32-bit INTEGER columns.
const MaxKillMargin = math.MaxInt32

// ValidateKillMargin rejects margins that would shrink or overflow kill and death counters.
func ValidateKillMargin(m int) error {
	if m < 0 || m > MaxKillMargin {
		return Errorf(CodeInvalidArgument, "kill margin must be between 0 and %d, got %d", MaxKillMargin, m)
	}
	return nil
}

// Categories lists every known category in display order.
var Categories = []Category{CategorySword, CategoryAxe, CategoryMace, CategoryCrystal, CategoryUHC}

// ParseCategory normalizes s and checks it against the closed category set.
func ParseCategory(s string) (Category, error) {
	v := Category(strings.ToLower(strings.TrimSpace(s)))
	if v.Valid() {
		return v, nil
	}
	return "", Errorf(CodeInvalidCategory, "invalid category %q", s)
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// Action tags a ledger entry.
type Action string

const (
	ActionMatchReport Action = "match_report"
	ActionDuelWin     Action = "duel_win"
	ActionAdminEdit   Action = "admin_edit"
	ActionReset       Action = "reset"
)

// PlayerRecord holds one player's stats in one category.
type PlayerRecord struct {
	PlayerID  int64    `json:"user_id"`
	Category  Category `json:"category"`
	Kills     int      `json:"kills"`
	Deaths    int      `json:"deaths"`
	Wins      int      `json:"wins"`
	Losses    int      `json:"losses"`
	Winstreak int      `json:"winstreak"`
	Rating    int      `json:"elo"`
}

// NewPlayerRecord returns a zero-stat record at the default rating.
func NewPlayerRecord(playerID int64, cat Category) PlayerRecord {
	return PlayerRecord{PlayerID: playerID, Category: cat, Rating: DefaultRating}
}

// KD is kills over deaths rounded to two places, or kills when there are no deaths.
func (r PlayerRecord) KD() float64 { return kdRatio(r.Kills, r.Deaths) }

// StatsPatch carries the fields an admin edit overwrites. Nil fields are left alone.
type StatsPatch struct {
	Kills     *int `json:"kills,omitempty"`
	Deaths    *int `json:"deaths,omitempty"`
	Wins      *int `json:"wins,omitempty"`
	Losses    *int `json:"losses,omitempty"`
	Winstreak *int `json:"winstreak,omitempty"`
	Rating    *int `json:"elo,omitempty"`
}

func (p StatsPatch) Empty() bool {
	return p.Kills == nil && p.Deaths == nil && p.Wins == nil &&
		p.Losses == nil && p.Winstreak == nil && p.Rating == nil
}

// ApplyTo overwrites the supplied fields on r. Values are floored at 0.
func (p StatsPatch) ApplyTo(r *PlayerRecord) {
	set := func(dst *int, v *int) {
		if v == nil {
			return
		}
		*dst = max(0, *v)
	}
	set(&r.Kills, p.Kills)
	set(&r.Deaths, p.Deaths)
	set(&r.Wins, p.Wins)
	set(&r.Losses, p.Losses)
	set(&r.Winstreak, p.Winstreak)
	set(&r.Rating, p.Rating)
}

// BanEntry marks a player as ineligible for ladder play.
type BanEntry struct {
	PlayerID int64     `json:"user_id"`
	Reason   string    `json:"reason"`
	BannedAt time.Time `json:"banned_at"`
}

// HistoryEntry is one row of the append-only ledger.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	PlayerID  *int64    `json:"user_id,omitempty"`
	Category  *Category `json:"category,omitempty"`
	Action    Action    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchOutcome is the result of one settled match.
type MatchOutcome struct {
	Winner     PlayerRecord `json:"winner"`
	Loser      PlayerRecord `json:"loser"`
	Category   Category     `json:"category"`
	KillMargin int          `json:"kills"`
	WinnerGain int          `json:"winner_gain"`
	LoserLoss  int          `json:"loser_loss"`
	HistoryID  int64        `json:"history_id"`
}

// AggregateStats sums a player's records across every category they have.
type AggregateStats struct {
	PlayerID      int64   `json:"user_id"`
	Categories    int     `json:"categories"`
	Kills         int     `json:"kills"`
	Deaths        int     `json:"deaths"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	BestWinstreak int     `json:"best_winstreak"`
	AverageRating float64 `json:"average_elo"`
}

func (a AggregateStats) KD() float64 { return kdRatio(a.Kills, a.Deaths) }

// OverallEntry ranks a player by average rating across categories.
type OverallEntry struct {
	PlayerID      int64   `json:"user_id"`
	AverageRating float64 `json:"average_elo"`
	Categories    int     `json:"categories"`
}

func kdRatio(kills, deaths int) float64 {
	if deaths <= 0 {
		return float64(kills)
	}
	return math.Round(float64(kills)/float64(deaths)*100) / 100
}
