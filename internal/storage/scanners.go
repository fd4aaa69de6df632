package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/park285/pvp-ladder/internal/domain"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// formatTimestamp renders t as fixed-width UTC text so SQLite orders it lexically.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

var timestampLayouts = []string{
	timestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the formats the store writes plus SQLite's CURRENT_TIMESTAMP form.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// dbTime scans timestamps from either dialect: SQLite hands back text, Postgres time.Time.
type dbTime struct{ time.Time }

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = x.UTC()
		return nil
	case string:
		parsed, err := ParseTimestamp(x)
		t.Time = parsed
		return err
	case []byte:
		parsed, err := ParseTimestamp(string(x))
		t.Time = parsed
		return err
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

const recordColumns = "user_id, category, kills, deaths, wins, losses, winstreak, elo"

func scanRecord(s scanner) (domain.PlayerRecord, error) {
	var r domain.PlayerRecord
	var cat string
	err := s.Scan(&r.PlayerID, &cat, &r.Kills, &r.Deaths, &r.Wins, &r.Losses, &r.Winstreak, &r.Rating)
	r.Category = domain.Category(cat)
	return r, err
}

const banColumns = "user_id, reason, banned_at"

func scanBan(s scanner) (domain.BanEntry, error) {
	var b domain.BanEntry
	var at dbTime
	if err := s.Scan(&b.PlayerID, &b.Reason, &at); err != nil {
		return b, err
	}
	b.BannedAt = at.Time
	return b, nil
}

const historyColumns = "id, user_id, category, action, details, created_at"

func scanHistory(s scanner) (domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	var playerID sql.NullInt64
	var cat sql.NullString
	var action string
	var at dbTime
	if err := s.Scan(&h.ID, &playerID, &cat, &action, &h.Details, &at); err != nil {
		return h, err
	}
	if playerID.Valid {
		h.PlayerID = &playerID.Int64
	}
	if cat.Valid {
		c := domain.Category(cat.String)
		h.Category = &c
	}
	h.Action = domain.Action(action)
	h.CreatedAt = at.Time
	return h, nil
}

// nullableID maps an optional player id onto a driver value.
func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableCategory(c *domain.Category) any {
	if c == nil {
		return nil
	}
	return string(*c)
}
