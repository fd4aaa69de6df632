package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/park285/pvp-ladder/internal/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryFilter narrows a ledger query. Nil fields match everything.
type HistoryFilter struct {
	PlayerID *int64
	Category *domain.Category
	Limit    int
}

// appendHistory must run inside the transaction of the change it records.
func (s *Store) appendHistory(ctx context.Context, tx *sql.Tx, playerID *int64, cat *domain.Category, action domain.Action, details string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.q(`
		INSERT INTO history (user_id, category, action, details, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), nullableID(playerID), nullableCategory(cat), string(action), details, s.ts(s.now())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	return id, nil
}

// History returns ledger entries newest first.
func (s *Store) History(ctx context.Context, f HistoryFilter) ([]domain.HistoryEntry, error) {
	if f.Category != nil && !f.Category.Valid() {
		return nil, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", *f.Category)
	}
	var (
		where []string
		args  []any
	)
	if f.PlayerID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.PlayerID)
	}
	if f.Category != nil {
		where = append(where, "category = ?")
		args = append(args, string(*f.Category))
	}
	query := "SELECT " + historyColumns + " FROM history"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, normalizeLimit(f.Limit, defaultHistoryLimit, maxHistoryLimit))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, domain.Storage("history", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, domain.Storage("history", err)
		}
		out = append(out, h)
	}
	return out, domain.Storage("history", rows.Err())
}
