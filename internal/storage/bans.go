package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/park285/pvp-ladder/internal/domain"
)

// Ban adds playerID to the ban list.
func (s *Store) Ban(ctx context.Context, playerID int64, reason string) (*domain.BanEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = domain.DefaultBanReason
	}
	entry := domain.BanEntry{PlayerID: playerID, Reason: reason, BannedAt: s.now().UTC()}
	err := s.write(ctx, "ban", func(tx *sql.Tx) error {
		banned, err := s.isBanned(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if banned {
			return domain.Errorf(domain.CodeAlreadyBanned, "player %d is already banned", playerID)
		}
		_, err = tx.ExecContext(ctx, s.q("INSERT INTO bans ("+banColumns+") VALUES (?, ?, ?)"),
			entry.PlayerID, entry.Reason, s.ts(entry.BannedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Unban lifts the ban on playerID.
func (s *Store) Unban(ctx context.Context, playerID int64) error {
	return s.write(ctx, "unban", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q("DELETE FROM bans WHERE user_id = ?"), playerID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.Errorf(domain.CodeNotBanned, "player %d is not banned", playerID)
		}
		return nil
	})
}

// IsBanned reports whether playerID is currently banned.
func (s *Store) IsBanned(ctx context.Context, playerID int64) (bool, error) {
	banned, err := s.isBanned(ctx, s.db, playerID)
	return banned, domain.Storage("is banned", err)
}

// ListBans returns every ban, most recent first.
func (s *Store) ListBans(ctx context.Context) ([]domain.BanEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+banColumns+" FROM bans ORDER BY banned_at DESC, user_id DESC")
	if err != nil {
		return nil, domain.Storage("list bans", err)
	}
	defer rows.Close()

	var out []domain.BanEntry
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, domain.Storage("list bans", err)
		}
		out = append(out, b)
	}
	return out, domain.Storage("list bans", rows.Err())
}

// UpsertBan writes b as-is, replacing any existing ban of the same player.
func (s *Store) UpsertBan(ctx context.Context, b domain.BanEntry) error {
	if strings.TrimSpace(b.Reason) == "" {
		b.Reason = domain.DefaultBanReason
	}
	if b.BannedAt.IsZero() {
		b.BannedAt = s.now().UTC()
	}
	return s.write(ctx, "upsert ban", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO bans (`+banColumns+`) VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET reason = excluded.reason, banned_at = excluded.banned_at
		`), b.PlayerID, b.Reason, s.ts(b.BannedAt))
		return err
	})
}
