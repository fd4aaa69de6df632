package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/internal/rating"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// MatchInput describes one finished match to settle.
type MatchInput struct {
	WinnerID   int64
	LoserID    int64
	Category   domain.Category
	KillMargin int
	// Action defaults to match_report; duels settle with duel_win.
	Action domain.Action
}

func (s *Store) selectRecord(ctx context.Context, db querier, playerID int64, cat domain.Category) (domain.PlayerRecord, error) {
	row := db.QueryRowContext(ctx, s.q("SELECT "+recordColumns+" FROM players WHERE user_id = ? AND category = ?"), playerID, string(cat))
	return scanRecord(row)
}

func (s *Store) insertRecord(ctx context.Context, db querier, r domain.PlayerRecord) error {
	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO players (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, category) DO NOTHING
	`), r.PlayerID, string(r.Category), r.Kills, r.Deaths, r.Wins, r.Losses, r.Winstreak, r.Rating)
	return err
}

func (s *Store) updateRecord(ctx context.Context, db querier, r domain.PlayerRecord) error {
	_, err := db.ExecContext(ctx, s.q(`
		UPDATE players SET kills = ?, deaths = ?, wins = ?, losses = ?, winstreak = ?, elo = ?
		WHERE user_id = ? AND category = ?
	`), r.Kills, r.Deaths, r.Wins, r.Losses, r.Winstreak, r.Rating, r.PlayerID, string(r.Category))
	return err
}

func (s *Store) getOrCreateTx(ctx context.Context, tx *sql.Tx, playerID int64, cat domain.Category) (domain.PlayerRecord, error) {
	rec, err := s.selectRecord(ctx, tx, playerID, cat)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("select record: %w", err)
	}
	rec = domain.NewPlayerRecord(playerID, cat)
	if err := s.insertRecord(ctx, tx, rec); err != nil {
		return rec, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// GetRecord returns the record for (playerID, cat) without creating it.
func (s *Store) GetRecord(ctx context.Context, playerID int64, cat domain.Category) (*domain.PlayerRecord, error) {
	if !cat.Valid() {
		return nil, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", cat)
	}
	rec, err := s.selectRecord(ctx, s.db, playerID, cat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.CodeNoSuchRecord, "player %d has no stats in %s", playerID, cat)
	}
	if err != nil {
		return nil, domain.Storage("get record", err)
	}
	return &rec, nil
}

// GetOrCreate returns the record for (playerID, cat), creating a default one if absent.
func (s *Store) GetOrCreate(ctx context.Context, playerID int64, cat domain.Category) (*domain.PlayerRecord, error) {
	rec, err := s.GetRecord(ctx, playerID, cat)
	if err == nil || !errors.Is(err, domain.ErrNoSuchRecord) {
		return rec, err
	}
	var out domain.PlayerRecord
	err = s.write(ctx, "get or create record", func(tx *sql.Tx) error {
		var werr error
		out, werr = s.getOrCreateTx(ctx, tx, playerID, cat)
		return werr
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyMatchResult settles a match: both rows and the ledger entry commit together or not at all.
func (s *Store) ApplyMatchResult(ctx context.Context, in MatchInput) (*domain.MatchOutcome, error) {
	if !in.Category.Valid() {
		return nil, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", in.Category)
	}
	if in.WinnerID == in.LoserID {
		return nil, domain.ErrSelfChallenge
	}
	if err := domain.ValidateKillMargin(in.KillMargin); err != nil {
		return nil, err
	}
	action := in.Action
	if action == "" {
		action = domain.ActionMatchReport
	}
	if action != domain.ActionMatchReport && action != domain.ActionDuelWin {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "unsupported match action %q", action)
	}

	var out domain.MatchOutcome
	err := s.write(ctx, "apply match result", func(tx *sql.Tx) error {
		if err := s.requireNotBanned(ctx, tx, in.WinnerID, in.LoserID); err != nil {
			return err
		}
		winner, err := s.getOrCreateTx(ctx, tx, in.WinnerID, in.Category)
		if err != nil {
			return err
		}
		loser, err := s.getOrCreateTx(ctx, tx, in.LoserID, in.Category)
		if err != nil {
			return err
		}

		gain, loss := rating.ComputeChange(winner.Rating, loser.Rating, in.KillMargin)

		winner.Kills += in.KillMargin
		winner.Wins++
		winner.Winstreak++
		winner.Rating = rating.Apply(winner.Rating, gain)

		loser.Deaths += in.KillMargin
		loser.Losses++
		loser.Winstreak = 0
		loser.Rating = rating.Apply(loser.Rating, loss)

		if err := s.updateRecord(ctx, tx, winner); err != nil {
			return fmt.Errorf("update winner: %w", err)
		}
		if err := s.updateRecord(ctx, tx, loser); err != nil {
			return fmt.Errorf("update loser: %w", err)
		}

		details := fmt.Sprintf("%s defeated %s (kills: %d, ΔELO: +%d/%d)",
			mention(in.WinnerID), mention(in.LoserID), in.KillMargin, gain, loss)
		id, err := s.appendHistory(ctx, tx, &in.WinnerID, &in.Category, action, details)
		if err != nil {
			return err
		}

		out = domain.MatchOutcome{
			Winner:     winner,
			Loser:      loser,
			Category:   in.Category,
			KillMargin: in.KillMargin,
			WinnerGain: gain,
			LoserLoss:  loss,
			HistoryID:  id,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates a zero-stat record in every category for playerID.
func (s *Store) Register(ctx context.Context, playerID int64) ([]domain.PlayerRecord, error) {
	var out []domain.PlayerRecord
	err := s.write(ctx, "register", func(tx *sql.Tx) error {
		if err := s.requireNotBanned(ctx, tx, playerID); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM players WHERE user_id = ?"), playerID).Scan(&n); err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		if n > 0 {
			return domain.Errorf(domain.CodeAlreadyRegistered, "player %d is already registered", playerID)
		}
		out = make([]domain.PlayerRecord, 0, len(domain.Categories))
		for _, cat := range domain.Categories {
			rec := domain.NewPlayerRecord(playerID, cat)
			if err := s.insertRecord(ctx, tx, rec); err != nil {
				return fmt.Errorf("insert %s record: %w", cat, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes every category record of playerID.
func (s *Store) Remove(ctx context.Context, playerID int64) (int, error) {
	var removed int64
	err := s.write(ctx, "remove", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q("DELETE FROM players WHERE user_id = ?"), playerID)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if removed == 0 {
			return domain.Errorf(domain.CodeNotRegistered, "player %d is not registered", playerID)
		}
		return nil
	})
	return int(removed), err
}

// AdminEdit overwrites the supplied fields of an existing record and logs the edit.
func (s *Store) AdminEdit(ctx context.Context, playerID int64, cat domain.Category, patch domain.StatsPatch, actor string) (*domain.PlayerRecord, error) {
	if !cat.Valid() {
		return nil, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", cat)
	}
	if patch.Empty() {
		return nil, domain.ErrNoFields
	}
	var out domain.PlayerRecord
	err := s.write(ctx, "admin edit", func(tx *sql.Tx) error {
		rec, err := s.selectRecord(ctx, tx, playerID, cat)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Errorf(domain.CodeNoSuchRecord, "player %d has no stats in %s", playerID, cat)
		}
		if err != nil {
			return err
		}
		patch.ApplyTo(&rec)
		if err := s.updateRecord(ctx, tx, rec); err != nil {
			return err
		}
		details := fmt.Sprintf("Admin %s edited stats for %s", actor, mention(playerID))
		if _, err := s.appendHistory(ctx, tx, &playerID, &cat, domain.ActionAdminEdit, details); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset puts an existing record back to zero stats at the default rating and logs it.
func (s *Store) Reset(ctx context.Context, playerID int64, cat domain.Category, actor string) (*domain.PlayerRecord, error) {
	if !cat.Valid() {
		return nil, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", cat)
	}
	var out domain.PlayerRecord
	err := s.write(ctx, "reset", func(tx *sql.Tx) error {
		if _, err := s.selectRecord(ctx, tx, playerID, cat); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.Errorf(domain.CodeNoSuchRecord, "player %d has no stats in %s", playerID, cat)
			}
			return err
		}
		rec := domain.NewPlayerRecord(playerID, cat)
		if err := s.updateRecord(ctx, tx, rec); err != nil {
			return err
		}
		details := fmt.Sprintf("Admin %s reset stats for %s", actor, mention(playerID))
		if _, err := s.appendHistory(ctx, tx, &playerID, &cat, domain.ActionReset, details); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Wipe deletes every player record and returns how many distinct players were removed.
func (s *Store) Wipe(ctx context.Context) (int, error) {
	var players int
	err := s.write(ctx, "wipe", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(DISTINCT user_id) FROM players").Scan(&players); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM players")
		return err
	})
	return players, err
}

// UpsertRecord writes r as-is, replacing any existing row with the same key.
func (s *Store) UpsertRecord(ctx context.Context, r domain.PlayerRecord) error {
	if !r.Category.Valid() {
		return domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", r.Category)
	}
	return s.write(ctx, "upsert record", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO players (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, category) DO UPDATE SET
				kills = excluded.kills,
				deaths = excluded.deaths,
				wins = excluded.wins,
				losses = excluded.losses,
				winstreak = excluded.winstreak,
				elo = excluded.elo
		`), r.PlayerID, string(r.Category), r.Kills, r.Deaths, r.Wins, r.Losses, r.Winstreak, r.Rating)
		return err
	})
}

// Records returns every category record of playerID in category display order.
func (s *Store) Records(ctx context.Context, playerID int64) ([]domain.PlayerRecord, error) {
	out, err := s.queryRecords(ctx, s.q("SELECT "+recordColumns+" FROM players WHERE user_id = ?"), playerID)
	if err != nil {
		return nil, domain.Storage("list records", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return categoryIndex(out[i].Category) < categoryIndex(out[j].Category)
	})
	return out, nil
}

// AllRecords returns the full players table ordered by player then category.
func (s *Store) AllRecords(ctx context.Context) ([]domain.PlayerRecord, error) {
	out, err := s.queryRecords(ctx, "SELECT "+recordColumns+" FROM players ORDER BY user_id, category")
	if err != nil {
		return nil, domain.Storage("list all records", err)
	}
	return out, nil
}

// Leaderboard returns the top records of a category by rating.
func (s *Store) Leaderboard(ctx context.Context, cat domain.Category, limit int) ([]domain.PlayerRecord, error) {
	if !cat.Valid() {
		return nil, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", cat)
	}
	limit = normalizeLimit(limit, defaultLeaderboardLimit, maxLeaderboardLimit)
	out, err := s.queryRecords(ctx, s.q(`
		SELECT `+recordColumns+` FROM players
		WHERE category = ?
		ORDER BY elo DESC, user_id ASC
		LIMIT ?
	`), string(cat), limit)
	if err != nil {
		return nil, domain.Storage("leaderboard", err)
	}
	return out, nil
}

// OverallLeaderboard ranks players by their average rating across categories.
func (s *Store) OverallLeaderboard(ctx context.Context, limit int) ([]domain.OverallEntry, error) {
	limit = normalizeLimit(limit, defaultLeaderboardLimit, maxLeaderboardLimit)
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT user_id, AVG(elo) AS avg_elo, COUNT(*) AS categories
		FROM players
		GROUP BY user_id
		ORDER BY avg_elo DESC, user_id ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, domain.Storage("overall leaderboard", err)
	}
	defer rows.Close()

	var out []domain.OverallEntry
	for rows.Next() {
		var e domain.OverallEntry
		if err := rows.Scan(&e.PlayerID, &e.AverageRating, &e.Categories); err != nil {
			return nil, domain.Storage("overall leaderboard", err)
		}
		out = append(out, e)
	}
	return out, domain.Storage("overall leaderboard", rows.Err())
}

// AggregateStats sums playerID's records across categories. It returns NoData
// when the player has no records at all.
func (s *Store) AggregateStats(ctx context.Context, playerID int64) (*domain.AggregateStats, error) {
	var (
		n                           int
		kills, deaths, wins, losses sql.NullInt64
		bestStreak                  sql.NullInt64
		avgRating                   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*), SUM(kills), SUM(deaths), SUM(wins), SUM(losses), MAX(winstreak), AVG(elo)
		FROM players WHERE user_id = ?
	`), playerID).Scan(&n, &kills, &deaths, &wins, &losses, &bestStreak, &avgRating)
	if err != nil {
		return nil, domain.Storage("aggregate stats", err)
	}
	if n == 0 {
		return nil, domain.Errorf(domain.CodeNoData, "player %d has no stats yet", playerID)
	}
	return &domain.AggregateStats{
		PlayerID:      playerID,
		Categories:    n,
		Kills:         int(kills.Int64),
		Deaths:        int(deaths.Int64),
		Wins:          int(wins.Int64),
		Losses:        int(losses.Int64),
		BestWinstreak: int(bestStreak.Int64),
		AverageRating: avgRating.Float64,
	}, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]domain.PlayerRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlayerRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func categoryIndex(c domain.Category) int {
	for i, known := range domain.Categories {
		if known == c {
			return i
		}
	}
	return len(domain.Categories)
}

func mention(id int64) string { return fmt.Sprintf("<@%d>", id) }
