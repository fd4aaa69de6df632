// Package ladder is the operation facade over the store, the duel manager and
// the rating engine. Connectors call it with the acting identity; permission
// checks that depend on that identity happen here.
package ladder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/internal/metrics"
	"github.com/park285/pvp-ladder/internal/pvp"
	"github.com/park285/pvp-ladder/internal/storage"
)

// Actor is the identity a connector acts on behalf of.
type Actor struct {
	ID    int64
	Admin bool
}

func (a Actor) label() string { return fmt.Sprintf("<@%d>", a.ID) }

type Config struct {
	DuelTimeout   time.Duration
	DuelRetention time.Duration
}

type Service struct {
	store   *storage.Store
	duels   *pvp.Manager
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewService(store *storage.Store, sessions pvp.Store, cfg Config, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ladder store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("duel session store is required")
	}
	if cfg.DuelTimeout < 0 {
		return nil, fmt.Errorf("duel timeout must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, logger: logger}
	s.duels = pvp.NewManager(sessions, store, duelSettler{store: store}, pvp.Options{
		Timeout:   cfg.DuelTimeout,
		Retention: cfg.DuelRetention,
		Logger:    logger.Named("duel"),
	})
	return s, nil
}

// AttachMetrics wires a metrics sink. Nil detaches.
func (s *Service) AttachMetrics(m *metrics.Metrics) {
	if s != nil {
		s.metrics = m
	}
}

// CountDuels feeds the live-session gauge.
func (s *Service) CountDuels(ctx context.Context) (map[string]int, error) {
	return s.duels.CountDuels(ctx)
}

// Ping checks the durable store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) observe(op string, err error) {
	s.metrics.ObserveOperation(op, string(domain.CodeOf(err)))
	if err != nil && domain.CodeOf(err) == domain.CodeStorageFailure {
		s.logger.Error("ladder_storage_error", zap.String("op", op), zap.Error(err))
	}
}

func requireAdmin(actor Actor) error {
	if !actor.Admin {
		return domain.Errorf(domain.CodePermissionDenied, "administrator permission required")
	}
	return nil
}

// Register creates a player's records in every category. Players may register
// themselves; registering someone else needs an admin.
func (s *Service) Register(ctx context.Context, actor Actor, playerID int64) (recs []domain.PlayerRecord, err error) {
	defer func() { s.observe("register", err) }()
	if actor.ID != playerID && !actor.Admin {
		return nil, domain.Errorf(domain.CodePermissionDenied, "only administrators can register other players")
	}
	recs, err = s.store.Register(ctx, playerID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("player_register", zap.Int64("player_id", playerID), zap.Int64("actor_id", actor.ID))
	return recs, nil
}

func (s *Service) Remove(ctx context.Context, actor Actor, playerID int64) (n int, err error) {
	defer func() { s.observe("remove", err) }()
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	n, err = s.store.Remove(ctx, playerID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("player_remove", zap.Int64("player_id", playerID), zap.Int("records", n))
	return n, nil
}

func (s *Service) Ban(ctx context.Context, actor Actor, playerID int64, reason string) (ban *domain.BanEntry, err error) {
	defer func() { s.observe("ban", err) }()
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ban, err = s.store.Ban(ctx, playerID, reason)
	if err != nil {
		return nil, err
	}
	s.logger.Info("player_ban", zap.Int64("player_id", playerID), zap.String("reason", ban.Reason), zap.Int64("actor_id", actor.ID))
	return ban, nil
}

func (s *Service) Unban(ctx context.Context, actor Actor, playerID int64) (err error) {
	defer func() { s.observe("unban", err) }()
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.store.Unban(ctx, playerID); err != nil {
		return err
	}
	s.logger.Info("player_unban", zap.Int64("player_id", playerID), zap.Int64("actor_id", actor.ID))
	return nil
}

func (s *Service) ListBans(ctx context.Context, actor Actor) (bans []domain.BanEntry, err error) {
	defer func() { s.observe("list_bans", err) }()
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListBans(ctx)
}

func (s *Service) EditStats(ctx context.Context, actor Actor, playerID int64, cat domain.Category, patch domain.StatsPatch) (rec *domain.PlayerRecord, err error) {
	defer func() { s.observe("edit_stats", err) }()
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rec, err = s.store.AdminEdit(ctx, playerID, cat, patch, actor.label())
	if err != nil {
		return nil, err
	}
	s.logger.Info("stats_edit", zap.Int64("player_id", playerID), zap.String("category", cat.String()), zap.Int64("actor_id", actor.ID))
	return rec, nil
}

func (s *Service) ResetStats(ctx context.Context, actor Actor, playerID int64, cat domain.Category) (rec *domain.PlayerRecord, err error) {
	defer func() { s.observe("reset_stats", err) }()
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rec, err = s.store.Reset(ctx, playerID, cat, actor.label())
	if err != nil {
		return nil, err
	}
	s.logger.Info("stats_reset", zap.Int64("player_id", playerID), zap.String("category", cat.String()), zap.Int64("actor_id", actor.ID))
	return rec, nil
}

// ReportMatch settles a match directly. Only the winner or an admin may report it.
func (s *Service) ReportMatch(ctx context.Context, actor Actor, winnerID, loserID int64, cat domain.Category, killMargin int) (out *domain.MatchOutcome, err error) {
	defer func() { s.observe("report_match", err) }()
	if actor.ID != winnerID && !actor.Admin {
		return nil, domain.Errorf(domain.CodePermissionDenied, "only the winner or an administrator can report this match")
	}
	out, err = s.store.ApplyMatchResult(ctx, storage.MatchInput{
		WinnerID:   winnerID,
		LoserID:    loserID,
		Category:   cat,
		KillMargin: killMargin,
		Action:     domain.ActionMatchReport,
	})
	if err != nil {
		return nil, err
	}
	s.recordMatch(out, domain.ActionMatchReport)
	return out, nil
}

func (s *Service) recordMatch(out *domain.MatchOutcome, action domain.Action) {
	s.metrics.ObserveMatch(out.Category.String(), string(action), out.WinnerGain)
	s.logger.Info("match_settle",
		zap.String("action", string(action)),
		zap.String("category", out.Category.String()),
		zap.Int64("winner_id", out.Winner.PlayerID),
		zap.Int64("loser_id", out.Loser.PlayerID),
		zap.Int("kills", out.KillMargin),
		zap.Int("winner_gain", out.WinnerGain),
		zap.Int("loser_loss", out.LoserLoss),
		zap.Int64("history_id", out.HistoryID),
	)
}

// ProposeDuel opens a duel from the acting player against opponentID.
func (s *Service) ProposeDuel(ctx context.Context, actor Actor, opponentID int64, cat domain.Category, killMargin int) (sess pvp.Session, err error) {
	defer func() { s.observe("propose_duel", err) }()
	return s.duels.Propose(ctx, actor.ID, opponentID, cat, killMargin)
}

func (s *Service) RespondDuel(ctx context.Context, actor Actor, duelID string, accept bool) (sess pvp.Session, err error) {
	defer func() { s.observe("respond_duel", err) }()
	return s.duels.Respond(ctx, duelID, actor.ID, accept)
}

func (s *Service) ResolveDuel(ctx context.Context, actor Actor, duelID string, winnerIsChallenger bool) (sess pvp.Session, out *domain.MatchOutcome, err error) {
	defer func() { s.observe("resolve_duel", err) }()
	sess, out, err = s.duels.Resolve(ctx, duelID, actor.ID, actor.Admin, winnerIsChallenger)
	if err != nil {
		return pvp.Session{}, nil, err
	}
	s.recordMatch(out, domain.ActionDuelWin)
	return sess, out, nil
}

func (s *Service) GetDuel(ctx context.Context, duelID string) (pvp.Session, error) {
	return s.duels.Get(ctx, duelID)
}

// PendingDuels lists proposals waiting on playerID.
func (s *Service) PendingDuels(ctx context.Context, playerID int64) ([]pvp.Session, error) {
	return s.duels.Pending(ctx, playerID)
}

// SweepDuels expires overdue proposals; the scheduler calls it periodically.
func (s *Service) SweepDuels(ctx context.Context) ([]pvp.Session, error) {
	return s.duels.Sweep(ctx)
}

// Stats is either one category record or the cross-category aggregate.
type Stats struct {
	Record    *domain.PlayerRecord
	Aggregate *domain.AggregateStats
}

// GetStats returns the aggregate across categories when cat is nil, otherwise
// the category record, created on first read.
func (s *Service) GetStats(ctx context.Context, playerID int64, cat *domain.Category) (st Stats, err error) {
	defer func() { s.observe("get_stats", err) }()
	if cat == nil {
		agg, err := s.store.AggregateStats(ctx, playerID)
		if err != nil {
			return Stats{}, err
		}
		return Stats{Aggregate: agg}, nil
	}
	if !cat.Valid() {
		return Stats{}, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", *cat)
	}
	rec, err := s.store.GetOrCreate(ctx, playerID, *cat)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Record: rec}, nil
}

// Leaderboard holds whichever board was asked for.
type Leaderboard struct {
	Category *domain.Category
	Records  []domain.PlayerRecord
	Overall  []domain.OverallEntry
}

// GetLeaderboard ranks by average rating when cat is nil, otherwise by the category rating.
func (s *Service) GetLeaderboard(ctx context.Context, cat *domain.Category, limit int) (lb Leaderboard, err error) {
	defer func() { s.observe("get_leaderboard", err) }()
	if cat == nil {
		overall, err := s.store.OverallLeaderboard(ctx, limit)
		if err != nil {
			return Leaderboard{}, err
		}
		return Leaderboard{Overall: overall}, nil
	}
	recs, err := s.store.Leaderboard(ctx, *cat, limit)
	if err != nil {
		return Leaderboard{}, err
	}
	return Leaderboard{Category: cat, Records: recs}, nil
}

func (s *Service) GetHistory(ctx context.Context, playerID *int64, cat *domain.Category, limit int) (hist []domain.HistoryEntry, err error) {
	defer func() { s.observe("get_history", err) }()
	return s.store.History(ctx, storage.HistoryFilter{PlayerID: playerID, Category: cat, Limit: limit})
}

// Wipe removes every player record. History and bans are kept.
func (s *Service) Wipe(ctx context.Context, actor Actor) (n int, err error) {
	defer func() { s.observe("wipe", err) }()
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	n, err = s.store.Wipe(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("ladder_wipe", zap.Int("players", n), zap.Int64("actor_id", actor.ID))
	return n, nil
}

// duelSettler writes a resolved duel through the same path as a reported match.
type duelSettler struct{ store *storage.Store }

func (d duelSettler) SettleDuel(ctx context.Context, s pvp.Session, winnerID, loserID int64) (*domain.MatchOutcome, error) {
	return d.store.ApplyMatchResult(ctx, storage.MatchInput{
		WinnerID:   winnerID,
		LoserID:    loserID,
		Category:   s.Category,
		KillMargin: s.KillMargin,
		Action:     domain.ActionDuelWin,
	})
}
