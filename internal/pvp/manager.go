// Package pvp runs duel negotiation: a challenger proposes, the opponent
// accepts or declines, and an accepted duel is resolved exactly once into a
// settled match.
package pvp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/pvp-ladder/internal/domain"
)

const (
	DefaultTimeout = 5 * time.Minute
	// DefaultRetention is how long finished sessions stay queryable.
	DefaultRetention = time.Hour
	// DefaultAcceptedTTL drops accepted duels nobody ever resolved.
	DefaultAcceptedTTL = 24 * time.Hour
)

// Eligibility answers ban lookups.
type Eligibility interface {
	IsBanned(ctx context.Context, playerID int64) (bool, error)
}

// Settler writes a resolved duel to the ladder.
type Settler interface {
	SettleDuel(ctx context.Context, s Session, winnerID, loserID int64) (*domain.MatchOutcome, error)
}

type Options struct {
	Timeout     time.Duration
	Retention   time.Duration
	AcceptedTTL time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

type Manager struct {
	store       Store
	eligibility Eligibility
	settler     Settler

	timeout     time.Duration
	retention   time.Duration
	acceptedTTL time.Duration
	log         *zap.Logger
	now         func() time.Time
}

func NewManager(store Store, eligibility Eligibility, settler Settler, opts Options) *Manager {
	m := &Manager{
		store:       store,
		eligibility: eligibility,
		settler:     settler,
		timeout:     opts.Timeout,
		retention:   opts.Retention,
		acceptedTTL: opts.AcceptedTTL,
		log:         opts.Logger,
		now:         opts.Now,
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.acceptedTTL <= 0 {
		m.acceptedTTL = DefaultAcceptedTTL
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Timeout is the window an opponent has to answer a proposal.
func (m *Manager) Timeout() time.Duration { return m.timeout }

func (m *Manager) checkEligible(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		banned, err := m.eligibility.IsBanned(ctx, id)
		if err != nil {
			return domain.Storage("ban lookup", err)
		}
		if banned {
			return domain.Errorf(domain.CodeBanned, "player %d is banned", id)
		}
	}
	return nil
}

// Propose opens a duel. The kill margin is kept as given and used unchanged at settlement.
func (m *Manager) Propose(ctx context.Context, challengerID, opponentID int64, cat domain.Category, killMargin int) (Session, error) {
	if !cat.Valid() {
		return Session{}, domain.Errorf(domain.CodeInvalidCategory, "invalid category %q", cat)
	}
	if challengerID == opponentID {
		return Session{}, domain.ErrSelfChallenge
	}
	if err := domain.ValidateKillMargin(killMargin); err != nil {
		return Session{}, err
	}
	if err := m.checkEligible(ctx, challengerID, opponentID); err != nil {
		return Session{}, err
	}

	now := m.now()
	s := Session{
		ID:           uuid.NewString(),
		ChallengerID: challengerID,
		OpponentID:   opponentID,
		Category:     cat,
		KillMargin:   killMargin,
		State:        StateProposed,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(m.timeout),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return Session{}, domain.Storage("create duel", err)
	}
	m.log.Info("duel_propose",
		zap.String("duel_id", s.ID),
		zap.Int64("challenger_id", challengerID),
		zap.Int64("opponent_id", opponentID),
		zap.String("category", cat.String()),
		zap.Int("kills", killMargin),
	)
	return s, nil
}

// Respond accepts or declines a proposal. Only the opponent may answer; a
// proposal past its deadline is expired and the answer rejected.
func (m *Manager) Respond(ctx context.Context, id string, actorID int64, accept bool) (Session, error) {
	expired := false
	s, err := m.store.Update(ctx, id, func(s *Session) error {
		expired = false
		if actorID != s.OpponentID {
			return domain.Errorf(domain.CodePermissionDenied, "only the challenged player can respond to this duel")
		}
		if s.State != StateProposed {
			return domain.Errorf(domain.CodeInvalidState, "duel is %s", s.State)
		}
		now := m.now()
		if s.overdue(now) {
			s.State = StateExpired
			s.UpdatedAt = now
			expired = true
			return nil
		}
		if accept {
			if err := m.checkEligible(ctx, s.ChallengerID, s.OpponentID); err != nil {
				return err
			}
			s.State = StateAccepted
		} else {
			s.State = StateDeclined
		}
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Session{}, domain.Storage("respond duel", err)
	}
	if expired {
		m.log.Info("duel_expire", zap.String("duel_id", id), zap.String("via", "respond"))
		return s, domain.Errorf(domain.CodeInvalidState, "duel expired")
	}
	m.log.Info("duel_respond", zap.String("duel_id", id), zap.Int64("actor_id", actorID), zap.Bool("accept", accept))
	return s, nil
}

// Resolve settles an accepted duel. Either participant or an admin may
// resolve; the session is claimed first so the match is written at most once.
func (m *Manager) Resolve(ctx context.Context, id string, actorID int64, admin, winnerIsChallenger bool) (Session, *domain.MatchOutcome, error) {
	claimed, err := m.store.Update(ctx, id, func(s *Session) error {
		if !admin && !s.Participant(actorID) {
			return domain.Errorf(domain.CodePermissionDenied, "only duel participants can select the winner")
		}
		if s.State != StateAccepted {
			return domain.Errorf(domain.CodeInvalidState, "duel is %s", s.State)
		}
		s.State = StateSettling
		s.UpdatedAt = m.now()
		return nil
	})
	if err != nil {
		return Session{}, nil, domain.Storage("claim duel", err)
	}

	winner, loser := claimed.sides(winnerIsChallenger)
	outcome, err := m.settler.SettleDuel(ctx, claimed, winner, loser)
	if err != nil {
		if _, rerr := m.store.Update(ctx, id, func(s *Session) error {
			if s.State == StateSettling {
				s.State = StateAccepted
				s.UpdatedAt = m.now()
			}
			return nil
		}); rerr != nil {
			m.log.Error("duel_release_error", zap.String("duel_id", id), zap.Error(rerr))
		}
		m.log.Warn("duel_settle_error", zap.String("duel_id", id), zap.Error(err))
		return Session{}, nil, err
	}

	finish := func(s *Session) error {
		s.State = StateSettled
		s.WinnerID = winner
		s.LoserID = loser
		s.WinnerGain = outcome.WinnerGain
		s.LoserLoss = outcome.LoserLoss
		s.HistoryID = outcome.HistoryID
		s.UpdatedAt = m.now()
		return nil
	}
	settled, err := m.store.Update(ctx, id, finish)
	if err != nil {
		// The match is already written; the session stays claimed so it cannot settle twice.
		m.log.Error("duel_finish_error", zap.String("duel_id", id), zap.Error(err))
		settled = claimed
		_ = finish(&settled)
	}
	m.log.Info("duel_settle",
		zap.String("duel_id", id),
		zap.Int64("winner_id", winner),
		zap.Int64("loser_id", loser),
		zap.Int("winner_gain", outcome.WinnerGain),
		zap.Int64("history_id", outcome.HistoryID),
	)
	return settled, outcome, nil
}

// Get returns the session, expiring it first if its deadline has passed.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, domain.Storage("get duel", err)
	}
	if !s.overdue(m.now()) {
		return s, nil
	}
	s, ok, err := m.expire(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if ok {
		m.log.Info("duel_expire", zap.String("duel_id", id), zap.String("via", "get"))
	}
	return s, nil
}

// Pending lists open proposals awaiting playerID's answer, oldest first.
func (m *Manager) Pending(ctx context.Context, playerID int64) ([]Session, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, domain.Storage("list duels", err)
	}
	now := m.now()
	var out []Session
	for _, s := range all {
		if s.State == StateProposed && s.OpponentID == playerID && !s.overdue(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Sweep expires overdue proposals and forgets sessions past retention. It
// returns the sessions it expired.
func (m *Manager) Sweep(ctx context.Context) ([]Session, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, domain.Storage("list duels", err)
	}
	now := m.now()
	var expired []Session
	for _, s := range all {
		switch {
		case s.overdue(now):
			got, ok, err := m.expire(ctx, s.ID)
			if err != nil {
				m.log.Warn("duel_sweep_error", zap.String("duel_id", s.ID), zap.Error(err))
				continue
			}
			if ok {
				expired = append(expired, got)
			}
		case s.State.Terminal() && now.Sub(s.UpdatedAt) >= m.retention,
			(s.State == StateAccepted || s.State == StateSettling) && now.Sub(s.UpdatedAt) >= m.acceptedTTL:
			if err := m.store.Delete(ctx, s.ID); err != nil {
				m.log.Warn("duel_sweep_error", zap.String("duel_id", s.ID), zap.Error(err))
			}
		}
	}
	if len(expired) > 0 {
		m.log.Info("duel_sweep", zap.Int("expired", len(expired)))
	}
	return expired, nil
}

// expire moves an overdue proposal to EXPIRED. ok is false when another
// transition got there first.
func (m *Manager) expire(ctx context.Context, id string) (Session, bool, error) {
	ok := false
	s, err := m.store.Update(ctx, id, func(s *Session) error {
		ok = false
		now := m.now()
		if s.overdue(now) {
			s.State = StateExpired
			s.UpdatedAt = now
			ok = true
		}
		return nil
	})
	if err != nil {
		return Session{}, false, domain.Storage("expire duel", err)
	}
	return s, ok, nil
}

// CountDuels reports live sessions per state.
func (m *Manager) CountDuels(ctx context.Context) (map[string]int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, s := range all {
		counts[string(s.State)]++
	}
	return counts, nil
}
