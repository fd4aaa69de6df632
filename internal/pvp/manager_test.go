package pvp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/pvp-ladder/internal/domain"
)

const (
	alice int64 = 1001
	bob   int64 = 1002
	carol int64 = 1003
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBans struct {
	mu     sync.Mutex
	banned map[int64]bool
}

func (b *fakeBans) IsBanned(_ context.Context, id int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.banned[id], nil
}

func (b *fakeBans) set(id int64, v bool) {
	b.mu.Lock()
	b.banned[id] = v
	b.mu.Unlock()
}

type fakeSettler struct {
	calls   atomic.Int32
	fail    atomic.Bool
	mu      sync.Mutex
	winners []int64
	margins []int
}

func (f *fakeSettler) SettleDuel(_ context.Context, s Session, winnerID, loserID int64) (*domain.MatchOutcome, error) {
	if f.fail.Load() {
		return nil, domain.Storage("settle", errors.New("disk full"))
	}
	n := f.calls.Add(1)
	f.mu.Lock()
	f.winners = append(f.winners, winnerID)
	f.margins = append(f.margins, s.KillMargin)
	f.mu.Unlock()
	return &domain.MatchOutcome{
		Winner:     domain.PlayerRecord{PlayerID: winnerID, Category: s.Category},
		Loser:      domain.PlayerRecord{PlayerID: loserID, Category: s.Category},
		Category:   s.Category,
		KillMargin: s.KillMargin,
		WinnerGain: 14,
		LoserLoss:  -14,
		HistoryID:  int64(n),
	}, nil
}

type harness struct {
	m       *Manager
	store   Store
	clock   *fakeClock
	bans    *fakeBans
	settler *fakeSettler
}

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	s, err := NewRedisStore(context.Background(), rdb)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return s, mr
}

// forEachStore runs fn against the in-memory and the Redis-backed store.
func forEachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Helper()
	builders := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisTestStore(t)
			return s
		},
	}
	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			h := &harness{
				store:   build(t),
				clock:   newFakeClock(),
				bans:    &fakeBans{banned: map[int64]bool{}},
				settler: &fakeSettler{},
			}
			h.m = NewManager(h.store, h.bans, h.settler, Options{Now: h.clock.Now})
			fn(t, h)
		})
	}
}

func (h *harness) accepted(t *testing.T, margin int) Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.m.Propose(ctx, alice, bob, domain.CategorySword, margin)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	s, err = h.m.Respond(ctx, s.ID, bob, true)
	if err != nil {
		t.Fatalf("Respond accept: %v", err)
	}
	if s.State != StateAccepted {
		t.Fatalf("state = %s, want ACCEPTED", s.State)
	}
	return s
}

func TestProposeValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		if _, err := h.m.Propose(ctx, alice, bob, "bow", 1); !errors.Is(err, domain.ErrInvalidCategory) {
			t.Fatalf("expected ErrInvalidCategory, got %v", err)
		}
		if _, err := h.m.Propose(ctx, alice, alice, domain.CategoryAxe, 1); !errors.Is(err, domain.ErrSelfChallenge) {
			t.Fatalf("expected ErrSelfChallenge, got %v", err)
		}
		if _, err := h.m.Propose(ctx, alice, bob, domain.CategoryAxe, -1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("negative margin: expected ErrInvalidArgument, got %v", err)
		}
		if _, err := h.m.Propose(ctx, alice, bob, domain.CategoryAxe, domain.MaxKillMargin+1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("oversized margin: expected ErrInvalidArgument, got %v", err)
		}
		h.bans.set(bob, true)
		if _, err := h.m.Propose(ctx, alice, bob, domain.CategoryAxe, 1); !errors.Is(err, domain.ErrBanned) {
			t.Fatalf("expected ErrBanned, got %v", err)
		}
		if all, _ := h.store.List(ctx); len(all) != 0 {
			t.Fatalf("rejected proposals must not create sessions, got %d", len(all))
		}
	})
}

func TestProposeCapturesSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		s, err := h.m.Propose(context.Background(), alice, bob, domain.CategoryCrystal, 4)
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if s.ID == "" || s.State != StateProposed || s.KillMargin != 4 {
			t.Fatalf("unexpected session %+v", s)
		}
		if want := h.clock.Now().Add(DefaultTimeout); !s.ExpiresAt.Equal(want) {
			t.Fatalf("ExpiresAt = %v, want %v", s.ExpiresAt, want)
		}
		got, err := h.m.Get(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != s.ID || got.OpponentID != bob || got.Category != domain.CategoryCrystal {
			t.Fatalf("Get returned %+v", got)
		}
	})
}

func TestRespondOnlyOpponent(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s, _ := h.m.Propose(ctx, alice, bob, domain.CategorySword, 1)
		for _, actor := range []int64{alice, carol} {
			if _, err := h.m.Respond(ctx, s.ID, actor, true); !errors.Is(err, domain.ErrPermissionDenied) {
				t.Fatalf("actor %d: expected ErrPermissionDenied, got %v", actor, err)
			}
		}
		got, _ := h.m.Get(ctx, s.ID)
		if got.State != StateProposed {
			t.Fatalf("state changed to %s after denied responses", got.State)
		}
		if _, err := h.m.Respond(ctx, s.ID, bob, true); err != nil {
			t.Fatalf("opponent accept after denials: %v", err)
		}
	})
}

func TestDeclineIsTerminal(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s, _ := h.m.Propose(ctx, alice, bob, domain.CategoryAxe, 2)
		s, err := h.m.Respond(ctx, s.ID, bob, false)
		if err != nil {
			t.Fatalf("Respond decline: %v", err)
		}
		if s.State != StateDeclined || !s.State.Terminal() {
			t.Fatalf("state = %s, want DECLINED", s.State)
		}
		if _, err := h.m.Respond(ctx, s.ID, bob, true); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState on second response, got %v", err)
		}
		if _, _, err := h.m.Resolve(ctx, s.ID, alice, false, true); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState resolving declined duel, got %v", err)
		}
		if n := h.settler.calls.Load(); n != 0 {
			t.Fatalf("settler called %d times for a declined duel", n)
		}
	})
}

func TestAcceptRechecksBans(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s, _ := h.m.Propose(ctx, alice, bob, domain.CategoryMace, 1)
		h.bans.set(alice, true)
		if _, err := h.m.Respond(ctx, s.ID, bob, true); !errors.Is(err, domain.ErrBanned) {
			t.Fatalf("expected ErrBanned, got %v", err)
		}
		got, _ := h.m.Get(ctx, s.ID)
		if got.State != StateProposed {
			t.Fatalf("state = %s, want PROPOSED", got.State)
		}
		// declining does not need eligibility
		if _, err := h.m.Respond(ctx, s.ID, bob, false); err != nil {
			t.Fatalf("decline while challenger banned: %v", err)
		}
	})
}

func TestResolveSettlesOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s := h.accepted(t, 3)

		settled, outcome, err := h.m.Resolve(ctx, s.ID, bob, false, false)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if settled.State != StateSettled || settled.WinnerID != bob || settled.HistoryID != outcome.HistoryID {
			t.Fatalf("unexpected settled session %+v", settled)
		}
		if outcome.Winner.PlayerID != bob || outcome.Loser.PlayerID != alice || outcome.KillMargin != 3 {
			t.Fatalf("unexpected outcome %+v", outcome)
		}

		if _, _, err := h.m.Resolve(ctx, s.ID, alice, false, true); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState on second resolve, got %v", err)
		}
		if n := h.settler.calls.Load(); n != 1 {
			t.Fatalf("settler called %d times, want 1", n)
		}
		if h.settler.margins[0] != 3 {
			t.Fatalf("settled with margin %d, want the proposed 3", h.settler.margins[0])
		}
	})
}

func TestResolvePermissions(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s := h.accepted(t, 1)
		if _, _, err := h.m.Resolve(ctx, s.ID, carol, false, true); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
		got, _ := h.m.Get(ctx, s.ID)
		if got.State != StateAccepted {
			t.Fatalf("state = %s after denied resolve", got.State)
		}
		if _, _, err := h.m.Resolve(ctx, s.ID, carol, true, true); err != nil {
			t.Fatalf("admin resolve: %v", err)
		}
		if h.settler.winners[0] != alice {
			t.Fatalf("winner = %d, want challenger %d", h.settler.winners[0], alice)
		}
	})
}

func TestResolveRequiresAccepted(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s, _ := h.m.Propose(ctx, alice, bob, domain.CategoryUHC, 1)
		if _, _, err := h.m.Resolve(ctx, s.ID, bob, false, true); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		if _, _, err := h.m.Resolve(ctx, "missing", bob, false, true); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestResolveReleasesClaimOnSettleFailure(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s := h.accepted(t, 2)
		h.settler.fail.Store(true)
		if _, _, err := h.m.Resolve(ctx, s.ID, alice, false, true); !errors.Is(err, domain.ErrStorageFailure) {
			t.Fatalf("expected ErrStorageFailure, got %v", err)
		}
		got, _ := h.m.Get(ctx, s.ID)
		if got.State != StateAccepted {
			t.Fatalf("state = %s after failed settle, want ACCEPTED", got.State)
		}
		h.settler.fail.Store(false)
		if _, _, err := h.m.Resolve(ctx, s.ID, alice, false, true); err != nil {
			t.Fatalf("retry after failure: %v", err)
		}
	})
}

func TestConcurrentResolveSettlesOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s := h.accepted(t, 1)

		var wg sync.WaitGroup
		var ok, invalid atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				actor := alice
				if i%2 == 1 {
					actor = bob
				}
				_, _, err := h.m.Resolve(ctx, s.ID, actor, false, i%2 == 0)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, domain.ErrInvalidState):
					invalid.Add(1)
				default:
					t.Errorf("resolve %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()
		if ok.Load() != 1 || invalid.Load() != 7 {
			t.Fatalf("ok=%d invalid=%d, want exactly one success", ok.Load(), invalid.Load())
		}
		if n := h.settler.calls.Load(); n != 1 {
			t.Fatalf("settler called %d times", n)
		}
	})
}

func TestExpiryBlocksResponse(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s, _ := h.m.Propose(ctx, alice, bob, domain.CategorySword, 1)
		h.clock.Advance(DefaultTimeout)

		got, err := h.m.Respond(ctx, s.ID, bob, true)
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState after timeout, got %v", err)
		}
		if got.State != StateExpired {
			t.Fatalf("state = %s, want EXPIRED", got.State)
		}
		if _, err := h.m.Respond(ctx, s.ID, bob, false); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState on expired session, got %v", err)
		}
		if h.settler.calls.Load() != 0 {
			t.Fatalf("expired duel must not settle")
		}
	})
}

func TestAcceptJustBeforeDeadline(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s, _ := h.m.Propose(ctx, alice, bob, domain.CategorySword, 1)
		h.clock.Advance(DefaultTimeout - time.Second)
		if _, err := h.m.Respond(ctx, s.ID, bob, true); err != nil {
			t.Fatalf("Respond before deadline: %v", err)
		}
		h.clock.Advance(time.Hour)
		if expired, _ := h.m.Sweep(ctx); len(expired) != 0 {
			t.Fatalf("accepted duels must not expire, got %d", len(expired))
		}
		if _, _, err := h.m.Resolve(ctx, s.ID, bob, false, true); err != nil {
			t.Fatalf("Resolve long after accept: %v", err)
		}
	})
}

func TestSweep(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		stale, _ := h.m.Propose(ctx, alice, bob, domain.CategorySword, 1)
		h.clock.Advance(3 * time.Minute)
		fresh, _ := h.m.Propose(ctx, carol, bob, domain.CategoryAxe, 1)
		h.clock.Advance(2 * time.Minute)

		expired, err := h.m.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if len(expired) != 1 || expired[0].ID != stale.ID || expired[0].State != StateExpired {
			t.Fatalf("unexpected sweep result %+v", expired)
		}
		pending, _ := h.m.Pending(ctx, bob)
		if len(pending) != 1 || pending[0].ID != fresh.ID {
			t.Fatalf("pending = %+v, want only the fresh proposal", pending)
		}

		h.clock.Advance(DefaultRetention)
		if _, err := h.m.Sweep(ctx); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if _, err := h.store.Get(ctx, stale.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expired session should be dropped after retention, got %v", err)
		}
	})
}

func TestSweepDropsAbandonedAccepted(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s := h.accepted(t, 1)
		h.clock.Advance(DefaultAcceptedTTL)
		if _, err := h.m.Sweep(ctx); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if _, err := h.m.Get(ctx, s.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected abandoned duel to be gone, got %v", err)
		}
	})
}

func TestSweepDropsStuckSettling(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s := h.accepted(t, 1)
		if _, err := h.store.Update(ctx, s.ID, func(s *Session) error {
			s.State = StateSettling
			s.UpdatedAt = h.clock.Now()
			return nil
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if _, err := h.m.Sweep(ctx); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if got, err := h.store.Get(ctx, s.ID); err != nil || got.State != StateSettling {
			t.Fatalf("fresh claim must survive a sweep, got %+v err=%v", got, err)
		}
		h.clock.Advance(DefaultAcceptedTTL)
		if _, err := h.m.Sweep(ctx); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if _, err := h.store.Get(ctx, s.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("stuck SETTLING session should be dropped, got %v", err)
		}
	})
}

func TestGetExpiresLazily(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s, _ := h.m.Propose(ctx, alice, bob, domain.CategorySword, 1)
		h.clock.Advance(DefaultTimeout + time.Second)
		got, err := h.m.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != StateExpired {
			t.Fatalf("state = %s, want EXPIRED", got.State)
		}
	})
}

func TestRedisStorePurgesOnStart(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	first, err := NewRedisStore(ctx, rdb)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	m := NewManager(first, &fakeBans{banned: map[int64]bool{}}, &fakeSettler{}, Options{})
	s, err := m.Propose(ctx, alice, bob, domain.CategorySword, 1)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if ttl := mr.TTL(keySession(s.ID)); ttl != ttlOpen {
		t.Fatalf("ttl = %v, want %v", ttl, ttlOpen)
	}
	if err := mr.Set("unrelated", "keep"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	second, err := NewRedisStore(ctx, rdb)
	if err != nil {
		t.Fatalf("NewRedisStore restart: %v", err)
	}
	if _, err := second.Get(ctx, s.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("duel survived restart: %v", err)
	}
	if all, _ := second.List(ctx); len(all) != 0 {
		t.Fatalf("index survived restart: %d", len(all))
	}
	if !mr.Exists("unrelated") {
		t.Fatalf("purge removed a key outside the duel namespace")
	}
}

func TestRedisStoreTerminalTTL(t *testing.T) {
	s, mr := newRedisTestStore(t)
	ctx := context.Background()
	m := NewManager(s, &fakeBans{banned: map[int64]bool{}}, &fakeSettler{}, Options{})
	sess, _ := m.Propose(ctx, alice, bob, domain.CategorySword, 1)
	if _, err := m.Respond(ctx, sess.ID, bob, false); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if ttl := mr.TTL(keySession(sess.ID)); ttl != ttlTerminal {
		t.Fatalf("ttl = %v, want %v", ttl, ttlTerminal)
	}
}
