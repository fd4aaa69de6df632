package pvp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/pvp-ladder/internal/domain"
)

const (
	keyPrefix = "duel:"
	keyIndex  = "duel:index"

	// ttlOpen bounds how long a proposed or accepted session may linger.
	ttlOpen = 24 * time.Hour
	// ttlTerminal keeps finished sessions around long enough to answer lookups.
	ttlTerminal = time.Hour

	maxWatchRetries = 16
)

// RedisStore keeps sessions in Redis so several connector processes can share
// them. Transitions use WATCH/MULTI so concurrent writers never interleave.
type RedisStore struct{ rdb *redis.Client }

// OpenRedis connects to a redis:// or rediss:// URL and pings it.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis duel store")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisStore wraps rdb and drops any sessions left by a previous process;
// duels never survive a restart.
func NewRedisStore(ctx context.Context, rdb *redis.Client) (*RedisStore, error) {
	s := &RedisStore{rdb: rdb}
	if err := s.purge(ctx); err != nil {
		return nil, fmt.Errorf("purge stale duels: %w", err)
	}
	return s, nil
}

func keySession(id string) string { return keyPrefix + strings.TrimSpace(id) }

func ttlFor(st State) time.Duration {
	if st.Terminal() {
		return ttlTerminal
	}
	return ttlOpen
}

func (s *RedisStore) purge(ctx context.Context) error {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, keySession(sess.ID), raw, ttlFor(sess.State)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("duel %s already exists", sess.ID)
	}
	return s.rdb.SAdd(ctx, keyIndex, sess.ID).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	return s.load(ctx, s.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter, id string) (Session, error) {
	raw, err := g.Get(ctx, keySession(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, errSessionNotFound(id)
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode duel %s: %w", id, err)
	}
	return sess, nil
}

// Update retries the optimistic transaction while another writer wins the race.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	key := keySession(id)
	var out Session
	txf := func(tx *redis.Tx) error {
		sess, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&sess); err != nil {
			return err
		}
		raw, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, ttlFor(sess.State))
			return nil
		})
		if err != nil {
			return err
		}
		out = sess
		return nil
	}
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		return out, nil
	}
	return Session{}, fmt.Errorf("duel %s: too much contention", id)
}

// List returns every live session, pruning index entries whose key expired.
func (s *RedisStore) List(ctx context.Context) ([]Session, error) {
	ids, err := s.rdb.SMembers(ctx, keyIndex).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.load(ctx, s.rdb, id)
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.rdb.SRem(ctx, keyIndex, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sortSessions(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keySession(id))
	pipe.SRem(ctx, keyIndex, id)
	_, err := pipe.Exec(ctx)
	return err
}
