// Package snapshot mirrors the ladder to players.json and bans.json so the
// data can be carried between deployments or recovered after losing the database.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/internal/metrics"
)

const (
	PlayersFile = "players.json"
	BansFile    = "bans.json"
)

// Store is the slice of the durable store snapshots read from and write to.
type Store interface {
	AllRecords(ctx context.Context) ([]domain.PlayerRecord, error)
	ListBans(ctx context.Context) ([]domain.BanEntry, error)
	UpsertRecord(ctx context.Context, rec domain.PlayerRecord) error
	UpsertBan(ctx context.Context, ban domain.BanEntry) error
}

// Result counts what an import loaded and what it skipped.
type Result struct {
	Players int
	Bans    int
	Skipped int
}

type Snapshotter struct {
	dir     string
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(dir string, store Store, logger *zap.Logger) *Snapshotter {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{dir: dir, store: store, logger: logger, now: time.Now}
}

func (s *Snapshotter) AttachMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Snapshotter) Dir() string { return s.dir }

type playersDoc struct {
	Players []json.RawMessage `json:"players"`
}

type bansDoc struct {
	Bans []json.RawMessage `json:"bans"`
}

// Import loads whichever snapshot files exist. Bad entries are skipped one by
// one; a file that cannot be read or parsed is reported in the returned error
// while the other file is still imported.
func (s *Snapshotter) Import(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	var pdoc playersDoc
	found, err := s.readDoc(PlayersFile, &pdoc)
	if err != nil {
		errs = append(errs, err)
	}
	if found {
		for i, raw := range pdoc.Players {
			rec, err := decodeEntry(raw, decodePlayer)
			if err != nil {
				res.Skipped++
				s.logger.Warn("snapshot_skip_player", zap.Int("index", i), zap.Error(err))
				continue
			}
			if err := s.store.UpsertRecord(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("upsert player %d/%s: %w", rec.PlayerID, rec.Category, err))
				res.Skipped++
				continue
			}
			res.Players++
		}
	}

	var bdoc bansDoc
	found, err = s.readDoc(BansFile, &bdoc)
	if err != nil {
		errs = append(errs, err)
	}
	if found {
		now := s.now()
		for i, raw := range bdoc.Bans {
			ban, err := decodeEntry(raw, func(e entry) (domain.BanEntry, error) { return decodeBan(e, now) })
			if err != nil {
				res.Skipped++
				s.logger.Warn("snapshot_skip_ban", zap.Int("index", i), zap.Error(err))
				continue
			}
			if err := s.store.UpsertBan(ctx, ban); err != nil {
				errs = append(errs, fmt.Errorf("upsert ban %d: %w", ban.PlayerID, err))
				res.Skipped++
				continue
			}
			res.Bans++
		}
	}

	err = errors.Join(errs...)
	s.metrics.ObserveSnapshot("import", err)
	s.logger.Info("snapshot_import",
		zap.String("dir", s.dir),
		zap.Int("players", res.Players),
		zap.Int("bans", res.Bans),
		zap.Int("skipped", res.Skipped),
		zap.Bool("degraded", err != nil),
	)
	return res, err
}

func decodeEntry[T any](raw json.RawMessage, fn func(entry) (T, error)) (T, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		var zero T
		return zero, fmt.Errorf("not an object: %w", err)
	}
	return fn(e)
}

func (s *Snapshotter) readDoc(name string, v any) (bool, error) {
	path := filepath.Join(s.dir, name)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

type playerOut struct {
	PlayerID  int64  `json:"user_id"`
	Category  string `json:"category"`
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
	Winstreak int    `json:"winstreak"`
	Rating    int    `json:"elo"`
}

type banOut struct {
	PlayerID int64  `json:"user_id"`
	Reason   string `json:"reason"`
	BannedAt string `json:"banned_at"`
}

// Export writes both files. Each file is replaced atomically, so a crash
// leaves either the old or the new snapshot on disk.
func (s *Snapshotter) Export(ctx context.Context) (err error) {
	defer func() { s.metrics.ObserveSnapshot("export", err) }()

	recs, err := s.store.AllRecords(ctx)
	if err != nil {
		return fmt.Errorf("read players: %w", err)
	}
	bans, err := s.store.ListBans(ctx)
	if err != nil {
		return fmt.Errorf("read bans: %w", err)
	}

	players := make([]playerOut, 0, len(recs))
	for _, r := range recs {
		players = append(players, playerOut{
			PlayerID:  r.PlayerID,
			Category:  r.Category.String(),
			Kills:     r.Kills,
			Deaths:    r.Deaths,
			Wins:      r.Wins,
			Losses:    r.Losses,
			Winstreak: r.Winstreak,
			Rating:    r.Rating,
		})
	}
	banList := make([]banOut, 0, len(bans))
	for _, b := range bans {
		banList = append(banList, banOut{
			PlayerID: b.PlayerID,
			Reason:   b.Reason,
			BannedAt: b.BannedAt.UTC().Format(time.RFC3339),
		})
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, PlayersFile), map[string]any{"players": players}); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, BansFile), map[string]any{"bans": banList}); err != nil {
		return err
	}
	s.logger.Info("snapshot_export", zap.String("dir", s.dir), zap.Int("players", len(players)), zap.Int("bans", len(banList)))
	return nil
}

// ExportBestEffort exports and only logs failures. Used on shutdown and by autosave.
func (s *Snapshotter) ExportBestEffort(ctx context.Context) {
	if err := s.Export(ctx); err != nil {
		s.logger.Warn("snapshot_export_failed", zap.String("dir", s.dir), zap.Error(err))
	}
}

func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
