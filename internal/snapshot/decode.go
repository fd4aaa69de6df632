package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/internal/storage"
)

type entry map[string]json.RawMessage

func (e entry) present(key string) bool {
	raw, ok := e[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// intField reads key as a JSON number or a numeric string, returning def when absent.
func (e entry) intField(key string, def int64) (int64, error) {
	if !e.present(key) {
		return def, nil
	}
	raw := e[key]
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return parseNumber(string(n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%s: not a number", key)
	}
	v, err := parseNumber(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func parseNumber(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return int64(f), nil
}

func (e entry) stringField(key, def string) (string, error) {
	if !e.present(key) {
		return def, nil
	}
	var s string
	if err := json.Unmarshal(e[key], &s); err != nil {
		return "", fmt.Errorf("%s: not a string", key)
	}
	return s, nil
}

func decodePlayer(e entry) (domain.PlayerRecord, error) {
	if !e.present("user_id") {
		return domain.PlayerRecord{}, fmt.Errorf("user_id missing")
	}
	uid, err := e.intField("user_id", 0)
	if err != nil {
		return domain.PlayerRecord{}, err
	}
	catName, err := e.stringField("category", string(domain.DefaultCategory))
	if err != nil {
		return domain.PlayerRecord{}, err
	}
	cat, err := domain.ParseCategory(catName)
	if err != nil {
		return domain.PlayerRecord{}, err
	}

	rec := domain.NewPlayerRecord(uid, cat)
	fields := []struct {
		key string
		dst *int
		def int64
	}{
		{"kills", &rec.Kills, 0},
		{"deaths", &rec.Deaths, 0},
		{"wins", &rec.Wins, 0},
		{"losses", &rec.Losses, 0},
		{"winstreak", &rec.Winstreak, 0},
		{"elo", &rec.Rating, domain.DefaultRating},
	}
	for _, f := range fields {
		v, err := e.intField(f.key, f.def)
		if err != nil {
			return domain.PlayerRecord{}, err
		}
		if v > math.MaxInt32 {
			return domain.PlayerRecord{}, fmt.Errorf("%s: out of range", f.key)
		}
		*f.dst = int(max(0, v))
	}
	return rec, nil
}

func decodeBan(e entry, now time.Time) (domain.BanEntry, error) {
	if !e.present("user_id") {
		return domain.BanEntry{}, fmt.Errorf("user_id missing")
	}
	uid, err := e.intField("user_id", 0)
	if err != nil {
		return domain.BanEntry{}, err
	}
	reason, err := e.stringField("reason", domain.DefaultBanReason)
	if err != nil {
		return domain.BanEntry{}, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = domain.DefaultBanReason
	}
	at, err := e.stringField("banned_at", "")
	if err != nil {
		return domain.BanEntry{}, err
	}
	bannedAt := now
	if strings.TrimSpace(at) != "" {
		bannedAt, err = storage.ParseTimestamp(at)
		if err != nil {
			return domain.BanEntry{}, fmt.Errorf("banned_at: %w", err)
		}
	}
	return domain.BanEntry{PlayerID: uid, Reason: reason, BannedAt: bannedAt}, nil
}
