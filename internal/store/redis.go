package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradingroom/game-engine/internal/model"
)

// CachedLog wraps a primary Log with a Redis read-through cache for the
// scoreboard queries. Appends go to the primary log and invalidate the
// cache; reads check Redis first then fall back to the primary. Useful
// when many browsers poll the leaderboard between rounds.
type CachedLog struct {
	primary Log
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedLog creates a cached wrapper around a primary log.
func NewCachedLog(primary Log, rdb *redis.Client, ttl time.Duration) *CachedLog {
	return &CachedLog{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (write to primary, invalidate cache) ---

func (l *CachedLog) Append(ctx context.Context, rec *model.SubmissionRecord) error {
	if err := l.primary.Append(ctx, rec); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	l.rdb.Del(ctx, allKey(), participantKey(rec.Participant))
	return nil
}

func (l *CachedLog) Clear(ctx context.Context) error {
	if err := l.primary.Clear(ctx); err != nil {
		return err
	}
	// Full wipe: drop everything cached under the log prefix.
	keys, err := l.rdb.Keys(ctx, "submissions:*").Result()
	if err == nil && len(keys) > 0 {
		l.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Reads (check cache first) ---

func (l *CachedLog) ListAll(ctx context.Context) ([]model.SubmissionRecord, error) {
	if records, ok := l.cached(ctx, allKey()); ok {
		return records, nil
	}

	records, err := l.primary.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	l.cache(ctx, allKey(), records)
	return records, nil
}

func (l *CachedLog) ListByParticipant(ctx context.Context, participant string) ([]model.SubmissionRecord, error) {
	if records, ok := l.cached(ctx, participantKey(participant)); ok {
		return records, nil
	}

	records, err := l.primary.ListByParticipant(ctx, participant)
	if err != nil {
		return nil, err
	}
	l.cache(ctx, participantKey(participant), records)
	return records, nil
}

// --- Cache helpers ---

func (l *CachedLog) cached(ctx context.Context, key string) ([]model.SubmissionRecord, bool) {
	data, err := l.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var records []model.SubmissionRecord
	if json.Unmarshal(data, &records) != nil {
		return nil, false
	}
	return records, true
}

func (l *CachedLog) cache(ctx context.Context, key string, records []model.SubmissionRecord) {
	if data, err := json.Marshal(records); err == nil {
		l.rdb.Set(ctx, key, data, l.ttl)
	}
}

func allKey() string                 { return "submissions:all" }
func participantKey(p string) string { return fmt.Sprintf("submissions:participant:%s", p) }
