// Package redis implements the gateway's stores on Redis. Counters use
// INCR/DECR so increments are atomic at the store, and the link
// operation runs as a watched MULTI/EXEC transaction across both
// identity documents.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/storage"
)

// Store implements IdentityStore, SettingsStore, and CounterStore.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client (tests).
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func identityKey(id string) string {
	return "users:" + id
}

func settingsKey(id string) string {
	return "users:" + id + ":settings:llm"
}

func counterKey(key string) string {
	return "counters:" + key
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Identity, error) {
	fields, err := s.client.HGetAll(ctx, identityKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}
	return identityFromFields(id, fields), nil
}

func (s *Store) Create(ctx context.Context, identity *domain.Identity) error {
	// HSETNX on the id field keeps creation idempotent under races; the
	// remaining fields are only written by the first creator.
	created, err := s.client.HSetNX(ctx, identityKey(identity.ID), "id", identity.ID).Result()
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	return s.client.HSet(ctx, identityKey(identity.ID), identityFields(identity)).Err()
}

func (s *Store) IncrementAnonymousCount(ctx context.Context, id string, delta int) (int, error) {
	exists, err := s.client.Exists(ctx, identityKey(id)).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, storage.ErrNotFound
	}
	n, err := s.client.HIncrBy(ctx, identityKey(id), "anonymousRequestCount", int64(delta)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) MarkPersistent(ctx context.Context, id string) error {
	return s.client.HSet(ctx, identityKey(id), "isAnonymous", "0").Err()
}

func (s *Store) SetTier(ctx context.Context, id string, tier domain.Tier) error {
	return s.client.HSet(ctx, identityKey(id), "tier", string(tier)).Err()
}

func (s *Store) SetThrottleUnlocked(ctx context.Context, id string, unlocked bool) error {
	return s.client.HSet(ctx, identityKey(id), "throttleUnlocked", boolField(unlocked)).Err()
}

func (s *Store) Link(ctx context.Context, oldID, newID string) error {
	oldKey, newKey := identityKey(oldID), identityKey(newID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, oldKey).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return storage.ErrNotFound
		}

		old := identityFromFields(oldID, fields)
		linked := *old
		linked.ID = newID
		linked.IsAnonymous = false
		linked.AnonymousRequestCount = 0
		linked.LinkedTo = ""

		// Both documents land in one MULTI/EXEC; a partial link is never
		// observable.
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, newKey, identityFields(&linked))
		pipe.HSet(ctx, oldKey, "linkedTo", newID)
		_, err = pipe.Exec(ctx)
		return err
	}, oldKey, newKey)
}

func (s *Store) GetSettings(ctx context.Context, identityID string) (*domain.ModelSettings, error) {
	raw, err := s.client.Get(ctx, settingsKey(identityID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var settings domain.ModelSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) PutSettings(ctx context.Context, identityID string, settings *domain.ModelSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, settingsKey(identityID), raw, 0).Err()
}

func (s *Store) IncrementWindow(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	k := counterKey(key)

	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	if n == 1 {
		if err := s.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, 0, err
		}
		return int(n), window, nil
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// Key survived without an expiry (interrupted first increment);
		// restart the window rather than pinning the counter forever.
		if err := s.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return int(n), ttl, nil
}

func (s *Store) IncrementTotal(ctx context.Context, key string) (int, error) {
	n, err := s.client.Incr(ctx, counterKey(key)).Result()
	return int(n), err
}

func (s *Store) Decrement(ctx context.Context, key string) error {
	return s.client.Decr(ctx, counterKey(key)).Err()
}

// Settings returns the store's SettingsStore view.
func (s *Store) Settings() storage.SettingsStore {
	return settingsView{s}
}

type settingsView struct {
	s *Store
}

func (v settingsView) Get(ctx context.Context, identityID string) (*domain.ModelSettings, error) {
	return v.s.GetSettings(ctx, identityID)
}

func (v settingsView) Put(ctx context.Context, identityID string, settings *domain.ModelSettings) error {
	return v.s.PutSettings(ctx, identityID, settings)
}

func identityFields(identity *domain.Identity) map[string]interface{} {
	return map[string]interface{}{
		"id":                    identity.ID,
		"tier":                  string(identity.Tier),
		"isAnonymous":           boolField(identity.IsAnonymous),
		"anonymousRequestCount": strconv.Itoa(identity.AnonymousRequestCount),
		"throttleUnlocked":      boolField(identity.ThrottleUnlocked),
		"linkedTo":              identity.LinkedTo,
	}
}

func identityFromFields(id string, fields map[string]string) *domain.Identity {
	count, _ := strconv.Atoi(fields["anonymousRequestCount"])
	tier := domain.Tier(fields["tier"])
	if tier == "" {
		tier = domain.TierFree
	}
	return &domain.Identity{
		ID:                    id,
		Tier:                  tier,
		IsAnonymous:           fields["isAnonymous"] == "1",
		AnonymousRequestCount: count,
		ThrottleUnlocked:      fields["throttleUnlocked"] == "1",
		LinkedTo:              fields["linkedTo"],
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var (
	_ storage.IdentityStore = (*Store)(nil)
	_ storage.CounterStore  = (*Store)(nil)
)
