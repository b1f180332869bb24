// Package cache publishes the latest risk snapshot per dataset to a shared
// key-value store so read paths can skip the database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

// KV is the minimal key-value surface the cache needs.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
}

// RedisKV adapts a redis client to KV.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps a redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// cachedSnapshot is the wire form of a published snapshot.
type cachedSnapshot struct {
	ID            string               `json:"id"`
	DatasetID     string               `json:"dataset_id"`
	RiskScore     int                  `json:"risk_score"`
	RiskLevel     string               `json:"risk_level"`
	Breakdown     models.RiskBreakdown `json:"breakdown"`
	SmoothedScore int                  `json:"smoothed_score"`
	Alpha         float64              `json:"alpha"`
	DeltaScore    *float64             `json:"delta_score"`
	AccelScore    *float64             `json:"accel_score"`
	CreatedAt     time.Time            `json:"created_at"`
}

// RiskCache stores the latest snapshot per dataset under a fixed key prefix
// with a TTL. It is a read accelerator, never the source of truth.
type RiskCache struct {
	kv     KV
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRiskCache creates the cache facade.
func NewRiskCache(kv KV, prefix string, ttl time.Duration, logger *zap.Logger) *RiskCache {
	return &RiskCache{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RiskCache) key(datasetID string) string {
	return c.prefix + datasetID + ":risk"
}

// PublishRisk overwrites the cached snapshot for a dataset.
func (c *RiskCache) PublishRisk(ctx context.Context, snapshot *models.RiskSnapshot) error {
	payload, err := json.Marshal(cachedSnapshot{
		ID:            snapshot.ID,
		DatasetID:     snapshot.DatasetID,
		RiskScore:     snapshot.RiskScore,
		RiskLevel:     snapshot.RiskLevel,
		Breakdown:     snapshot.Breakdown,
		SmoothedScore: snapshot.SmoothedScore,
		Alpha:         snapshot.Alpha,
		DeltaScore:    snapshot.DeltaScore,
		AccelScore:    snapshot.AccelScore,
		CreatedAt:     snapshot.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.kv.Set(ctx, c.key(snapshot.DatasetID), string(payload), c.ttl); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// LatestRisk returns the cached snapshot, or nil on a miss.
func (c *RiskCache) LatestRisk(ctx context.Context, datasetID string) (*models.RiskSnapshot, error) {
	raw, found, err := c.kv.Get(ctx, c.key(datasetID))
	if err != nil {
		return nil, fmt.Errorf("failed to read cached snapshot: %w", err)
	}
	if !found {
		return nil, nil
	}

	var cached cachedSnapshot
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.logger.Warn("Dropping corrupt risk cache entry",
			zap.String("dataset_id", datasetID),
			zap.Error(err),
		)
		if delErr := c.kv.Del(ctx, c.key(datasetID)); delErr != nil {
			c.logger.Warn("Failed to drop corrupt risk cache entry", zap.Error(delErr))
		}
		return nil, nil
	}

	return &models.RiskSnapshot{
		ID:            cached.ID,
		DatasetID:     cached.DatasetID,
		RiskScore:     cached.RiskScore,
		RiskLevel:     cached.RiskLevel,
		Breakdown:     cached.Breakdown,
		SmoothedScore: cached.SmoothedScore,
		Alpha:         cached.Alpha,
		DeltaScore:    cached.DeltaScore,
		AccelScore:    cached.AccelScore,
		CreatedAt:     cached.CreatedAt,
	}, nil
}

// Invalidate removes a dataset's cached snapshot.
func (c *RiskCache) Invalidate(ctx context.Context, datasetID string) error {
	if err := c.kv.Del(ctx, c.key(datasetID)); err != nil {
		return fmt.Errorf("failed to invalidate cached snapshot: %w", err)
	}
	return nil
}
