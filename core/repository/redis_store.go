package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"model-orchestrator/core/models"
)

// RedisStore keeps the rolling performance history and the trigger status in Redis.
// History lives in one sorted set per model type scored by unix milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient creates a new Redis client and checks the connection
func NewRedisClient(ctx context.Context, address, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store using keys under prefix
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "orchestrator"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) historyKey(modelType models.ModelType) string {
	return fmt.Sprintf("%s:perf:%s", s.prefix, modelType)
}

func (s *RedisStore) triggerKey() string {
	return s.prefix + ":triggers"
}

// AppendPerformance adds one sample to the type's history
func (s *RedisStore) AppendPerformance(ctx context.Context, modelType models.ModelType, entry models.PerformanceHistoryEntry) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.historyKey(modelType), redis.Z{
		Score:  float64(entry.Timestamp.UnixMilli()),
		Member: string(member),
	}).Err()
}

// PerformanceHistory returns samples at or after since, oldest first
func (s *RedisStore) PerformanceHistory(ctx context.Context, modelType models.ModelType, since time.Time) ([]models.PerformanceHistoryEntry, error) {
	members, err := s.client.ZRangeByScore(ctx, s.historyKey(modelType), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]models.PerformanceHistoryEntry, 0, len(members))
	for _, m := range members {
		var e models.PerformanceHistoryEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("decode performance sample: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// TrimPerformance removes samples older than before
func (s *RedisStore) TrimPerformance(ctx context.Context, modelType models.ModelType, before time.Time) error {
	return s.client.ZRemRangeByScore(ctx, s.historyKey(modelType),
		"-inf", "("+strconv.FormatInt(before.UnixMilli(), 10)).Err()
}

// SaveTriggerStatus stores the last trigger of a model type
func (s *RedisStore) SaveTriggerStatus(ctx context.Context, status *models.TriggerStatus) error {
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.triggerKey(), string(status.ModelType), string(b)).Err()
}

// LoadTriggerStatuses returns every stored trigger status
func (s *RedisStore) LoadTriggerStatuses(ctx context.Context) ([]*models.TriggerStatus, error) {
	fields, err := s.client.HGetAll(ctx, s.triggerKey()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*models.TriggerStatus, 0, len(fields))
	for field, raw := range fields {
		var st models.TriggerStatus
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode trigger status for %s: %w", field, err)
		}
		out = append(out, &st)
	}
	return out, nil
}
