package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"qms/queueflow-service/internal/models"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "queueflow:counters"

type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]models.CounterConfig, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("parse redis settings: %w", err)
	}
	return doc.Counters, true, nil
}

func (s *RedisStore) Save(ctx context.Context, configs []models.CounterConfig) error {
	payload, err := json.Marshal(document{Counters: configs})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
