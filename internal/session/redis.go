package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionTTL keeps idle sessions from accumulating; an expired session
// simply falls back to the hybrid default.
const sessionTTL = 24 * time.Hour

// RedisStore keeps sessions in Redis so mode selection survives process
// restarts.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func sessionKey(phone string) string {
	return "ecobot:session:" + phone
}

func (s *RedisStore) Get(ctx context.Context, phone string) (Session, error) {
	data, err := s.client.Get(ctx, sessionKey(phone)).Bytes()
	if err == redis.Nil {
		return defaultSession(), nil
	}
	if err != nil {
		return defaultSession(), fmt.Errorf("failed to read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return defaultSession(), fmt.Errorf("failed to decode session: %w", err)
	}
	if sess.Mode == "" {
		sess.Mode = ModeHybrid
	}
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, phone string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(phone), data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
