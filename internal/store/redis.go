package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Repository on Redis. Each record is one JSON string;
// a per-learner set indexes the learner's lessons for ListProgress.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return NewRedisWithClient(client, opts.Prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "lessonroute"
	}
	return &RedisStore{client: client, prefix: prefix}
}

var _ Repository = (*RedisStore)(nil)

// Each identifier is escaped so that no two keys can join to the same string.
func (s *RedisStore) contextKey(k domain.Key) string {
	return s.prefix + ":ctx:" + url.QueryEscape(k.LearnerID) + ":" + url.QueryEscape(k.LessonID)
}

func (s *RedisStore) progressKey(k domain.Key) string {
	return s.prefix + ":progress:" + url.QueryEscape(k.LearnerID) + ":" + url.QueryEscape(k.LessonID)
}

func (s *RedisStore) lessonsKey(learnerID string) string {
	return s.prefix + ":lessons:" + url.QueryEscape(learnerID)
}

func (s *RedisStore) LoadContext(ctx context.Context, key domain.Key) (*domain.ChainContext, error) {
	raw, err := s.client.Get(ctx, s.contextKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chain context: %w", err)
	}
	var c domain.ChainContext
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode chain context %s: %w", key, err)
	}
	return &c, nil
}

func (s *RedisStore) SaveContext(ctx context.Context, c *domain.ChainContext) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chain context: %w", err)
	}
	if err := s.client.Set(ctx, s.contextKey(c.Key), raw, 0).Err(); err != nil {
		return fmt.Errorf("set chain context: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteContext(ctx context.Context, key domain.Key) error {
	if err := s.client.Del(ctx, s.contextKey(key)).Err(); err != nil {
		return fmt.Errorf("delete chain context: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadProgress(ctx context.Context, key domain.Key) (*domain.LessonProgress, error) {
	raw, err := s.client.Get(ctx, s.progressKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson progress: %w", err)
	}
	return decodeProgress(string(raw))
}

// SaveProgress writes the record and its index entry in one MULTI/EXEC.
func (s *RedisStore) SaveProgress(ctx context.Context, p *domain.LessonProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode lesson progress: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.progressKey(p.Key), raw, 0)
		pipe.SAdd(ctx, s.lessonsKey(p.Key.LearnerID), p.Key.LessonID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save lesson progress: %w", err)
	}
	return nil
}

func (s *RedisStore) ListProgress(ctx context.Context, learnerID string) ([]*domain.LessonProgress, error) {
	lessons, err := s.client.SMembers(ctx, s.lessonsKey(learnerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	if len(lessons) == 0 {
		return nil, nil
	}
	slices.Sort(lessons)

	keys := make([]string, len(lessons))
	for i, lessonID := range lessons {
		keys[i] = s.progressKey(domain.Key{LearnerID: learnerID, LessonID: lessonID})
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load lesson progress: %w", err)
	}

	out := make([]*domain.LessonProgress, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := decodeProgress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
