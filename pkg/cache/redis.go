package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"voxmeet/pkg/model"

	"github.com/redis/go-redis/v9"
)

var ErrKeyNotFound = errors.New("key not found")

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL applies to every meeting key; zero keeps them forever
	TTL time.Duration
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    opts.TTL,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to get key: %w", err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}

	return nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	return r.SetWithTTL(ctx, key, value, r.ttl)
}

func (r *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// AddSegment stores the segment in the meeting's sorted set, scored by start time
func (r *RedisCache) AddSegment(ctx context.Context, meetingID string, seg model.Segment) error {
	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("failed to marshal segment: %w", err)
	}

	key := SegmentsKey(meetingID)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(seg.StartTime), Member: data})
	r.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add segment: %w", err)
	}
	return nil
}

// Segments returns the cached transcript in timeline order
func (r *RedisCache) Segments(ctx context.Context, meetingID string) ([]model.Segment, error) {
	members, err := r.client.ZRange(ctx, SegmentsKey(meetingID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}
	return decodeSegments(members)
}

func decodeSegments(members []string) ([]model.Segment, error) {
	segments := make([]model.Segment, 0, len(members))
	for _, m := range members {
		var seg model.Segment
		if err := json.Unmarshal([]byte(m), &seg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segment: %w", err)
		}
		segments = append(segments, seg)
	}
	// equal scores come back in member order
	model.SortSegments(segments)
	return segments, nil
}

func (r *RedisCache) SaveSpeaker(ctx context.Context, meetingID string, sp model.Speaker) error {
	data, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("failed to marshal speaker: %w", err)
	}

	key := SpeakersKey(meetingID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, sp.ID, data)
	r.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save speaker: %w", err)
	}
	return nil
}

func (r *RedisCache) Speakers(ctx context.Context, meetingID string) (map[string]model.Speaker, error) {
	raw, err := r.client.HGetAll(ctx, SpeakersKey(meetingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read speakers: %w", err)
	}

	speakers := make(map[string]model.Speaker, len(raw))
	for id, data := range raw {
		var sp model.Speaker
		if err := json.Unmarshal([]byte(data), &sp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal speaker: %w", err)
		}
		speakers[id] = sp
	}
	return speakers, nil
}

func (r *RedisCache) SetLiveText(ctx context.Context, meetingID, text string) error {
	return r.Set(ctx, LiveTextKey(meetingID), text)
}

func (r *RedisCache) SetProgress(ctx context.Context, meetingID string, p Progress) error {
	return r.Set(ctx, ProgressKey(meetingID), p)
}

func (r *RedisCache) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
}
