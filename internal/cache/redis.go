package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"whiteboard-backend/internal/recording"
)

// RedisClient wraps the Redis client shared by presence and the frame buffer
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client}, nil
}

// Wrap adopts an existing client (tests pass a miniredis-backed one)
func Wrap(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Client returns the underlying go-redis client
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// =============================================================================
// Frame buffer - 녹화 프레임을 Redis 리스트에 저장
// =============================================================================

// FrameBuffer stores recording frames in one Redis list per session.
// Frames are kept for ttl after the last append.
type FrameBuffer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFrameBuffer creates a frame store on top of Redis
func NewFrameBuffer(r *RedisClient, ttl time.Duration) *FrameBuffer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &FrameBuffer{client: r.client, ttl: ttl}
}

func framesKey(sessionID string) string {
	return "recording:" + sessionID + ":frames"
}

// AppendFrames appends a batch in one transaction, so a batch is stored whole or not at all
func (f *FrameBuffer) AppendFrames(ctx context.Context, sessionID string, frames []recording.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	values := make([]any, 0, len(frames))
	for i := range frames {
		data, err := json.Marshal(&frames[i])
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", frames[i].Seq, err)
		}
		values = append(values, data)
	}

	key := framesKey(sessionID)
	pipe := f.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, f.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Redis] Failed to append %d frames for %s: %v", len(frames), sessionID, err)
		return err
	}
	return nil
}

// Frames returns every stored frame of a session in append order
func (f *FrameBuffer) Frames(ctx context.Context, sessionID string) ([]recording.Frame, error) {
	results, err := f.client.LRange(ctx, framesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	frames := make([]recording.Frame, 0, len(results))
	for _, data := range results {
		var fr recording.Frame
		if err := json.Unmarshal([]byte(data), &fr); err != nil {
			return nil, fmt.Errorf("decode frame of %s: %w", sessionID, err)
		}
		frames = append(frames, fr)
	}
	return frames, nil
}

// FrameCount returns the number of stored frames of a session
func (f *FrameBuffer) FrameCount(ctx context.Context, sessionID string) (int64, error) {
	return f.client.LLen(ctx, framesKey(sessionID)).Result()
}

// DeleteFrames removes the frames of a session
func (f *FrameBuffer) DeleteFrames(ctx context.Context, sessionID string) error {
	return f.client.Del(ctx, framesKey(sessionID)).Err()
}
