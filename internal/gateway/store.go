package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL = 24 * time.Hour
	streamTTL  = time.Hour

	tokenSessionKey = "token:%s:session"
	chunksKey       = "stream:%s:chunks"
	chunkSeqKey     = "stream:%s:seq"
	streamStateKey  = "stream:%s:state"
)

type StreamState string

const (
	StreamActive   StreamState = "active"
	StreamComplete StreamState = "complete"
)

// ChunkRecord is one text chunk as it was sent, kept for replay.
type ChunkRecord struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// Store keeps sessions and the chunk log of each session's latest stream in
// redis.
type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

// SessionFor returns the session bound to token, creating one on first use.
// Every socket opened with the same token shares the session.
func (s *Store) SessionFor(ctx context.Context, token string) (string, error) {
	key := fmt.Sprintf(tokenSessionKey, token)
	id := shared.NewID("sess_")

	created, err := s.redis.SetNX(ctx, key, id, sessionTTL).Result()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if created {
		return id, nil
	}

	id, err = s.redis.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	s.redis.Expire(ctx, key, sessionTTL)
	return id, nil
}

// BeginStream discards the previous stream's chunks. Chunk ids keep counting
// up across streams of a session.
func (s *Store) BeginStream(ctx context.Context, sessionID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(chunksKey, sessionID))
	pipe.Set(ctx, fmt.Sprintf(streamStateKey, sessionID), string(StreamActive), streamTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) AppendChunk(ctx context.Context, sessionID, content string) (int64, error) {
	seq := fmt.Sprintf(chunkSeqKey, sessionID)
	id, err := s.redis.Incr(ctx, seq).Result()
	if err != nil {
		return 0, fmt.Errorf("next chunk id: %w", err)
	}

	data, err := json.Marshal(ChunkRecord{ID: id, Content: content})
	if err != nil {
		return 0, err
	}

	key := fmt.Sprintf(chunksKey, sessionID)
	pipe := s.redis.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, streamTTL)
	pipe.Expire(ctx, seq, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("append chunk: %w", err)
	}
	return id, nil
}

func (s *Store) CompleteStream(ctx context.Context, sessionID string) error {
	return s.redis.Set(ctx, fmt.Sprintf(streamStateKey, sessionID), string(StreamComplete), streamTTL).Err()
}

// State returns shared.ErrNotFound when the session has no stream on record.
func (s *Store) State(ctx context.Context, sessionID string) (StreamState, error) {
	v, err := s.redis.Get(ctx, fmt.Sprintf(streamStateKey, sessionID)).Result()
	if err == redis.Nil {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return StreamState(v), nil
}

// ChunksAfter returns the logged chunks with an id greater than after, in
// send order.
func (s *Store) ChunksAfter(ctx context.Context, sessionID string, after int64) ([]ChunkRecord, error) {
	raw, err := s.redis.LRange(ctx, fmt.Sprintf(chunksKey, sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []ChunkRecord
	for _, item := range raw {
		var rec ChunkRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		if rec.ID > after {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
