package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/guardrail/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Transcript implements ports.TranscriptSink as one Redis list per session.
type Transcript struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewTranscript creates a Transcript. A zero ttl keeps lists forever.
func NewTranscript(client *backend.Client, prefix string, ttl time.Duration) *Transcript {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Transcript{client: client, prefix: prefix, ttl: ttl}
}

func (t *Transcript) key(sessionID string) string {
	return t.prefix + "transcript:" + sessionID
}

// Append pushes turn onto the session's list.
func (t *Transcript) Append(ctx context.Context, turn domain.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	pipe := t.client.TxPipeline()
	pipe.RPush(ctx, t.key(turn.SessionID), data)
	if t.ttl > 0 {
		pipe.Expire(ctx, t.key(turn.SessionID), t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// Turns returns every recorded turn of a session in order.
func (t *Transcript) Turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	items, err := t.client.LRange(ctx, t.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	turns := make([]domain.Turn, 0, len(items))
	for i, item := range items {
		var turn domain.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("transcript entry %d: %w", i, err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
