package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	chatChannel      = "session:%s:chat"
	proactiveChannel = "session:%s:proactive"

	subscriberBuffer = 64
)

// Kind selects which of a session's two fan-out channels a socket follows.
type Kind string

const (
	KindChat      Kind = "chat"
	KindProactive Kind = "proactive"
)

func (k Kind) channel(sessionID string) string {
	if k == KindProactive {
		return fmt.Sprintf(proactiveChannel, sessionID)
	}
	return fmt.Sprintf(chatChannel, sessionID)
}

// Bridge fans frames out to every socket of a session over redis pub/sub,
// so a message sent from one tab reaches the others.
type Bridge struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewBridge(redisClient *redis.Client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		redis:  redisClient,
		logger: logger.With("component", "bridge"),
	}
}

func (b *Bridge) Publish(ctx context.Context, kind Kind, sessionID string, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	channel := kind.channel(sessionID)
	if err := b.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}

	b.logger.Debug("published frame", "channel", channel, "session_id", sessionID)
	return nil
}

// Subscribe returns the frames published for the session until ctx ends.
// It returns once the subscription is confirmed, so nothing published after
// it returns is missed.
func (b *Bridge) Subscribe(ctx context.Context, kind Kind, sessionID string) (<-chan []byte, error) {
	channel := kind.channel(sessionID)
	pubsub := b.redis.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	msgs := pubsub.Channel()

	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	b.logger.Debug("subscribed", "channel", channel)
	return out, nil
}
