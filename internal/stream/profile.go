package stream

import (
	"time"

	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/transport"
)

const (
	defaultAckTimeout  = 30 * time.Second
	defaultPingTimeout = 60 * time.Second
)

// Profile is the per-purpose connection tuning.
type Profile struct {
	Name           string
	Path           string
	Backoff        shared.BackoffConfig
	PingTimeout    time.Duration
	AwaitHandshake bool
}

func ChatProfile() Profile {
	return Profile{
		Name: "chat",
		Path: "/ws/chat",
		Backoff: shared.BackoffConfig{
			Initial:     time.Second,
			Multiplier:  1.5,
			MaxDelay:    10 * time.Second,
			MaxFailures: 10,
		},
		PingTimeout:    defaultPingTimeout,
		AwaitHandshake: true,
	}
}

func ProactiveProfile() Profile {
	return Profile{
		Name: "proactive",
		Path: "/ws/proactive",
		Backoff: shared.BackoffConfig{
			Initial:     time.Second,
			Multiplier:  2.0,
			MaxDelay:    60 * time.Second,
			MaxFailures: 5,
		},
		PingTimeout:    defaultPingTimeout,
		AwaitHandshake: true,
	}
}

type Config struct {
	Profile       Profile
	ShowReasoning bool
	// CharacterName is used when an outbound message does not name one.
	CharacterName string
	AckTimeout    time.Duration
	Scheduler     transport.Scheduler
}

func (c Config) normalize() Config {
	if c.Profile.Name == "" {
		c.Profile = ChatProfile()
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.Scheduler == nil {
		c.Scheduler = transport.SystemScheduler
	}
	return c
}
