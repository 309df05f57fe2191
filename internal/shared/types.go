package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns prefix followed by a random UUID without dashes.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BackoffConfig drives reconnect timing. MaxFailures is the number of
// consecutive failed attempts after which retries stop.
type BackoffConfig struct {
	Initial     time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxFailures int
}

func (c BackoffConfig) Normalize() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.Initial {
		c.MaxDelay = c.Initial
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	return c
}

type Source string

const (
	SourceText               Source = "text"
	SourceAudioTranscription Source = "audio_transcription"
)

func (s Source) String() string {
	return string(s)
}

type Direction string

const (
	DirectionUserToAgent Direction = "user_to_agent"
	DirectionAgentToUser Direction = "agent_to_user"
)

func (d Direction) String() string {
	return string(d)
}
