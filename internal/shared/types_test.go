package shared

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id := NewID("msg_")
	if !strings.HasPrefix(id, "msg_") {
		t.Errorf("expected prefix msg_, got %s", id)
	}
	if len(id) != len("msg_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %d", len(id)-len("msg_"))
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "msg_")); err != nil {
		t.Errorf("expected a uuid after the prefix, got %v", err)
	}
	if NewID("") == NewID("") {
		t.Error("expected unique ids")
	}
}

func TestBackoffConfig_Normalize(t *testing.T) {
	tests := []struct {
		name  string
		input BackoffConfig
		want  BackoffConfig
	}{
		{
			name:  "empty config gets defaults",
			input: BackoffConfig{},
			want: BackoffConfig{
				Initial:     time.Second,
				Multiplier:  2,
				MaxDelay:    30 * time.Second,
				MaxFailures: 5,
			},
		},
		{
			name: "preserves non-zero values",
			input: BackoffConfig{
				Initial:     500 * time.Millisecond,
				Multiplier:  1.5,
				MaxDelay:    10 * time.Second,
				MaxFailures: 10,
			},
			want: BackoffConfig{
				Initial:     500 * time.Millisecond,
				Multiplier:  1.5,
				MaxDelay:    10 * time.Second,
				MaxFailures: 10,
			},
		},
		{
			name: "max delay never below initial",
			input: BackoffConfig{
				Initial:  5 * time.Second,
				MaxDelay: time.Second,
			},
			want: BackoffConfig{
				Initial:     5 * time.Second,
				Multiplier:  2,
				MaxDelay:    5 * time.Second,
				MaxFailures: 5,
			},
		},
		{
			name: "negative values treated as zero",
			input: BackoffConfig{
				Initial:     -time.Second,
				Multiplier:  -1,
				MaxDelay:    -time.Second,
				MaxFailures: -3,
			},
			want: BackoffConfig{
				Initial:     time.Second,
				Multiplier:  2,
				MaxDelay:    30 * time.Second,
				MaxFailures: 5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.input.Normalize()
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
