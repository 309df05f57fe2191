package stream

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eleven-am/voice-stream/internal/transport"
)

type ManagerConfig struct {
	Chat      Config
	Proactive Config
}

// Manager owns the chat and proactive clients. There is exactly one client
// per purpose and the two share nothing but the endpoint source and dialer.
type Manager struct {
	logger    *slog.Logger
	chat      *Client
	proactive *Client
}

func NewManager(cfg ManagerConfig, endpoints EndpointSource, dialer transport.Dialer, chat, proactive Callbacks, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Chat.Profile.Name == "" {
		cfg.Chat.Profile = ChatProfile()
	}
	if cfg.Proactive.Profile.Name == "" {
		cfg.Proactive.Profile = ProactiveProfile()
	}

	return &Manager{
		logger:    logger.With("component", "stream_manager"),
		chat:      New(cfg.Chat, endpoints, dialer, chat, logger),
		proactive: New(cfg.Proactive, endpoints, dialer, proactive, logger),
	}
}

func (m *Manager) Chat() *Client {
	return m.chat
}

func (m *Manager) Proactive() *Client {
	return m.proactive
}

func (m *Manager) Get(name string) (*Client, bool) {
	for _, c := range m.clients() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// ConnectAll dials every client. Failed clients keep retrying in the
// background; the joined first-attempt errors are returned.
func (m *Manager) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, c := range m.clients() {
		if err := c.Connect(ctx); err != nil {
			m.logger.Warn("initial connect failed", "stream", c.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) CloseAll() error {
	var errs []error
	for _, c := range m.clients() {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) clients() []*Client {
	return []*Client{m.chat, m.proactive}
}
