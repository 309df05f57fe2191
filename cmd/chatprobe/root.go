package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/eleven-am/voice-stream/internal/auth"
	"github.com/eleven-am/voice-stream/internal/stream"
	"github.com/eleven-am/voice-stream/internal/transport"
	"github.com/spf13/cobra"
)

type options struct {
	url       string
	token     string
	timeout   time.Duration
	verbose   bool
	character string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "chatprobe",
		Short: "Talk to a chat stream backend from the terminal",
		Long: `chatprobe connects to a chat stream backend with the same client the
application uses, so reconnects, queueing and resume behave exactly as
they would in production.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.url, "url", envOr("CHATPROBE_URL", "http://localhost:8080"), "backend base URL (http, https, ws or wss)")
	flags.StringVar(&opts.token, "token", os.Getenv("CHATPROBE_TOKEN"), "access token")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "give up after this long")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection events to stderr")
	flags.StringVar(&opts.character, "character", "", "character name sent with messages")

	root.AddCommand(
		newSendCmd(opts),
		newChatCmd(opts),
		newListenCmd(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *options) client(cmd *cobra.Command, cfg stream.Config, cb stream.Callbacks) (*stream.Client, error) {
	endpoints, err := auth.NewProvider(o.url, auth.StaticToken(o.token))
	if err != nil {
		return nil, err
	}
	cfg.CharacterName = o.character
	return stream.New(cfg, endpoints, transport.NewWSDialer(), cb, o.logger(cmd.ErrOrStderr())), nil
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

// offer hands v to ch without ever blocking the socket reader.
func offer[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}
