package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/eleven-am/voice-stream/internal/stream"
	"github.com/spf13/cobra"
)

const eventBuffer = 256

func newSendCmd(opts *options) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a chat message and print the agent's reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			responses := make(chan protocol.Notification, eventBuffer)
			client, err := opts.client(cmd, stream.Config{Profile: stream.ChatProfile()}, stream.Callbacks{
				OnResponse: func(n protocol.Notification) { offer(responses, n) },
			})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			receipt, err := client.SendMessage(stream.OutboundMessage{Content: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			ack, err := receipt.Wait(ctx)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sent %s (session %s)\n", ack.MessageID, ack.SessionID)
			if noWait {
				return nil
			}

			select {
			case n := <-responses:
				fmt.Fprintln(out, n.Content)
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for reply: %w", ctx.Err())
			}
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "exit once the message is acknowledged")
	return cmd
}

func newChatCmd(opts *options) *cobra.Command {
	var tts, reasoning bool

	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Stream a response to a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			chunks := make(chan string, eventBuffer)
			ends := make(chan stream.StreamEnd, 1)
			failures := make(chan protocol.StreamError, 1)

			client, err := opts.client(cmd, stream.Config{Profile: stream.ChatProfile(), ShowReasoning: reasoning}, stream.Callbacks{
				OnChunk:          func(c stream.Chunk) { offer(chunks, c.Text) },
				OnStreamEnd:      func(e stream.StreamEnd) { offer(ends, e) },
				OnStreamingError: func(e protocol.StreamError) { offer(failures, e) },
				OnReasoning: func(r stream.Reasoning) {
					if r.Text != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "[thinking] %s\n", r.Text)
					}
				},
			})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if _, _, err := client.Chat(strings.Join(args, " "), tts); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for {
				select {
				case text := <-chunks:
					fmt.Fprint(out, text)
				case end := <-ends:
					drain(chunks, func(text string) { fmt.Fprint(out, text) })
					fmt.Fprintln(out)
					if end.Cancelled {
						return errors.New("stream cancelled")
					}
					return nil
				case e := <-failures:
					return e
				case <-ctx.Done():
					return fmt.Errorf("waiting for stream: %w", ctx.Err())
				}
			}
		},
	}

	cmd.Flags().BoolVar(&tts, "tts", false, "request speech for the response")
	cmd.Flags().BoolVar(&reasoning, "show-reasoning", false, "print reasoning to stderr")
	return cmd
}

func newListenCmd(opts *options) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print proactive messages until the timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			lines := make(chan string, eventBuffer)
			client, err := opts.client(cmd, stream.Config{Profile: stream.ProactiveProfile()}, stream.Callbacks{
				OnResponse: func(n protocol.Notification) { offer(lines, n.Content) },
				OnCustomEvent: func(e protocol.CustomEvent) {
					offer(lines, fmt.Sprintf("[%s] %s", e.Name, e.Payload))
				},
			})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			out := cmd.OutOrStdout()
			for seen := 0; count == 0 || seen < count; seen++ {
				select {
				case line := <-lines:
					fmt.Fprintln(out, line)
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.DeadlineExceeded) {
						return nil
					}
					return ctx.Err()
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many messages (0 waits for the timeout)")
	return cmd
}

func drain[T any](ch <-chan T, fn func(T)) {
	for {
		select {
		case v := <-ch:
			fn(v)
		default:
			return
		}
	}
}
