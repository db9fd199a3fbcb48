package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/client"
	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/logging"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/spf13/cobra"
)

const leaveGrace = 2 * time.Second

var (
	chatURL      string
	chatName     string
	chatLogLevel string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a relay from the terminal",
	Long: `Join a relay and chat from the terminal. Each input line is sent as a
message. Messages typed while disconnected are queued and sent in order once
the connection is back.

Commands:
  /nick <name>   Change your display name
  /reply         Reply to the last message received
  /cancel        Drop the pending reply
  /retry         Retry every failed message
  /status        Show the delivery state of your messages
  /quit          Leave the room

Examples:
  relay chat --name Ann
  relay chat --url ws://chat.example.com/ws --name Bo`,
	RunE: chatHandler,
}

// chatView prints session updates as plain text lines.
type chatView struct {
	mu   sync.Mutex
	out  io.Writer
	last protocol.ChatMessage
}

func (v *chatView) observe(u client.Update) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch u.Kind {
	case client.UpdateMessage:
		v.last = u.Message
		ts := time.UnixMilli(u.Message.Time).Format("15:04")
		if u.Message.ReplyTo != nil {
			fmt.Fprintf(v.out, "        > %s: %s\n", u.Message.ReplyTo.User, u.Message.ReplyTo.Message)
		}
		fmt.Fprintf(v.out, "[%s] %s: %s\n", ts, u.Message.User, u.Message.Message)
	case client.UpdateDelivery:
		switch u.Entry.State {
		case delivery.Delivered, delivery.Undelivered, delivery.Failed:
			fmt.Fprintf(v.out, "  (%s: %s)\n", excerpt(u.Entry.Message.Message), u.Entry.State)
		}
	case client.UpdateCount:
		fmt.Fprintf(v.out, "* %d online\n", u.Count)
	case client.UpdateTyping:
		if u.Text != "" {
			fmt.Fprintf(v.out, "* %s\n", u.Text)
		}
	default:
		if u.Text != "" {
			fmt.Fprintf(v.out, "* %s\n", u.Text)
		}
	}
}

func (v *chatView) lastMessage() (protocol.ChatMessage, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last, v.last.Message != ""
}

func excerpt(s string) string {
	return protocol.Truncate(s, 24)
}

func chatHandler(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(chatName) == "" {
		return errors.New("--name is required")
	}
	logging.NewWithWriter(cmd.ErrOrStderr(), "text", chatLogLevel)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	view := &chatView{out: cmd.OutOrStdout()}
	c := client.New(client.Config{URL: chatURL, Name: chatName}, client.WithObserver(view.observe))
	session := c.Session()

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
		cancel()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return <-runErr
		case line, ok := <-lines:
			if !ok {
				_ = session.Leave(ctx)
				return awaitLeave(cancel, runErr)
			}
			if quit := chatCommand(ctx, cmd.OutOrStdout(), session, view, line); quit {
				return awaitLeave(cancel, runErr)
			}
		}
	}
}

// awaitLeave gives the server a moment to close the connection after leave.
func awaitLeave(cancel context.CancelFunc, runErr <-chan error) error {
	select {
	case err := <-runErr:
		return err
	case <-time.After(leaveGrace):
		cancel()
		return <-runErr
	}
}

// chatCommand handles one input line and reports whether to quit.
func chatCommand(ctx context.Context, out io.Writer, s *client.Session, view *chatView, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/quit":
		if err := s.Leave(ctx); err != nil {
			fmt.Fprintf(out, "! leave: %v\n", err)
		}
		return true
	case "/nick":
		if err := s.Rename(ctx, arg); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/reply":
		last, ok := view.lastMessage()
		if !ok {
			fmt.Fprintln(out, "! nothing to reply to")
			return false
		}
		s.SetReply(last)
		fmt.Fprintf(out, "* replying to %s\n", last.User)
	case "/cancel":
		s.CancelReply()
	case "/retry":
		for _, e := range s.Entries() {
			if e.State != delivery.Failed {
				continue
			}
			if err := s.Retry(ctx, e.Message.ClientID); err != nil {
				fmt.Fprintf(out, "! retry: %v\n", err)
			}
		}
	case "/status":
		for _, e := range s.Entries() {
			fmt.Fprintf(out, "  %-12s %s\n", e.State, excerpt(e.Message.Message))
		}
		if n := s.Queued(); n > 0 {
			fmt.Fprintf(out, "  %d queued until the connection is back\n", n)
		}
	default:
		if strings.HasPrefix(name, "/") {
			fmt.Fprintf(out, "! unknown command %s\n", name)
			return false
		}
		// Lines arrive whole from the terminal, so one keystroke per line is
		// all the typing indicator gets; Compose announces the stop.
		s.Keystroke()
		if _, err := s.Compose(ctx, line); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatURL, "url", "ws://localhost:8080/ws", "Relay websocket URL")
	chatCmd.Flags().StringVarP(&chatName, "name", "n", "", "Display name")
	chatCmd.Flags().StringVar(&chatLogLevel, "log-level", "warn", "Log level for connection diagnostics")
}
