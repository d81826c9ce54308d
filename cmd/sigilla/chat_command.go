package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sigilla/internal/ipc"
	"sigilla/internal/session"
)

const (
	defaultWrapWidth = 80
	clearScreen      = "\x1b[2J\x1b[H"
	clearLine        = "\r\x1b[K"
	thinkingText     = "(thinking...)"
)

func newChatCommand(ctx *commandContext) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			interactive := isTerminalWriter(stdout)
			chat := &chatSession{
				in:          bufio.NewReader(cmd.InOrStdin()),
				out:         stdout,
				dial:        ctx.dialClient,
				interactive: interactive,
			}
			if interactive && !plain {
				chat.render = newMarkdownRenderer(terminalWidth(stdout))
			}
			return chat.run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print replies without markdown rendering")
	return cmd
}

// chatSession drives one interactive conversation over a single connection.
type chatSession struct {
	in          *bufio.Reader
	out         io.Writer
	dial        func() (*ipc.Client, error)
	render      func(string) string
	interactive bool

	client *ipc.Client
}

func (c *chatSession) run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Sigilla")
	client, err := c.dial()
	if err != nil {
		fmt.Fprintf(c.out, "✗ %v\n", err)
		return &exitError{code: 1}
	}
	c.client = client
	defer func() { _ = c.client.Close() }()

	if err := c.printStatus(ctx); err != nil {
		fmt.Fprintf(c.out, "✗ status failed: %v\n", err)
	}
	fmt.Fprintln(c.out, "Type your message. Press Enter on an empty line to send, /help for commands.")
	fmt.Fprintln(c.out)

	for {
		input, ok := c.readMessage()
		if !ok {
			break
		}
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "/quit", "/exit", "/q":
			fmt.Fprintln(c.out, "Farewell.")
			return nil
		case "/status":
			if err := c.printStatus(ctx); err != nil {
				fmt.Fprintf(c.out, "✗ status failed: %v\n", err)
			}
			continue
		case "/help":
			c.printHelp()
			continue
		case "/clear":
			if c.interactive {
				fmt.Fprint(c.out, clearScreen)
			}
			continue
		}
		if err := c.exchange(ctx, input); err != nil {
			fmt.Fprintf(c.out, "✗ %v\n", err)
			return &exitError{code: 1}
		}
	}
	fmt.Fprintln(c.out, "Farewell.")
	return nil
}

// readMessage collects lines until an empty line follows content. Leading
// empty lines are ignored. It returns false at end of input with nothing
// collected.
func (c *chatSession) readMessage() (string, bool) {
	if c.interactive {
		fmt.Fprintln(c.out, "┌─ You:")
	}
	var lines []string
	for {
		if c.interactive {
			fmt.Fprint(c.out, "│ ")
		}
		line, err := c.in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(lines) > 0 {
				break
			}
			if err != nil {
				return "", false
			}
			continue
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}
	return strings.Join(lines, "\n"), true
}

func (c *chatSession) printStatus(ctx context.Context) error {
	status, err := c.client.Status(ctx)
	if err != nil {
		return err
	}
	state := "connected"
	if !status.Running {
		state = "disconnected"
	}
	fmt.Fprintf(c.out, "session %s · %s\n", shortID(status.SessionID), state)
	return nil
}

func (c *chatSession) printHelp() {
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  /status  Show session status")
	fmt.Fprintln(c.out, "  /clear   Clear the screen")
	fmt.Fprintln(c.out, "  /quit    Exit (also /exit, /q)")
	fmt.Fprintln(c.out, "  /help    Show this help")
}

// exchange sends one message and prints the reply. A communication failure
// reconnects once; the request is retried only when the daemon never
// acknowledged it, so a message is never delivered twice.
func (c *chatSession) exchange(ctx context.Context, content string) error {
	reply, acked, err := c.ask(ctx, content)
	if err == nil {
		c.printReply(reply.Text)
		return nil
	}
	var remote *ipc.RemoteError
	if errors.As(err, &remote) {
		c.clearThinking(acked)
		fmt.Fprintf(c.out, "✗ %s\n\n", remote.Message)
		return nil
	}

	c.clearThinking(acked)
	fmt.Fprintf(c.out, "✗ Communication error: %v\n", err)
	if reconnectErr := c.reconnect(); reconnectErr != nil {
		return fmt.Errorf("failed to reconnect: %w", reconnectErr)
	}
	fmt.Fprintln(c.out, "Reconnected to daemon")
	if acked {
		return nil
	}

	reply, acked, err = c.ask(ctx, content)
	if err != nil {
		c.clearThinking(acked)
		if errors.As(err, &remote) {
			fmt.Fprintf(c.out, "✗ %s\n\n", remote.Message)
			return nil
		}
		return fmt.Errorf("retry failed: %w", err)
	}
	c.printReply(reply.Text)
	return nil
}

func (c *chatSession) ask(ctx context.Context, content string) (ipc.Reply, bool, error) {
	acked := false
	reply, err := c.client.Ask(ctx, content, func(msg session.Message) {
		if msg.Type == ipc.TypeAck {
			acked = true
			if c.interactive {
				fmt.Fprint(c.out, "│ "+thinkingText)
			} else {
				fmt.Fprintln(c.out, thinkingText)
			}
		}
	})
	return reply, acked, err
}

func (c *chatSession) clearThinking(acked bool) {
	if acked && c.interactive {
		fmt.Fprint(c.out, clearLine)
	}
}

func (c *chatSession) reconnect() error {
	_ = c.client.Close()
	client, err := c.dial()
	if err != nil {
		return err
	}
	c.client = client
	return nil
}

func (c *chatSession) printReply(text string) {
	c.clearThinking(true)
	if c.render != nil {
		text = c.render(text)
	}
	text = strings.TrimRight(text, "\n")
	if !c.interactive {
		fmt.Fprintln(c.out, text)
		fmt.Fprintln(c.out)
		return
	}
	fmt.Fprintln(c.out, "┌─ Sigilla:")
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(c.out, "│ %s\n", line)
	}
	fmt.Fprintln(c.out, "└"+strings.Repeat("─", 40))
	fmt.Fprintln(c.out)
}

func terminalWidth(w io.Writer) int {
	file, ok := w.(*os.File)
	if !ok {
		return defaultWrapWidth
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return defaultWrapWidth
	}
	return width
}

// newMarkdownRenderer returns a glamour renderer that falls back to the raw
// text when rendering fails.
func newMarkdownRenderer(width int) func(string) string {
	// Leave room for the "│ " gutter.
	wrap := width - 4
	if wrap < 20 {
		wrap = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return nil
	}
	return func(text string) string {
		out, err := renderer.Render(text)
		if err != nil {
			return text
		}
		return out
	}
}
