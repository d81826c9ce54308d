package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"sigilla/internal/lineio"
	"sigilla/internal/session"
)

const (
	dialTimeout          = 2 * time.Second
	maxResponseLineBytes = 64 << 20
)

// Client speaks the line protocol over one connection. It is not safe for
// concurrent use.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Reply is the outcome of one message request.
type Reply struct {
	// Text is the result text, or the last non-empty assistant text when the
	// result carries none.
	Text     string
	Acked    bool
	Messages []session.Message
}

// Dial connects to the daemon socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
		}
		return nil, err
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// SetTimeout bounds each call in addition to any context deadline. Zero
// disables the extra bound.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Ping checks the daemon is answering and reports the session state.
func (c *Client) Ping(ctx context.Context) (*PongResponse, error) {
	var resp PongResponse
	if err := c.roundTrip(ctx, Request{Type: TypePing}, TypePong, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the session state and the number of connected clients.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.roundTrip(ctx, Request{Type: TypeStatus}, TypeStatus, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ask sends one message request and reads until its terminal message. Each
// received message, including the ack, is passed to onMessage when non-nil.
// An error terminal is returned as *RemoteError alongside the partial Reply.
func (c *Client) Ask(ctx context.Context, content string, onMessage func(session.Message)) (Reply, error) {
	var reply Reply
	release, err := c.begin(ctx)
	if err != nil {
		return reply, err
	}
	defer release()

	if err := c.send(Request{Type: TypeMessage, Content: content}); err != nil {
		return reply, err
	}

	var lastAssistant string
	for {
		msg, err := c.receive(ctx)
		if err != nil {
			return reply, err
		}
		reply.Messages = append(reply.Messages, msg)
		if onMessage != nil {
			onMessage(msg)
		}
		switch msg.Type {
		case TypeAck:
			reply.Acked = true
		case session.TypeAssistant:
			if text := msg.Text(); text != "" {
				lastAssistant = text
			}
		case session.TypeResult:
			reply.Text = msg.Text()
			if reply.Text == "" {
				reply.Text = lastAssistant
			}
			return reply, nil
		case session.TypeError:
			reply.Text = lastAssistant
			return reply, &RemoteError{Message: msg.Text()}
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, req Request, want string, out any) error {
	release, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := c.send(req); err != nil {
		return err
	}
	msg, err := c.receive(ctx)
	if err != nil {
		return err
	}
	switch msg.Type {
	case want:
		if err := json.Unmarshal(msg.Raw, out); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrProtocol, want, err)
		}
		return nil
	case TypeError:
		return &RemoteError{Message: msg.Text()}
	default:
		return fmt.Errorf("%w: expected %s, got %q", ErrProtocol, want, msg.Type)
	}
}

// begin applies the call deadline and arranges for ctx cancellation to
// interrupt blocked reads.
func (c *Client) begin(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if c.timeout > 0 {
		if limit := time.Now().Add(c.timeout); !ok || limit.Before(deadline) {
			deadline, ok = limit, true
		}
	}
	if ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}, nil
}

func (c *Client) send(req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

func (c *Client) receive(ctx context.Context) (session.Message, error) {
	for {
		line, err := lineio.ReadLine(c.reader, maxResponseLineBytes)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return session.Message{}, ctxErr
			}
			return session.Message{}, fmt.Errorf("read response: %w", err)
		}
		if len(line) == 0 {
			continue
		}
		msg, err := session.ParseMessage(line)
		if err != nil {
			return session.Message{}, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return msg, nil
	}
}
