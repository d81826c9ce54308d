package ipc

import (
	"context"
	"errors"

	"sigilla/internal/session"
	"sigilla/internal/transcript"
)

// Request and response type tags.
const (
	TypePing    = "ping"
	TypePong    = "pong"
	TypeStatus  = "status"
	TypeMessage = "message"
	TypeAck     = "ack"
	TypeError   = "error"
)

// Daemon-originated error texts.
const (
	ErrTextEmptyMessage = "Empty message"
	ErrTextNotRunning   = "Claude session not running"
	ErrTextTimeout      = "Timed out waiting for response"
)

var (
	// ErrUnavailable reports a missing socket or a refused connection.
	ErrUnavailable = errors.New("daemon unavailable")
	// ErrServerRunning reports a live server already bound to the socket path.
	ErrServerRunning = errors.New("another server is listening on the socket")
	// ErrProtocol reports a response line the client could not decode.
	ErrProtocol = errors.New("protocol error")
)

// Request is one client line.
type Request struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// PongResponse answers ping.
type PongResponse struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Running   bool   `json:"running"`
}

// StatusResponse answers status.
type StatusResponse struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	Running       bool   `json:"running"`
	ActiveClients int    `json:"active_clients"`
}

// AckResponse is sent once a message request holds the gate.
type AckResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ErrorResponse carries a daemon-originated failure.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// RemoteError is an error payload received from the daemon or the backend.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Backend is the session surface the server needs.
type Backend interface {
	SessionID() string
	IsRunning() bool
	Stream(ctx context.Context, content string, fn func(session.Message) error) error
}

// TurnRecorder persists completed turns.
type TurnRecorder interface {
	Record(ctx context.Context, turn transcript.Turn) (int64, error)
}
