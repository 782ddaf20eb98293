// Package command implements the local control plane.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/sniff"
)

// Methods served over the control socket.
const (
	MethodSessionStatus = "session.status"
	MethodSessionStop   = "session.stop"
)

// SessionInfo is the subset of *sniff.Session the handler reports on.
type SessionInfo interface {
	State() sniff.State
	Port() int
	Registered() bool
	ContentType() cjdnshdr.ContentType
	Stats() sniff.Stats
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	session      SessionInfo
	shutdownFunc func() // called by session.stop to trigger a graceful stop
	startTime    time.Time
}

// NewCommandHandler creates a handler reporting on session.
func NewCommandHandler(session SessionInfo) *CommandHandler {
	return &CommandHandler{
		session:   session,
		startTime: time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by session.stop.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`

	after func() // run once the response has been delivered
}

// Done runs any action deferred until the response was delivered.
func (r Response) Done() {
	if r.after != nil {
		r.after()
	}
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// SessionStatus is the result of session.status.
type SessionStatus struct {
	PID           int         `json:"pid"`
	State         string      `json:"state"`
	ContentType   string      `json:"content_type"`
	Port          int         `json:"port"`
	Registered    bool        `json:"registered"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Stats         sniff.Stats `json:"stats"`
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodSessionStatus:
		return h.handleSessionStatus(cmd)
	case MethodSessionStop:
		return h.handleSessionStop(cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

func (h *CommandHandler) handleSessionStatus(cmd Command) Response {
	if h.session == nil {
		return Response{
			ID:    cmd.ID,
			Error: &ErrorInfo{Code: ErrCodeInternalError, Message: "no session"},
		}
	}
	return Response{
		ID: cmd.ID,
		Result: SessionStatus{
			PID:           os.Getpid(),
			State:         h.session.State().String(),
			ContentType:   h.session.ContentType().String(),
			Port:          h.session.Port(),
			Registered:    h.session.Registered(),
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
			Stats:         h.session.Stats(),
		},
	}
}

func (h *CommandHandler) handleSessionStop(cmd Command) Response {
	if h.shutdownFunc == nil {
		return Response{
			ID:    cmd.ID,
			Error: &ErrorInfo{Code: ErrCodeInternalError, Message: "shutdown not supported"},
		}
	}
	slog.Info("stop requested over control socket")
	return Response{
		ID:     cmd.ID,
		Result: map[string]string{"status": "stopping"},
		after:  h.shutdownFunc,
	}
}
