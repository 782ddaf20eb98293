package cmd

import (
	"context"

	"firestige.xyz/cjdnsniff/internal/admin"
	"firestige.xyz/cjdnsniff/internal/command"
)

// ControlClient is what status and stop need from a running dump.
type ControlClient interface {
	SessionStatus(ctx context.Context) (*command.SessionStatus, error)
	Stop(ctx context.Context) error
}

// HandlerLister is what handlers needs from the admin endpoint.
type HandlerLister interface {
	ListHandlers(ctx context.Context, page int) (*admin.HandlersReply, error)
}
