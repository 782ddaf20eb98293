package admin

import (
	"context"

	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
)

// StatusOK is the error value the daemon reports on success.
const StatusOK = "none"

// Handler is one entry of the UpperDistributor handler table.
type Handler struct {
	ContentType cjdnshdr.ContentType `mapstructure:"type"`
	UDPPort     int                  `mapstructure:"udpPort"`
}

// HandlersReply is the reply to UpperDistributor_listHandlers.
type HandlersReply struct {
	Error    string    `mapstructure:"error"`
	Handlers []Handler `mapstructure:"handlers"`
}

// StatusReply is the reply to calls that only report success or failure.
type StatusReply struct {
	Error string `mapstructure:"error"`
}

// ListHandlers returns the distributor's handler table; page 0 is the first page.
func (c *Client) ListHandlers(ctx context.Context, page int) (*HandlersReply, error) {
	var r HandlersReply
	err := c.Call(ctx, "UpperDistributor_listHandlers", map[string]interface{}{
		"page": int64(page),
	}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RegisterHandler asks the distributor to forward ct traffic to udpPort.
func (c *Client) RegisterHandler(ctx context.Context, ct cjdnshdr.ContentType, udpPort int) (*StatusReply, error) {
	var r StatusReply
	err := c.Call(ctx, "UpperDistributor_registerHandler", map[string]interface{}{
		"contentType": int64(ct),
		"udpPort":     int64(udpPort),
	}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UnregisterHandler removes the registration for udpPort.
func (c *Client) UnregisterHandler(ctx context.Context, udpPort int) (*StatusReply, error) {
	var r StatusReply
	err := c.Call(ctx, "UpperDistributor_unregisterHandler", map[string]interface{}{
		"udpPort": int64(udpPort),
	}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
