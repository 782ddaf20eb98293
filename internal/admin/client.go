// Package admin implements a client for the cjdns admin RPC interface.
package admin

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackpal/bencode-go"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/cjdnsniff/internal/benc"
	"firestige.xyz/cjdnsniff/internal/metrics"
)

const maxReplySize = 64 * 1024

var (
	ErrClosed      = errors.New("admin: client closed")
	ErrNoCookie    = errors.New("admin: no cookie in reply")
	ErrBadReply    = errors.New("admin: malformed reply")
	ErrCallTimeout = errors.New("admin: call timed out")
)

// Config holds the admin endpoint and credentials.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Address returns host:port of the admin endpoint.
func (c Config) Address() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// Client is a bencoded request/response client over UDP.
// Calls are serialized; each waits for the reply carrying its txid.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

// Dial opens a UDP socket to the admin endpoint. No packets are exchanged.
func Dial(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	raddr, err := net.ResolveUDPAddr("udp", cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve admin address %s: %w", cfg.Address(), err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to admin %s: %w", cfg.Address(), err)
	}
	return &Client{
		cfg:    cfg,
		conn:   conn,
		logger: slog.Default().With("component", "admin", "addr", cfg.Address()),
	}, nil
}

// Close releases the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Ping checks that the admin endpoint answers. It needs no authentication.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.roundTrip(ctx, map[string]interface{}{"q": "ping"})
	if err != nil {
		return err
	}
	if q, _ := reply["q"].(string); q != "pong" {
		return fmt.Errorf("%w: expected pong, got %v", ErrBadReply, reply)
	}
	return nil
}

// Call invokes an authenticated admin function and decodes the reply into out
// (a pointer to a struct with mapstructure tags, or nil).
func (c *Client) Call(ctx context.Context, fn string, args map[string]interface{}, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookieReply, err := c.roundTrip(ctx, map[string]interface{}{"q": "cookie"})
	if err != nil {
		return fmt.Errorf("cookie request failed: %w", err)
	}
	cookie, ok := cookieReply["cookie"].(string)
	if !ok {
		return ErrNoCookie
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	req := map[string]interface{}{
		"q":      "auth",
		"aq":     fn,
		"args":   args,
		"cookie": cookie,
		"hash":   sha256Hex([]byte(c.cfg.Password + cookie)),
		"txid":   uuid.NewString(),
	}
	hash, err := requestHash(req)
	if err != nil {
		return err
	}
	req["hash"] = hash

	start := time.Now()
	reply, err := c.roundTrip(ctx, req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", fn, err)
	}
	elapsed := time.Since(start)
	metrics.AdminCallSeconds.WithLabelValues(fn).Observe(elapsed.Seconds())
	c.logger.Debug("admin call completed", "fn", fn, "duration", elapsed)

	if out == nil {
		return nil
	}
	if err := mapstructure.Decode(reply, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadReply, fn, err)
	}
	return nil
}

// roundTrip sends req with a fresh txid unless one is set and waits for the
// matching reply. Caller holds c.mu.
func (c *Client) roundTrip(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	if c.closed {
		return nil, ErrClosed
	}
	txid, ok := req["txid"].(string)
	if !ok {
		txid = uuid.NewString()
		req["txid"] = txid
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, req); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	rb := make([]byte, maxReplySize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.conn.Read(rb)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, fmt.Errorf("%w: txid %s", ErrCallTimeout, txid)
			}
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		v, err := benc.Decode(rb[:n])
		if err != nil {
			c.logger.Warn("dropping undecodable admin reply", "error", err)
			continue
		}
		reply, ok := v.(map[string]interface{})
		if !ok {
			c.logger.Warn("dropping non-dict admin reply")
			continue
		}
		if got, _ := reply["txid"].(string); got != txid {
			c.logger.Debug("dropping reply for another txid", "txid", got, "want", txid)
			continue
		}
		return reply, nil
	}
}

// requestHash computes the second-stage hash: sha256 over the bencoded
// request whose hash field holds sha256(password + cookie).
func requestHash(req map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, req); err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	return sha256Hex(buf.Bytes()), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
