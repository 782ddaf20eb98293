package sniff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/cjdnsniff/internal/admin"
	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/frame"
	"firestige.xyz/cjdnsniff/internal/metrics"
)

// DefaultReadBuffer is large enough for any frame the distributor forwards.
const DefaultReadBuffer = 65536

// State is the session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats are cumulative session counters.
type Stats struct {
	Received      uint64 `json:"received"`
	Messages      uint64 `json:"messages"`
	Errors        uint64 `json:"errors"`
	Sent          uint64 `json:"sent"`
	BytesReceived uint64 `json:"bytes_received"`
	BytesSent     uint64 `json:"bytes_sent"`

	// Packet info of the most recent datagram; empty until one arrives or
	// when the platform does not report it.
	LastSource      string `json:"last_source,omitempty"`
	LastDestination string `json:"last_destination,omitempty"`
	LastInterface   string `json:"last_interface,omitempty"`
}

// Option configures Open.
type Option func(*options)

type options struct {
	negotiator Negotiator
	readBuffer int
	logger     *slog.Logger
}

// WithNetwork sets the bind network ("udp6", "udp4", "udp").
func WithNetwork(network string) Option {
	return func(o *options) { o.negotiator.Network = network }
}

// WithBindHost sets the local address sockets are bound to.
func WithBindHost(host string) Option {
	return func(o *options) { o.negotiator.Host = host }
}

// WithListenFunc replaces net.ListenUDP.
func WithListenFunc(fn ListenFunc) Option {
	return func(o *options) { o.negotiator.Listen = fn }
}

// WithReadBuffer sets the receive buffer size.
func WithReadBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBuffer = n
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Session owns one negotiated handler socket. Datagrams are decoded on the
// goroutine running Serve and handed to the OnMessage or OnError handler.
type Session struct {
	code       cjdnshdr.ContentType
	admin      AdminClient
	conn       *net.UDPConn
	pc         datagramConn
	port       int
	registered bool
	readBuffer int
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	onMessage func(*frame.Message)
	onError   func(error)

	received      atomic.Uint64
	messages      atomic.Uint64
	errs          atomic.Uint64
	sent          atomic.Uint64
	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64
	last          atomic.Pointer[Receipt]
}

// Open negotiates a handler port for code and returns an Active session.
// On failure no session exists and nothing is left registered.
func Open(ctx context.Context, ac AdminClient, code cjdnshdr.ContentType, opts ...Option) (*Session, error) {
	o := options{readBuffer: DefaultReadBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "session", "content_type", code.String())
	if o.negotiator.Logger == nil {
		o.negotiator.Logger = logger
	}

	s := &Session{
		code:       code,
		admin:      ac,
		readBuffer: o.readBuffer,
		logger:     logger,
	}
	s.setState(StateConnecting)

	conn, registered, err := o.negotiator.Negotiate(ctx, ac, code)
	if err != nil {
		s.setState(StateClosed)
		return nil, err
	}

	s.conn = conn
	s.pc = newDatagramConn(conn, logger)
	s.port = localPort(conn)
	s.registered = registered
	s.setState(StateActive)

	logger.Info("session active", "port", s.port, "registered", registered)
	return s, nil
}

// OnMessage sets the handler for decoded messages.
func (s *Session) OnMessage(fn func(*frame.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// OnError sets the handler for per-datagram decode failures and read errors.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Serve reads datagrams until the session is disconnected (returns nil), ctx
// ends (returns ctx.Err()) or the socket fails.
func (s *Session) Serve(ctx context.Context) error {
	if s.State() != StateActive {
		return ErrNotActive
	}
	if err := s.pc.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		s.pc.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, s.readBuffer)
	for {
		n, rcpt, err := s.pc.ReadFrom(buf)
		if err != nil {
			if st := s.State(); st == StateDisconnecting || st == StateClosed {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = fmt.Errorf("sniff: read: %w", err)
			s.emitError(err)
			return err
		}
		s.last.Store(&rcpt)
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handle(datagram)
	}
}

func (s *Session) handle(b []byte) {
	ct := s.code.String()
	s.received.Add(1)
	s.bytesReceived.Add(uint64(len(b)))
	metrics.DatagramsTotal.WithLabelValues(ct).Inc()
	metrics.BytesTotal.WithLabelValues(ct).Add(float64(len(b)))

	m, err := frame.Decode(b)
	if err != nil {
		stage := "unknown"
		var fe *frame.Error
		if errors.As(err, &fe) {
			stage = fe.Stage
		}
		s.errs.Add(1)
		if r := s.last.Load(); r != nil {
			s.logger.Debug("datagram rejected", "stage", stage, "from", r.Source, "interface", interfaceName(r.IfIndex))
		}
		metrics.DecodeErrorsTotal.WithLabelValues(ct, stage).Inc()
		s.emitError(err)
		return
	}

	s.messages.Add(1)
	metrics.MessagesTotal.WithLabelValues(ct, m.Kind()).Inc()
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (s *Session) emitError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn == nil {
		s.logger.Debug("unhandled session error", "error", err)
		return
	}
	fn(err)
}

// Send encodes msg and writes it to dst, or to frame.DefaultDestination when
// dst is nil. A nil error only means the local write succeeded.
func (s *Session) Send(msg *frame.Message, dst *net.UDPAddr) error {
	if s.State() != StateActive {
		return ErrNotActive
	}
	b, err := frame.Encode(msg)
	if err != nil {
		return err
	}
	if dst == nil {
		dst = frame.DefaultDestination
	}

	ct := s.code.String()
	if _, err := s.pc.WriteTo(b, dst); err != nil {
		metrics.SentTotal.WithLabelValues(ct, "error").Inc()
		return fmt.Errorf("sniff: send to %s: %w", dst, err)
	}
	s.sent.Add(1)
	s.bytesSent.Add(uint64(len(b)))
	metrics.SentTotal.WithLabelValues(ct, "ok").Inc()
	return nil
}

// Disconnect unregisters the handler if this session registered it, then
// closes the socket. The socket is closed even when unregistering fails; that
// failure is returned as *AdminError. Only an Active session can disconnect.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.setStateLocked(StateDisconnecting)
	s.mu.Unlock()

	var err error
	if s.registered {
		s.logger.Info("unregistering handler", "port", s.port)
		reply, uerr := s.admin.UnregisterHandler(ctx, s.port)
		switch {
		case uerr != nil:
			err = &AdminError{Op: "unregisterHandler", Err: uerr}
		case reply.Error != admin.StatusOK:
			err = &AdminError{Op: "unregisterHandler", Status: reply.Error}
		}
	}
	if cerr := s.conn.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("sniff: close: %w", cerr)
	}

	s.setState(StateClosed)
	if err != nil {
		s.logger.Error("session closed with error", "error", err)
	} else {
		s.logger.Info("session closed")
	}
	return err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(st)
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	metrics.SessionState.WithLabelValues(s.code.String()).Set(float64(st))
}

// Port is the negotiated local UDP port.
func (s *Session) Port() int { return s.port }

// Registered reports whether the session owns its distributor registration.
func (s *Session) Registered() bool { return s.registered }

func (s *Session) ContentType() cjdnshdr.ContentType { return s.code }

func (s *Session) Stats() Stats {
	st := Stats{
		Received:      s.received.Load(),
		Messages:      s.messages.Load(),
		Errors:        s.errs.Load(),
		Sent:          s.sent.Load(),
		BytesReceived: s.bytesReceived.Load(),
		BytesSent:     s.bytesSent.Load(),
	}
	if r := s.last.Load(); r != nil {
		if r.Source != nil {
			st.LastSource = r.Source.String()
		}
		if r.Destination != nil {
			st.LastDestination = r.Destination.String()
		}
		st.LastInterface = interfaceName(r.IfIndex)
	}
	return st
}

// LastReceipt returns the packet info of the most recent datagram.
func (s *Session) LastReceipt() (Receipt, bool) {
	r := s.last.Load()
	if r == nil {
		return Receipt{}, false
	}
	return *r, true
}
