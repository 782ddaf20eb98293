package sniff

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"firestige.xyz/cjdnsniff/internal/admin"
	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/metrics"
)

// AdminClient is the subset of the admin RPC surface the negotiator and
// session need.
type AdminClient interface {
	ListHandlers(ctx context.Context, page int) (*admin.HandlersReply, error)
	RegisterHandler(ctx context.Context, ct cjdnshdr.ContentType, udpPort int) (*admin.StatusReply, error)
	UnregisterHandler(ctx context.Context, udpPort int) (*admin.StatusReply, error)
}

// ListenFunc binds a UDP socket. net.ListenUDP satisfies it.
type ListenFunc func(network string, laddr *net.UDPAddr) (*net.UDPConn, error)

// Negotiator obtains a bound socket for one content type, reusing an
// advertised handler port when one is free and registering a new one
// otherwise.
type Negotiator struct {
	Network string     // default "udp6"
	Host    string     // default "::"
	Listen  ListenFunc // default net.ListenUDP
	Logger  *slog.Logger
}

// Negotiate returns a bound socket and whether this call registered it with
// the distributor. Only a registered socket should be unregistered later.
func (n *Negotiator) Negotiate(ctx context.Context, ac AdminClient, code cjdnshdr.ContentType) (*net.UDPConn, bool, error) {
	conn, registered, err := n.negotiate(ctx, ac, code)
	outcome := metrics.OutcomeReused
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
	case registered:
		outcome = metrics.OutcomeRegistered
	}
	metrics.NegotiationsTotal.WithLabelValues(code.String(), outcome).Inc()
	return conn, registered, err
}

func (n *Negotiator) negotiate(ctx context.Context, ac AdminClient, code cjdnshdr.ContentType) (*net.UDPConn, bool, error) {
	logger := n.logger().With("content_type", code.String())

	reply, err := ac.ListHandlers(ctx, 0)
	if err != nil {
		return nil, false, &AdminError{Op: "listHandlers", Err: err}
	}
	if reply.Error != admin.StatusOK {
		return nil, false, &AdminError{Op: "listHandlers", Status: reply.Error}
	}

	var candidates []int
	for _, h := range reply.Handlers {
		if h.ContentType == code {
			candidates = append(candidates, h.UDPPort)
		}
	}
	logger.Debug("listed handlers", "total", len(reply.Handlers), "candidates", len(candidates))

	// Candidates are tried last to first. A conflict drops the candidate and
	// the next iteration binds afresh.
	for len(candidates) > 0 {
		port := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		conn, err := n.bind(port)
		var conflict *BindConflictError
		if errors.As(err, &conflict) {
			metrics.BindConflictsTotal.WithLabelValues(code.String()).Inc()
			logger.Info("advertised handler port busy, trying next", "port", port)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if localPort(conn) == 0 {
			conn.Close()
			logger.Warn("bound socket reports no local port, registering a fresh one", "port", port)
			break
		}
		logger.Info("reusing registered handler", "port", port)
		return conn, false, nil
	}

	conn, err := n.bind(0)
	if err != nil {
		return nil, false, err
	}
	port := localPort(conn)
	if port == 0 {
		conn.Close()
		return nil, false, &BindError{Addr: n.addr(0).String(), Err: errNoLocalPort}
	}

	status, err := ac.RegisterHandler(ctx, code, port)
	if err != nil {
		conn.Close()
		return nil, false, &AdminError{Op: "registerHandler", Err: err}
	}
	if status.Error != admin.StatusOK {
		conn.Close()
		return nil, false, &AdminError{Op: "registerHandler", Status: status.Error}
	}
	logger.Info("registered handler", "port", port)
	return conn, true, nil
}

func (n *Negotiator) bind(port int) (*net.UDPConn, error) {
	listen := n.Listen
	if listen == nil {
		listen = net.ListenUDP
	}
	laddr := n.addr(port)
	conn, err := listen(n.network(), laddr)
	if err == nil {
		return conn, nil
	}
	if port != 0 && isAddrInUse(err) {
		return nil, &BindConflictError{Port: port, Err: err}
	}
	return nil, &BindError{Addr: laddr.String(), Err: err}
}

func (n *Negotiator) addr(port int) *net.UDPAddr {
	host := n.Host
	if host == "" {
		host = "::"
	}
	return &net.UDPAddr{IP: net.ParseIP(host), Port: port}
}

func (n *Negotiator) network() string {
	if n.Network == "" {
		return "udp6"
	}
	return n.Network
}

func (n *Negotiator) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default().With("component", "negotiator")
	}
	return n.Logger
}

func localPort(conn *net.UDPConn) int {
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}
