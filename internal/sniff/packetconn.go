package sniff

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Receipt describes how a datagram reached the handler socket.
type Receipt struct {
	Source      net.Addr
	Destination net.IP // local address the datagram was sent to; nil if unknown
	IfIndex     int    // receiving interface; 0 if unknown
}

// datagramConn reads datagrams together with their packet info.
type datagramConn interface {
	ReadFrom(b []byte) (int, Receipt, error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
}

// newDatagramConn wraps conn in the x/net packet conn matching its address
// family and asks the kernel for destination and interface info. Platforms
// without packet info still read and write; their receipts only carry the
// source.
func newDatagramConn(conn *net.UDPConn, logger *slog.Logger) datagramConn {
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() != nil {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
			logger.Debug("packet info unavailable", "family", "ipv4", "error", err)
		}
		return v4Conn{pc}
	}
	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
		logger.Debug("packet info unavailable", "family", "ipv6", "error", err)
	}
	return v6Conn{pc}
}

type v4Conn struct{ pc *ipv4.PacketConn }

func (c v4Conn) ReadFrom(b []byte) (int, Receipt, error) {
	n, cm, src, err := c.pc.ReadFrom(b)
	r := Receipt{Source: src}
	if cm != nil {
		r.Destination, r.IfIndex = cm.Dst, cm.IfIndex
	}
	return n, r, err
}

func (c v4Conn) WriteTo(b []byte, dst net.Addr) (int, error) { return c.pc.WriteTo(b, nil, dst) }

func (c v4Conn) SetReadDeadline(t time.Time) error { return c.pc.SetReadDeadline(t) }

type v6Conn struct{ pc *ipv6.PacketConn }

func (c v6Conn) ReadFrom(b []byte) (int, Receipt, error) {
	n, cm, src, err := c.pc.ReadFrom(b)
	r := Receipt{Source: src}
	if cm != nil {
		r.Destination, r.IfIndex = cm.Dst, cm.IfIndex
	}
	return n, r, err
}

func (c v6Conn) WriteTo(b []byte, dst net.Addr) (int, error) { return c.pc.WriteTo(b, nil, dst) }

func (c v6Conn) SetReadDeadline(t time.Time) error { return c.pc.SetReadDeadline(t) }

// interfaceName resolves an interface index, falling back to the number.
func interfaceName(index int) string {
	if index == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(index); err == nil {
		return ifi.Name
	}
	return "if" + strconv.Itoa(index)
}
