package frame

import (
	"bytes"
	"net"

	"github.com/google/gopacket"
	"github.com/jackpal/bencode-go"

	"firestige.xyz/cjdnsniff/internal/benc"
	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/ctrl"
)

// DefaultDestination is where the daemon accepts frames from registered handlers.
var DefaultDestination = &net.UDPAddr{IP: net.ParseIP("fc00::1"), Port: 1}

// Decode parses a captured datagram.
//
// Control payloads that fail to parse are reported inside the message as
// *ctrl.Malformed; DHT payloads that fail to parse are returned as an error.
func Decode(b []byte) (*Message, error) {
	m := &Message{RawBytes: b, Content: Raw{}}

	if err := m.RouteHeader.Unmarshal(b); err != nil {
		return nil, &Error{Stage: "route header", Err: err}
	}
	off := cjdnshdr.RouteHeaderSize

	if m.RouteHeader.IsCtrl() {
		m.ContentBytes = b[off:]
		msg, err := ctrl.Decode(m.ContentBytes)
		if err != nil {
			msg = &ctrl.Malformed{Reason: err.Error()}
		}
		m.Content = Control{Msg: msg}
		return m, nil
	}

	dh, err := cjdnshdr.ParseDataHeader(b[off:])
	if err != nil {
		return nil, &Error{Stage: "data header", Err: err}
	}
	m.DataHeader = &dh
	off += cjdnshdr.DataHeaderSize
	m.ContentBytes = b[off:]

	if dh.ContentType == cjdnshdr.ContentTypeCJDHT {
		v, err := benc.Decode(m.ContentBytes)
		if err != nil {
			return nil, &Error{Stage: "bencode", Err: err}
		}
		m.Content = Benc{Value: v}
	}
	return m, nil
}

// Encode serializes a message as route header, data header (if any) and payload.
//
// The payload is re-encoded from Benc when the data header says CJDHT, from
// Control when the route header says control, and taken from ContentBytes
// otherwise.
func Encode(m *Message) ([]byte, error) {
	payload, err := payloadBytes(m)
	if err != nil {
		return nil, err
	}

	stack := []gopacket.SerializableLayer{&cjdnshdr.RouteLayer{Header: m.RouteHeader}}
	if m.DataHeader != nil {
		stack = append(stack, &cjdnshdr.DataLayer{Header: *m.DataHeader})
	}
	stack = append(stack, gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, stack...); err != nil {
		return nil, &Error{Stage: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

func payloadBytes(m *Message) ([]byte, error) {
	switch c := m.Content.(type) {
	case Benc:
		if c.Value != nil && m.DataHeader != nil && m.DataHeader.ContentType == cjdnshdr.ContentTypeCJDHT {
			var buf bytes.Buffer
			if err := bencode.Marshal(&buf, c.Value); err != nil {
				return nil, &Error{Stage: "bencode", Err: err}
			}
			return buf.Bytes(), nil
		}
	case Control:
		if c.Msg == nil || !m.RouteHeader.IsCtrl() {
			break
		}
		if _, malformed := c.Msg.(*ctrl.Malformed); malformed {
			break
		}
		b, err := ctrl.Encode(c.Msg)
		if err != nil {
			return nil, &Error{Stage: "control", Err: err}
		}
		return b, nil
	}
	return m.ContentBytes, nil
}

// DecodePacket exposes a datagram as a gopacket.Packet with CjdnsRoute,
// CjdnsData and Payload layers.
func DecodePacket(b []byte) gopacket.Packet {
	return gopacket.NewPacket(b, cjdnshdr.LayerTypeCjdnsRoute, gopacket.Default)
}
