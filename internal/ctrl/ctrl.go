// Package ctrl implements the switch control protocol carried by frames whose
// route header has the control flag set.
package ctrl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
)

const (
	// HeaderSize is the checksum + type prefix of every control message.
	HeaderSize = 4

	TypeError   uint16 = 2
	TypePing    uint16 = 3
	TypePong    uint16 = 4
	TypeKeyPing uint16 = 5
	TypeKeyPong uint16 = 6

	MagicPing    uint32 = 0x09f91102
	MagicPong    uint32 = 0x9d74e35b
	MagicKeyPing uint32 = 0x01234567
	MagicKeyPong uint32 = 0x89abcdef

	pingHeaderSize    = 8
	keyPingHeaderSize = 8 + 32
	errorHeaderSize   = 4 + cjdnshdr.SwitchHeaderSize + 4

	// MaxPingData bounds the opaque data carried by ping variants.
	MaxPingData = 256
)

var (
	ErrTooShort    = errors.New("ctrl: message too short")
	ErrUnknownType = errors.New("ctrl: unknown message type")
	ErrBadMagic    = errors.New("ctrl: bad magic")
	ErrTooLarge    = errors.New("ctrl: data too large")
)

// Message is one of *Ping, *KeyPing, *Error or *Malformed.
type Message interface {
	// Type returns the message name as printed by capture tools: PING, KEYPONG, ERROR...
	Type() string
}

// Ping is a PING or PONG.
type Ping struct {
	IsPong  bool
	Version uint32
	Data    []byte
}

func (p *Ping) Type() string {
	if p.IsPong {
		return "PONG"
	}
	return "PING"
}

// KeyPing is a KEYPING or KEYPONG, which also carries the sender's public key.
type KeyPing struct {
	IsPong  bool
	Version uint32
	Key     [32]byte
	Data    []byte
}

func (p *KeyPing) Type() string {
	if p.IsPong {
		return "KEYPONG"
	}
	return "KEYPING"
}

// KeyString renders the key in the daemon's base32 .k form.
func (p *KeyPing) KeyString() string { return KeyString(p.Key) }

// Error reports a switch error back along the path that caused it.
type Error struct {
	ErrType     ErrorType
	Cause       cjdnshdr.SwitchHeader
	CauseHandle uint32
	Additional  []byte
}

func (e *Error) Type() string { return "ERROR" }

// Malformed stands in for a control payload that failed to decode.
type Malformed struct {
	Reason string
}

func (m *Malformed) Type() string { return "MALFORMED" }

// Decode parses a control message, including its 4-byte header.
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}
	typ := binary.BigEndian.Uint16(b[2:4])
	body := b[HeaderSize:]

	switch typ {
	case TypePing, TypePong:
		return decodePing(typ == TypePong, body)
	case TypeKeyPing, TypeKeyPong:
		return decodeKeyPing(typ == TypeKeyPong, body)
	case TypeError:
		return decodeError(body)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}
}

func decodePing(pong bool, body []byte) (*Ping, error) {
	if len(body) < pingHeaderSize {
		return nil, fmt.Errorf("%w: ping body %d bytes", ErrTooShort, len(body))
	}
	want := MagicPing
	if pong {
		want = MagicPong
	}
	if magic := binary.BigEndian.Uint32(body[0:4]); magic != want {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}
	return &Ping{
		IsPong:  pong,
		Version: binary.BigEndian.Uint32(body[4:8]),
		Data:    append([]byte(nil), body[8:]...),
	}, nil
}

func decodeKeyPing(pong bool, body []byte) (*KeyPing, error) {
	if len(body) < keyPingHeaderSize {
		return nil, fmt.Errorf("%w: keyping body %d bytes", ErrTooShort, len(body))
	}
	want := MagicKeyPing
	if pong {
		want = MagicKeyPong
	}
	if magic := binary.BigEndian.Uint32(body[0:4]); magic != want {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}
	p := &KeyPing{
		IsPong:  pong,
		Version: binary.BigEndian.Uint32(body[4:8]),
		Data:    append([]byte(nil), body[keyPingHeaderSize:]...),
	}
	copy(p.Key[:], body[8:40])
	return p, nil
}

func decodeError(body []byte) (*Error, error) {
	if len(body) < errorHeaderSize {
		return nil, fmt.Errorf("%w: error body %d bytes", ErrTooShort, len(body))
	}
	e := &Error{ErrType: ErrorType(binary.BigEndian.Uint32(body[0:4]))}
	if err := e.Cause.Unmarshal(body[4:16]); err != nil {
		return nil, err
	}
	e.CauseHandle = binary.BigEndian.Uint32(body[16:20])
	e.Additional = append([]byte(nil), body[errorHeaderSize:]...)
	return e, nil
}

// Encode serializes a message, including its header and checksum.
func Encode(m Message) ([]byte, error) {
	var (
		typ  uint16
		body []byte
	)
	switch v := m.(type) {
	case *Ping:
		if len(v.Data) > MaxPingData {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(v.Data))
		}
		typ, body = TypePing, make([]byte, pingHeaderSize, pingHeaderSize+len(v.Data))
		magic := MagicPing
		if v.IsPong {
			typ, magic = TypePong, MagicPong
		}
		binary.BigEndian.PutUint32(body[0:4], magic)
		binary.BigEndian.PutUint32(body[4:8], v.Version)
		body = append(body, v.Data...)
	case *KeyPing:
		if len(v.Data) > MaxPingData {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(v.Data))
		}
		typ, body = TypeKeyPing, make([]byte, keyPingHeaderSize, keyPingHeaderSize+len(v.Data))
		magic := MagicKeyPing
		if v.IsPong {
			typ, magic = TypeKeyPong, MagicKeyPong
		}
		binary.BigEndian.PutUint32(body[0:4], magic)
		binary.BigEndian.PutUint32(body[4:8], v.Version)
		copy(body[8:40], v.Key[:])
		body = append(body, v.Data...)
	case *Error:
		typ, body = TypeError, make([]byte, errorHeaderSize, errorHeaderSize+len(v.Additional))
		binary.BigEndian.PutUint32(body[0:4], uint32(v.ErrType))
		if err := v.Cause.MarshalTo(body[4:16]); err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(body[16:20], v.CauseHandle)
		body = append(body, v.Additional...)
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownType, m)
	}

	out := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(out[2:4], typ)
	copy(out[HeaderSize:], body)
	binary.BigEndian.PutUint16(out[0:2], Checksum(out))
	return out, nil
}

// Checksum computes the internet checksum of a control message whose
// checksum field is zero.
func Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// VerifyChecksum reports whether the checksum stored in b matches its content.
func VerifyChecksum(b []byte) bool {
	if len(b) < HeaderSize {
		return false
	}
	c := make([]byte, len(b))
	copy(c, b)
	c[0], c[1] = 0, 0
	return Checksum(c) == binary.BigEndian.Uint16(b[0:2])
}
