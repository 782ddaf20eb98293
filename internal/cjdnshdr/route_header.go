package cjdnshdr

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

const (
	// RouteHeaderSize is the wire size of a route header.
	RouteHeaderSize = 68

	// Route header flags.
	FlagIncoming uint8 = 0x01
	FlagCtrl     uint8 = 0x02
	FlagPathfind uint8 = 0x04
)

// RouteHeader describes where a frame came from or is going to.
//
// Wire layout (68 bytes):
//
//	PublicKey    [32 bytes] all zero when unknown
//	SwitchHeader [12 bytes]
//	Version      [4 bytes]  big-endian, 0 when unknown
//	Flags        [1 byte]
//	Padding      [3 bytes]
//	IP           [16 bytes] all zero when unknown
type RouteHeader struct {
	PublicKey    [32]byte
	SwitchHeader SwitchHeader
	Version      uint32
	Flags        uint8
	IP           netip.Addr
}

// IsIncoming reports whether the frame arrived from the mesh.
func (h *RouteHeader) IsIncoming() bool { return h.Flags&FlagIncoming != 0 }

// IsCtrl reports whether the frame carries a switch control message
// instead of a data header and upper-layer payload.
func (h *RouteHeader) IsCtrl() bool { return h.Flags&FlagCtrl != 0 }

// SetCtrl sets or clears the control flag.
func (h *RouteHeader) SetCtrl(on bool) { h.setFlag(FlagCtrl, on) }

// SetIncoming sets or clears the incoming flag.
func (h *RouteHeader) SetIncoming(on bool) { h.setFlag(FlagIncoming, on) }

func (h *RouteHeader) setFlag(f uint8, on bool) {
	if on {
		h.Flags |= f
	} else {
		h.Flags &^= f
	}
}

// HasPublicKey reports whether the key field is populated.
func (h *RouteHeader) HasPublicKey() bool { return h.PublicKey != [32]byte{} }

// Unmarshal parses a route header from the first RouteHeaderSize bytes of b.
func (h *RouteHeader) Unmarshal(b []byte) error {
	if len(b) < RouteHeaderSize {
		return fmt.Errorf("%w: route header needs %d bytes, got %d", ErrTooShort, RouteHeaderSize, len(b))
	}
	copy(h.PublicKey[:], b[0:32])
	if err := h.SwitchHeader.Unmarshal(b[32:44]); err != nil {
		return err
	}
	h.Version = binary.BigEndian.Uint32(b[44:48])
	h.Flags = b[48]

	var ip [16]byte
	copy(ip[:], b[52:68])
	if ip == ([16]byte{}) {
		h.IP = netip.Addr{}
	} else {
		h.IP = netip.AddrFrom16(ip)
	}
	return nil
}

// MarshalTo writes the header into the first RouteHeaderSize bytes of b.
func (h *RouteHeader) MarshalTo(b []byte) error {
	if len(b) < RouteHeaderSize {
		return fmt.Errorf("%w: route header needs %d bytes, got %d", ErrTooShort, RouteHeaderSize, len(b))
	}
	copy(b[0:32], h.PublicKey[:])
	if err := h.SwitchHeader.MarshalTo(b[32:44]); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[44:48], h.Version)
	b[48] = h.Flags
	b[49], b[50], b[51] = 0, 0, 0

	var ip [16]byte
	if h.IP.IsValid() {
		ip = h.IP.As16()
	}
	copy(b[52:68], ip[:])
	return nil
}

// Marshal returns the header's wire bytes.
func (h *RouteHeader) Marshal() ([]byte, error) {
	b := make([]byte, RouteHeaderSize)
	if err := h.MarshalTo(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseRouteHeader is a convenience wrapper around Unmarshal.
func ParseRouteHeader(b []byte) (RouteHeader, error) {
	var h RouteHeader
	err := h.Unmarshal(b)
	return h, err
}
