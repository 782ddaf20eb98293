package cjdnshdr

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	// SwitchHeaderSize is the wire size of a switch header.
	SwitchHeaderSize = 12

	// SwitchHeaderCurrentVersion is the switch protocol version the daemon emits.
	SwitchHeaderCurrentVersion = 1
)

// SwitchHeader is the label-switching header that routes a packet through the mesh.
//
// Wire layout (12 bytes):
//
//	Label                 [8 bytes] big-endian
//	Congestion|Suppress   [1 byte]  congestion in the high 7 bits
//	Version|LabelShift    [1 byte]  version in the high 2 bits
//	Penalty               [2 bytes] big-endian
type SwitchHeader struct {
	Label          uint64
	Congestion     uint8 // 7 bits
	SuppressErrors bool
	Version        uint8 // 2 bits
	LabelShift     uint8 // 6 bits
	Penalty        uint16
}

// Unmarshal parses a switch header from the first SwitchHeaderSize bytes of b.
func (h *SwitchHeader) Unmarshal(b []byte) error {
	if len(b) < SwitchHeaderSize {
		return fmt.Errorf("%w: switch header needs %d bytes, got %d", ErrTooShort, SwitchHeaderSize, len(b))
	}
	h.Label = binary.BigEndian.Uint64(b[0:8])
	h.Congestion = b[8] >> 1
	h.SuppressErrors = b[8]&0x01 != 0
	h.Version = b[9] >> 6
	h.LabelShift = b[9] & 0x3f
	h.Penalty = binary.BigEndian.Uint16(b[10:12])
	return nil
}

// MarshalTo writes the header into the first SwitchHeaderSize bytes of b.
func (h *SwitchHeader) MarshalTo(b []byte) error {
	if len(b) < SwitchHeaderSize {
		return fmt.Errorf("%w: switch header needs %d bytes, got %d", ErrTooShort, SwitchHeaderSize, len(b))
	}
	if h.Congestion > 0x7f || h.Version > 0x03 || h.LabelShift > 0x3f {
		return fmt.Errorf("%w: congestion=%d version=%d labelShift=%d",
			ErrFieldRange, h.Congestion, h.Version, h.LabelShift)
	}
	binary.BigEndian.PutUint64(b[0:8], h.Label)
	b[8] = h.Congestion << 1
	if h.SuppressErrors {
		b[8] |= 0x01
	}
	b[9] = h.Version<<6 | h.LabelShift
	binary.BigEndian.PutUint16(b[10:12], h.Penalty)
	return nil
}

// LabelString renders the label in the daemon's dotted form, e.g. 0000.0000.0000.0013.
func (h *SwitchHeader) LabelString() string {
	return FormatLabel(h.Label)
}

// FormatLabel renders a label as four dot-separated groups of four hex digits.
func FormatLabel(label uint64) string {
	s := fmt.Sprintf("%016x", label)
	return s[0:4] + "." + s[4:8] + "." + s[8:12] + "." + s[12:16]
}

// ParseLabel is the inverse of FormatLabel.
func ParseLabel(s string) (uint64, error) {
	groups := strings.Split(s, ".")
	if len(groups) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, s)
	}
	for _, g := range groups {
		if len(g) != 4 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, s)
		}
	}
	v, err := strconv.ParseUint(strings.Join(groups, ""), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidLabel, s, err)
	}
	return v, nil
}
