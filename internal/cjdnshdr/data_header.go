package cjdnshdr

import (
	"encoding/binary"
	"fmt"
)

const (
	// DataHeaderSize is the wire size of a data header.
	DataHeaderSize = 4

	// DataHeaderCurrentVersion is the data header version the daemon emits.
	DataHeaderCurrentVersion = 1
)

// DataHeader announces the content type of a non-control frame.
//
// Wire layout (4 bytes):
//
//	Version|Flags [1 byte]  version in the high nibble
//	Unused        [1 byte]
//	ContentType   [2 bytes] big-endian
type DataHeader struct {
	Version     uint8 // 4 bits
	Flags       uint8 // 4 bits
	ContentType ContentType
}

// Unmarshal parses a data header from the first DataHeaderSize bytes of b.
func (h *DataHeader) Unmarshal(b []byte) error {
	if len(b) < DataHeaderSize {
		return fmt.Errorf("%w: data header needs %d bytes, got %d", ErrTooShort, DataHeaderSize, len(b))
	}
	h.Version = b[0] >> 4
	h.Flags = b[0] & 0x0f
	h.ContentType = ContentType(binary.BigEndian.Uint16(b[2:4]))
	return nil
}

// MarshalTo writes the header into the first DataHeaderSize bytes of b.
func (h *DataHeader) MarshalTo(b []byte) error {
	if len(b) < DataHeaderSize {
		return fmt.Errorf("%w: data header needs %d bytes, got %d", ErrTooShort, DataHeaderSize, len(b))
	}
	if h.Version > 0x0f || h.Flags > 0x0f || h.ContentType > 0xffff {
		return fmt.Errorf("%w: version=%d flags=%d contentType=%d",
			ErrFieldRange, h.Version, h.Flags, h.ContentType)
	}
	b[0] = h.Version<<4 | h.Flags
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], uint16(h.ContentType))
	return nil
}

// Marshal returns the header's wire bytes.
func (h *DataHeader) Marshal() ([]byte, error) {
	b := make([]byte, DataHeaderSize)
	if err := h.MarshalTo(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseDataHeader is a convenience wrapper around Unmarshal.
func ParseDataHeader(b []byte) (DataHeader, error) {
	var h DataHeader
	err := h.Unmarshal(b)
	return h, err
}
