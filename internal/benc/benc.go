// Package benc decodes bencoded datagrams received from the network.
//
// The decoder allocates string buffers from the length a payload declares,
// so every payload is checked against its own size before it is decoded.
package benc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"
)

// MaxDepth bounds list and dict nesting.
const MaxDepth = 256

var (
	ErrStringTooLong = errors.New("benc: string length exceeds input")
	ErrTooDeep       = errors.New("benc: nesting too deep")
	ErrSyntax        = errors.New("benc: syntax error")
)

// Decode checks b and decodes the first bencoded value in it. Values are
// map[string]interface{}, []interface{}, int64 or string.
func Decode(b []byte) (interface{}, error) {
	if _, err := scan(b, 0, 0); err != nil {
		return nil, err
	}
	return bencode.Decode(bytes.NewReader(b))
}

// Check reports whether b starts with a complete value whose strings all
// fit inside b.
func Check(b []byte) error {
	_, err := scan(b, 0, 0)
	return err
}

// scan walks the value starting at b[i] and returns the offset after it.
func scan(b []byte, i, depth int) (int, error) {
	if i >= len(b) {
		return 0, io.ErrUnexpectedEOF
	}
	switch c := b[i]; {
	case c == 'i':
		end := bytes.IndexByte(b[i+1:], 'e')
		if end < 0 {
			return 0, io.ErrUnexpectedEOF
		}
		return i + 1 + end + 1, nil

	case c == 'l' || c == 'd':
		if depth >= MaxDepth {
			return 0, ErrTooDeep
		}
		i++
		for {
			if i >= len(b) {
				return 0, io.ErrUnexpectedEOF
			}
			if b[i] == 'e' {
				return i + 1, nil
			}
			next, err := scan(b, i, depth+1)
			if err != nil {
				return 0, err
			}
			i = next
		}

	case c >= '0' && c <= '9':
		n := 0
		j := i
		for ; j < len(b) && b[j] != ':'; j++ {
			d := b[j]
			if d < '0' || d > '9' {
				return 0, fmt.Errorf("%w: bad string length at offset %d", ErrSyntax, i)
			}
			n = n*10 + int(d-'0')
			if n > len(b) {
				return 0, fmt.Errorf("%w: offset %d", ErrStringTooLong, i)
			}
		}
		if j >= len(b) {
			return 0, io.ErrUnexpectedEOF
		}
		start := j + 1
		if n > len(b)-start {
			return 0, fmt.Errorf("%w: %d bytes declared at offset %d, %d left", ErrStringTooLong, n, i, len(b)-start)
		}
		return start + n, nil

	default:
		return 0, fmt.Errorf("%w: unexpected byte %q at offset %d", ErrSyntax, c, i)
	}
}
