package ctrl

import (
	"errors"
	"fmt"
	"strings"
)

const base32Alphabet = "0123456789bcdfghjklmnpqrstuvwxyz"

var ErrBadKey = errors.New("ctrl: malformed key string")

// KeyString renders a public key the way the daemon prints it: least
// significant bits first, 5 bits per character, followed by ".k".
func KeyString(key [32]byte) string {
	var (
		sb   strings.Builder
		work uint32
		bits uint
	)
	sb.Grow(54)
	for _, b := range key {
		work |= uint32(b) << bits
		bits += 8
		for bits >= 5 {
			sb.WriteByte(base32Alphabet[work&31])
			work >>= 5
			bits -= 5
		}
	}
	if bits > 0 {
		sb.WriteByte(base32Alphabet[work&31])
	}
	sb.WriteString(".k")
	return sb.String()
}

// ParseKey is the inverse of KeyString.
func ParseKey(s string) ([32]byte, error) {
	var key [32]byte
	body, ok := strings.CutSuffix(s, ".k")
	if !ok || len(body) != 52 {
		return key, fmt.Errorf("%w: %q", ErrBadKey, s)
	}
	var (
		work uint32
		bits uint
		n    int
	)
	for i := 0; i < len(body); i++ {
		v := strings.IndexByte(base32Alphabet, body[i])
		if v < 0 {
			return key, fmt.Errorf("%w: %q", ErrBadKey, s)
		}
		work |= uint32(v) << bits
		bits += 5
		if bits >= 8 {
			if n == len(key) {
				break
			}
			key[n] = byte(work)
			n++
			work >>= 8
			bits -= 8
		}
	}
	if n != len(key) {
		return key, fmt.Errorf("%w: %q", ErrBadKey, s)
	}
	return key, nil
}
