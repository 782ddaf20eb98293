package ctrl

import (
	"encoding/binary"
	"testing"

	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingRoundTrip(t *testing.T) {
	for _, pong := range []bool{false, true} {
		in := &Ping{IsPong: pong, Version: 21, Data: []byte("abc")}
		b, err := Encode(in)
		require.NoError(t, err)
		assert.Len(t, b, HeaderSize+8+3)
		assert.True(t, VerifyChecksum(b))

		out, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestPingTypeNames(t *testing.T) {
	assert.Equal(t, "PING", (&Ping{}).Type())
	assert.Equal(t, "PONG", (&Ping{IsPong: true}).Type())
	assert.Equal(t, "KEYPING", (&KeyPing{}).Type())
	assert.Equal(t, "KEYPONG", (&KeyPing{IsPong: true}).Type())
	assert.Equal(t, "ERROR", (&Error{}).Type())
	assert.Equal(t, "MALFORMED", (&Malformed{}).Type())
}

func TestKeyPingRoundTrip(t *testing.T) {
	in := &KeyPing{IsPong: true, Version: 20}
	for i := range in.Key {
		in.Key[i] = byte(255 - i)
	}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestErrorRoundTrip(t *testing.T) {
	in := &Error{
		ErrType:     ErrorUndeliverable,
		Cause:       cjdnshdr.SwitchHeader{Label: 0x153, Version: 1},
		CauseHandle: 0xdeadbeef,
		Additional:  []byte{1, 2, 3, 4},
	}
	b, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, TypeError, binary.BigEndian.Uint16(b[2:4]))

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "UNDELIVERABLE", out.(*Error).ErrType.String())
}

func TestDecodeErrors(t *testing.T) {
	good, err := Encode(&Ping{Version: 1})
	require.NoError(t, err)

	badMagic := append([]byte(nil), good...)
	badMagic[4] ^= 0xff

	unknown := append([]byte(nil), good...)
	binary.BigEndian.PutUint16(unknown[2:4], 99)

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrTooShort},
		{"header only ping", good[:HeaderSize], ErrTooShort},
		{"bad magic", badMagic, ErrBadMagic},
		{"unknown type", unknown, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	_, err := Encode(&Malformed{Reason: "x"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Encode(&Ping{Data: make([]byte, MaxPingData+1)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestChecksum(t *testing.T) {
	// RFC 1071 example words: 0x0001 0xf203 0xf4f5 0xf6f7 sum to 0xddf2 after folding.
	b := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	assert.Equal(t, ^uint16(0xddf2), Checksum(b))

	assert.Equal(t, ^uint16(0xab00), Checksum([]byte{0xab}))
	assert.False(t, VerifyChecksum([]byte{0x00}))
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "NONE", ErrorNone.String())
	assert.Equal(t, "RETURN_PATH_INVALID", ErrorReturnPathInvalid.String())
	assert.Equal(t, "UNKNOWN(77)", ErrorType(77).String())
}

func TestKeyStringRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 7)
	}
	s := KeyString(key)
	assert.Len(t, s, 54)
	assert.Equal(t, ".k", s[52:])

	got, err := ParseKey(s)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	assert.Equal(t, "0000000000000000000000000000000000000000000000000000.k", KeyString([32]byte{}))

	_, err = ParseKey("abc.k")
	assert.ErrorIs(t, err, ErrBadKey)
	_, err = ParseKey(s[:52])
	assert.ErrorIs(t, err, ErrBadKey)
}
