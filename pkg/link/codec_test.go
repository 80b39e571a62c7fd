package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeMSBFirst(t *testing.T) {
	testCases := []struct {
		b    byte
		bits Bits
	}{
		{0, Bits{}},
		{1, Bits{0, 0, 0, 0, 0, 0, 0, 1}},
		{0x80, Bits{1, 0, 0, 0, 0, 0, 0, 0}},
		{170, Bits{1, 0, 1, 0, 1, 0, 1, 0}},
		{'H', Bits{0, 1, 0, 0, 1, 0, 0, 0}},
		{0xff, Bits{1, 1, 1, 1, 1, 1, 1, 1}},
	}
	for _, tc := range testCases {
		assert.Equalf(t, tc.bits, Encode(tc.b), "encode %#02x", tc.b)
		assert.Equalf(t, tc.b, Decode(tc.bits), "decode %s", tc.bits)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		assert.Equal(t, byte(i), Decode(Encode(byte(i))))
	}
}

func TestBitsHelpers(t *testing.T) {
	bits := Encode(170)
	assert.Equal(t, "10101010", bits.String())
	assert.Equal(t, High, bits.Level(1))
	assert.Equal(t, Low, bits.Level(8))
	assert.False(t, bits.IsZero())
	assert.True(t, Encode(0).IsZero())
	assert.Equal(t, byte(0x81), Decode(Bits{7, 0, 0, 0, 0, 0, 0, 2}))
}
