package link

import "strings"

// Bits is one symbol: the bits of a byte in data line order,
// most significant bit first. Each element is 0 or 1.
type Bits [DataLines]byte

// Encode converts a byte to bits, MSB first.
func Encode(b byte) (bits Bits) {
	for i := range bits {
		bits[i] = (b >> uint(DataLines-1-i)) & 1
	}
	return
}

// Decode converts bits back to a byte as the sum of bit[i]*2^(7-i).
// Any non-zero element counts as 1.
func Decode(bits Bits) (b byte) {
	for i, bit := range bits {
		if bit != 0 {
			b |= 1 << uint(DataLines-1-i)
		}
	}
	return
}

// IsZero reports the all-zero clear symbol.
func (b Bits) IsZero() bool {
	return b == Bits{}
}

// Level returns the level of 1-based data line index.
func (b Bits) Level(index int) Level {
	return b[index-1] != 0
}

// String renders the bits as 0/1 digits.
func (b Bits) String() string {
	var sb strings.Builder
	for _, bit := range b {
		if bit != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
