package link

import (
	"fmt"
	"strings"
)

// Variant selects the handshake protocol.
type Variant int

// Variants
const (
	// SingleAck acknowledges each byte once, data lines are never cleared.
	SingleAck Variant = iota + 1
	// DoubleAck clears the data lines after each byte and waits for the
	// clear to be acknowledged too.
	DoubleAck
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case SingleAck:
		return "single"
	case DoubleAck:
		return "double"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// ParseVariant parses "single" ("a") or "double" ("b").
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "a":
		return SingleAck, nil
	case "double", "b":
		return DoubleAck, nil
	}
	return 0, fmt.Errorf("unknown variant %q", s)
}

// Set implements flag.Value.
func (v *Variant) Set(s string) error {
	parsed, err := ParseVariant(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
