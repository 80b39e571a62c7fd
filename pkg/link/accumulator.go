package link

// Mode is the receiver protocol state.
type Mode int

// Modes
const (
	AwaitingData Mode = iota
	AwaitingClear
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == AwaitingClear {
		return "AWAITING_CLEAR"
	}
	return "AWAITING_DATA"
}

// Accumulator is the receiver state carried from one poll to the next.
// It is a value: Next never mutates the receiver.
//
// With DoubleAck, AwaitingClear waits for the all-zero symbol. With
// SingleAck, AwaitingClear waits for the held symbol to change; a new
// non-zero symbol is accepted directly and an all-zero symbol returns
// to AwaitingData.
type Accumulator struct {
	Variant Variant
	Mode    Mode
	Text    []byte
	Acks    int

	last Bits
}

// Step describes what one symbol did to the Accumulator.
type Step struct {
	Symbol   Bits
	From     Mode
	To       Mode
	Received bool
	Byte     byte
	// Ack requests an acknowledgment pulse.
	Ack bool
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator(variant Variant) Accumulator {
	return Accumulator{Variant: variant, Mode: AwaitingData}
}

// Next computes the state after observing sym.
func (a Accumulator) Next(sym Bits) (Accumulator, Step) {
	step := Step{Symbol: sym, From: a.Mode, To: a.Mode}
	switch a.Mode {
	case AwaitingData:
		if !sym.IsZero() {
			a = a.accept(sym, &step)
		}
	case AwaitingClear:
		switch {
		case sym.IsZero():
			if a.Variant != SingleAck {
				step.Ack = true
			}
			a.Mode = AwaitingData
		case a.Variant == SingleAck && sym != a.last:
			a = a.accept(sym, &step)
		}
	}
	step.To = a.Mode
	return a, step
}

func (a Accumulator) accept(sym Bits, step *Step) Accumulator {
	step.Byte = Decode(sym)
	step.Received = true
	step.Ack = true
	text := make([]byte, len(a.Text), len(a.Text)+1)
	copy(text, a.Text)
	a.Text = append(text, step.Byte)
	a.last = sym
	a.Mode = AwaitingClear
	return a
}

// String returns the accumulated text.
func (a Accumulator) String() string {
	return string(a.Text)
}
