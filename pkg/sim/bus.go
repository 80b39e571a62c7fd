package sim

import (
	"fmt"
	"sync"

	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/link"
)

// Bus is a set of shared in-memory wires. Every endpoint sees the
// same levels. Ownership is enforced by the link.LineSet of each
// endpoint, not by the bus.
type Bus struct {
	Clock fx.Clock

	lock   sync.Mutex
	levels []link.Level
	trace  []Event
	caster LevelChangeCaster
}

// NewBus creates a bus with n wires, all LOW.
func NewBus(n int) *Bus {
	return &Bus{levels: make([]link.Level, n)}
}

// WithClock sets the clock used to timestamp events.
func (b *Bus) WithClock(c fx.Clock) *Bus {
	b.Clock = c
	return b
}

// Size returns the number of wires.
func (b *Bus) Size() int {
	return len(b.levels)
}

// SubscribeLevelChange adds a listener invoked on every change.
// Listeners run with the bus locked and must not access the bus.
func (b *Bus) SubscribeLevelChange(ln LevelListener) {
	b.lock.Lock()
	b.caster.SubscribeLevelChange(ln)
	b.lock.Unlock()
}

// Endpoint returns all wires as lines in index order.
func (b *Bus) Endpoint() []link.Line {
	lines := make([]link.Line, len(b.levels))
	for i := range lines {
		lines[i] = &wire{bus: b, index: i + 1}
	}
	return lines
}

// DiscoverLines implements link.Discoverer.
func (b *Bus) DiscoverLines() ([]link.Line, error) {
	return b.Endpoint(), nil
}

// Level samples wire index (1-based).
func (b *Bus) Level(index int) link.Level {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.levels[index-1]
}

// Drive sets wire index directly, bypassing any endpoint. It is
// used to inject faults such as a stuck line.
func (b *Bus) Drive(index int, level link.Level) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.set(index, level)
}

func (b *Bus) set(index int, level link.Level) {
	if b.levels[index-1] == level {
		return
	}
	b.levels[index-1] = level
	ev := Event{Time: fx.ClockOrSystem(b.Clock).Now(), Index: index, Level: level, Symbol: b.symbol()}
	b.trace = append(b.trace, ev)
	b.caster.LevelChanged(ev)
}

func (b *Bus) symbol() (bits link.Bits) {
	for i := 0; i < link.DataLines && i < len(b.levels); i++ {
		if b.levels[i] {
			bits[i] = 1
		}
	}
	return
}

// Trace returns all recorded level changes.
func (b *Bus) Trace() []Event {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]Event(nil), b.trace...)
}

// RisingEdges counts LOW to HIGH changes of wire index.
func (b *Bus) RisingEdges(index int) (n int) {
	for _, ev := range b.Trace() {
		if ev.Index == index && ev.Level == link.High {
			n++
		}
	}
	return
}

// AckSymbols returns the data symbol held at each rising edge of the
// acknowledgment wire, i.e. what every pulse acknowledged.
func (b *Bus) AckSymbols() (symbols []link.Bits) {
	for _, ev := range b.Trace() {
		if ev.Index == link.AckIndex && ev.Level == link.High {
			symbols = append(symbols, ev.Symbol)
		}
	}
	return
}

type wire struct {
	bus   *Bus
	index int
}

func (w *wire) Name() string {
	return fmt.Sprintf("wire%d", w.index)
}

func (w *wire) Out(level link.Level) error {
	w.bus.Drive(w.index, level)
	return nil
}

func (w *wire) In() error {
	return nil
}

func (w *wire) Read() (link.Level, error) {
	return w.bus.Level(w.index), nil
}
