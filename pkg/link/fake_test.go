package link

import (
	"fmt"
	"time"
)

type fakeLine struct {
	name   string
	level  Level
	output bool
	writes int
	err    error
}

func newFakeLines(n int) []Line {
	lines := make([]Line, n)
	for i := range lines {
		lines[i] = &fakeLine{name: fmt.Sprintf("fake%d", i+1)}
	}
	return lines
}

func (l *fakeLine) Name() string { return l.name }

func (l *fakeLine) Out(level Level) error {
	if l.err != nil {
		return l.err
	}
	l.output = true
	l.level = level
	l.writes++
	return nil
}

func (l *fakeLine) In() error {
	l.output = false
	return l.err
}

func (l *fakeLine) Read() (Level, error) {
	return l.level, l.err
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) elapsed() time.Duration {
	return c.now.Sub(time.Unix(0, 0))
}

// scriptedSignal reports levels by elapsed time on a fakeClock.
type scriptedSignal struct {
	clock *fakeClock
	// edges are the elapsed times at which the level toggles, starting LOW.
	edges []time.Duration
	sets  []Level
}

func (s *scriptedSignal) Get() (Level, error) {
	level := Low
	for _, edge := range s.edges {
		if s.clock.elapsed() >= edge {
			level = !level
		}
	}
	return level, nil
}

func (s *scriptedSignal) Set(level Level) error {
	s.sets = append(s.sets, level)
	return nil
}

// fakeBus drives its lines in one step and counts the operations.
type fakeBus struct {
	writes, reads int
}

type fakeBusLine struct {
	*fakeLine
	bus *fakeBus
}

func (l *fakeBusLine) SymbolBus() SymbolBus { return l.bus }

func (b *fakeBus) WriteSymbol(lines []Line, bits Bits) error {
	b.writes++
	for n, line := range lines {
		line.(*fakeBusLine).level = bits.Level(n + 1)
	}
	return nil
}

func (b *fakeBus) ReadSymbol(lines []Line) (bits Bits, err error) {
	b.reads++
	for n, line := range lines {
		if line.(*fakeBusLine).level {
			bits[n] = 1
		}
	}
	return
}

// newFakeBusLines puts the data lines on bus, the ack line stays plain.
func newFakeBusLines(bus *fakeBus) []Line {
	lines := newFakeLines(TotalLines)
	for i := 0; i < DataLines; i++ {
		lines[i] = &fakeBusLine{fakeLine: lines[i].(*fakeLine), bus: bus}
	}
	return lines
}
