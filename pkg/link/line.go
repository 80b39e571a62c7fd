package link

import (
	"fmt"

	"github.com/golang/glog"
)

// Level is the logical state of a line.
type Level bool

// Levels
const (
	Low  Level = false
	High Level = true
)

// String implements fmt.Stringer.
func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Line is a single binary channel.
type Line interface {
	// Name identifies the line on its backend.
	Name() string
	// Out configures the line as an output driven to the level.
	Out(Level) error
	// In configures the line as an input.
	In() error
	// Read samples the current level.
	Read() (Level, error)
}

// Discoverer enumerates available lines in cabling order.
type Discoverer interface {
	DiscoverLines() ([]Line, error)
}

// SymbolBus is implemented by backends that drive and sample the data
// lines as one unit. A reader of the bus never sees a partly written
// symbol. lines holds the data lines in cabling order.
type SymbolBus interface {
	WriteSymbol(lines []Line, bits Bits) error
	ReadSymbol(lines []Line) (Bits, error)
}

// BusLine is a Line carried by a SymbolBus.
type BusLine interface {
	Line
	SymbolBus() SymbolBus
}

// DiscoverFunc is the func form of Discoverer.
type DiscoverFunc func() ([]Line, error)

// DiscoverLines implements Discoverer.
func (f DiscoverFunc) DiscoverLines() ([]Line, error) {
	return f()
}

// Line indices, 1-based in cabling order.
const (
	DataLines  = 8
	TotalLines = DataLines + 1
	AckIndex   = TotalLines
)

// Role decides which lines an endpoint drives.
type Role int

// Roles
const (
	RoleSender Role = iota + 1
	RoleReceiver
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Owns reports whether an endpoint of this role drives the line at index.
func (r Role) Owns(index int) bool {
	switch r {
	case RoleSender:
		return index >= 1 && index <= DataLines
	case RoleReceiver:
		return index == AckIndex
	}
	return false
}

// LineSet is the ordered set of nine lines bound once at startup.
type LineSet struct {
	lines [TotalLines]Line
	role  Role
	bus   SymbolBus
}

// Discover enumerates lines and keeps the first nine in the order
// reported. Fewer than nine is fatal.
func Discover(d Discoverer) (*LineSet, error) {
	lines, err := d.DiscoverLines()
	if err != nil {
		return nil, fmt.Errorf("discover lines: %w", err)
	}
	return NewLineSet(lines)
}

// NewLineSet creates a LineSet from lines in cabling order. Lines
// beyond the ninth are ignored.
func NewLineSet(lines []Line) (*LineSet, error) {
	if len(lines) < TotalLines {
		return nil, &InsufficientLinesError{Found: len(lines), Required: TotalLines}
	}
	if len(lines) > TotalLines {
		glog.V(1).Infof("%d lines discovered, using the first %d", len(lines), TotalLines)
	}
	s := &LineSet{}
	for i := range s.lines {
		if lines[i] == nil {
			return nil, &MissingLineError{Index: i + 1}
		}
		s.lines[i] = lines[i]
	}
	s.bus = sharedBus(s.lines[:DataLines])
	return s, nil
}

// sharedBus returns the SymbolBus carrying every data line, or nil.
func sharedBus(lines []Line) SymbolBus {
	var bus SymbolBus
	for _, line := range lines {
		bl, ok := line.(BusLine)
		if !ok {
			return nil
		}
		if bus == nil {
			bus = bl.SymbolBus()
		} else if bl.SymbolBus() != bus {
			return nil
		}
	}
	return bus
}

// Bind configures line directions for the role and drives owned lines LOW.
func (s *LineSet) Bind(role Role) error {
	for i := 1; i <= TotalLines; i++ {
		line, err := s.Line(i)
		if err != nil {
			return err
		}
		if role.Owns(i) {
			err = line.Out(Low)
		} else {
			err = line.In()
		}
		if err != nil {
			return fmt.Errorf("bind line %d (%s) as %s: %w", i, line.Name(), role, err)
		}
	}
	s.role = role
	glog.V(1).Infof("lines bound as %s", role)
	return nil
}

// Role returns the bound role, zero before Bind.
func (s *LineSet) Role() Role {
	return s.role
}

// Line returns the line at 1-based index.
func (s *LineSet) Line(index int) (Line, error) {
	if index < 1 || index > TotalLines || s.lines[index-1] == nil {
		return nil, &MissingLineError{Index: index}
	}
	return s.lines[index-1], nil
}

// Atomic reports whether symbols are written and sampled as one unit.
func (s *LineSet) Atomic() bool {
	return s.bus != nil
}

func (s *LineSet) drivable(index int) (Line, error) {
	line, err := s.Line(index)
	if err != nil {
		return nil, err
	}
	if s.role == 0 {
		return nil, ErrUnbound
	}
	if !s.role.Owns(index) {
		return nil, fmt.Errorf("set line %d as %s: %w", index, s.role, ErrReadOnly)
	}
	return line, nil
}

// Set drives the line at index. Only lines owned by the bound role
// can be driven.
func (s *LineSet) Set(index int, level Level) error {
	line, err := s.drivable(index)
	if err != nil {
		return err
	}
	return line.Out(level)
}

// Get samples the line at index.
func (s *LineSet) Get(index int) (Level, error) {
	line, err := s.Line(index)
	if err != nil {
		return Low, err
	}
	return line.Read()
}

// WriteSymbol drives all data lines, in one operation on a SymbolBus
// and line 1 first otherwise.
func (s *LineSet) WriteSymbol(bits Bits) error {
	if s.bus != nil {
		for i := 1; i <= DataLines; i++ {
			if _, err := s.drivable(i); err != nil {
				return err
			}
		}
		return s.bus.WriteSymbol(s.lines[:DataLines], bits)
	}
	for i := 1; i <= DataLines; i++ {
		if err := s.Set(i, bits.Level(i)); err != nil {
			return err
		}
	}
	return nil
}

// ReadSymbol samples all data lines.
func (s *LineSet) ReadSymbol() (bits Bits, err error) {
	if s.bus != nil {
		return s.bus.ReadSymbol(s.lines[:DataLines])
	}
	for i := 1; i <= DataLines; i++ {
		var level Level
		if level, err = s.Get(i); err != nil {
			return
		}
		if level {
			bits[i-1] = 1
		}
	}
	return
}

// Clear drives all data lines LOW.
func (s *LineSet) Clear() error {
	return s.WriteSymbol(Bits{})
}

// Levels samples all lines.
func (s *LineSet) Levels() (levels [TotalLines]Level, err error) {
	for i := range levels {
		if levels[i], err = s.Get(i + 1); err != nil {
			return
		}
	}
	return
}

// Port returns a handle to the line at index.
func (s *LineSet) Port(index int) (*Port, error) {
	if _, err := s.Line(index); err != nil {
		return nil, err
	}
	return &Port{set: s, index: index}, nil
}

// Ack returns the acknowledgment line handle.
func (s *LineSet) Ack() (*Port, error) {
	return s.Port(AckIndex)
}

// Port is a single line addressed through its LineSet so that
// ownership is always enforced.
type Port struct {
	set   *LineSet
	index int
}

// Index returns the 1-based line index.
func (p *Port) Index() int { return p.index }

// Set implements Signal.
func (p *Port) Set(level Level) error { return p.set.Set(p.index, level) }

// Get implements Signal.
func (p *Port) Get() (Level, error) { return p.set.Get(p.index) }
