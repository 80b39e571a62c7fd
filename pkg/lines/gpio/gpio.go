// Package gpio drives link lines with periph.io GPIO pins.
package gpio

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/robotalks/pulselink/pkg/link"
)

// Pin is the subset of gpio.PinIO used by a line.
type Pin interface {
	Name() string
	Out(l gpio.Level) error
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
}

// Line adapts a Pin to link.Line.
type Line struct {
	Pin  Pin
	Pull gpio.Pull
}

// Name implements link.Line.
func (l *Line) Name() string { return l.Pin.Name() }

// Out implements link.Line.
func (l *Line) Out(level link.Level) error {
	return l.Pin.Out(gpio.Level(level))
}

// In implements link.Line.
func (l *Line) In() error {
	return l.Pin.In(l.Pull, gpio.NoEdge)
}

// Read implements link.Line.
func (l *Line) Read() (link.Level, error) {
	return link.Level(l.Pin.Read()), nil
}

var (
	hostOnce sync.Once
	hostErr  error
)

// InitHost loads the periph host drivers once.
func InitHost() error {
	hostOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			hostErr = fmt.Errorf("gpio host init: %w", err)
			return
		}
		for _, d := range state.Loaded {
			glog.V(2).Infof("gpio driver loaded: %s", d)
		}
	})
	return hostErr
}

// Discoverer finds pins in cabling order.
//
// Pins, when set, are used as is. Otherwise Names are looked up in the
// GPIO registry; with no names, every registered pin is used in pin
// number order.
type Discoverer struct {
	Names []string
	Pins  []Pin
	// Pull is applied to input lines.
	Pull gpio.Pull
	// Init prepares the registry, InitHost when nil.
	Init func() error
}

// DiscoverLines implements link.Discoverer.
func (d *Discoverer) DiscoverLines() ([]link.Line, error) {
	pins, err := d.pins()
	if err != nil {
		return nil, err
	}
	lines := make([]link.Line, len(pins))
	for i, pin := range pins {
		lines[i] = &Line{Pin: pin, Pull: d.Pull}
	}
	return lines, nil
}

func (d *Discoverer) pins() ([]Pin, error) {
	if len(d.Pins) > 0 {
		return d.Pins, nil
	}
	initHost := d.Init
	if initHost == nil {
		initHost = InitHost
	}
	if err := initHost(); err != nil {
		return nil, err
	}
	if len(d.Names) == 0 {
		all := gpioreg.All()
		pins := make([]Pin, 0, len(all))
		for _, p := range all {
			pins = append(pins, p)
		}
		return pins, nil
	}
	pins := make([]Pin, len(d.Names))
	for i, name := range d.Names {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio %q: %w", name, &link.MissingLineError{Index: i + 1})
		}
		pins[i] = p
	}
	return pins, nil
}
