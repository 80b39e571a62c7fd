package sim

import (
	"time"

	"github.com/robotalks/pulselink/pkg/link"
)

// Event records a level change on a bus line.
type Event struct {
	Time  time.Time
	Index int
	Level link.Level
	// Symbol is the data symbol on the bus right after the change.
	Symbol link.Bits
}

// LevelListener is notified of level changes.
type LevelListener interface {
	LevelChanged(Event)
}

// LevelListenerFunc is the func form of LevelListener.
type LevelListenerFunc func(Event)

// LevelChanged implements LevelListener.
func (f LevelListenerFunc) LevelChanged(ev Event) {
	f(ev)
}
