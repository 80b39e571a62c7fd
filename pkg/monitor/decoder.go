// Package monitor observes a link passively and decodes what it carries.
package monitor

import (
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/link"
	"github.com/robotalks/pulselink/pkg/msgs"
)

// Event is one observed level change.
type Event struct {
	Time    time.Time `json:"time"`
	Channel int       `json:"channel"`
	High    bool      `json:"high"`
	Source  string    `json:"source,omitempty"`
	// Symbol and Byte are set on acknowledgment rising edges.
	Symbol string `json:"symbol,omitempty"`
	Byte   *byte  `json:"byte,omitempty"`
}

// Sink receives decoded events.
type Sink interface {
	Broadcast(Event)
}

// Decoder tracks line levels from LineLevel messages and decodes the
// data symbol held at every acknowledgment rising edge.
type Decoder struct {
	Sink Sink

	levels [link.TotalLines]link.Level
	acks   int
	text   []byte
}

// Observe applies one level change.
func (d *Decoder) Observe(msg *msgs.LineLevel) (Event, bool) {
	ch := int(msg.Channel)
	if ch < 1 || ch > link.TotalLines {
		glog.V(2).Infof("ignore level of channel %d", ch)
		return Event{}, false
	}
	level := link.Level(msg.High)
	if d.levels[ch-1] == level {
		return Event{}, false
	}
	d.levels[ch-1] = level
	ev := Event{Time: msg.Time(), Channel: ch, High: msg.High, Source: msg.Source}
	if ch == link.AckIndex && level == link.High {
		d.acks++
		sym := d.Symbol()
		ev.Symbol = sym.String()
		if !sym.IsZero() {
			b := link.Decode(sym)
			ev.Byte = &b
			d.text = append(d.text, b)
			glog.Infof("ack #%d: %q (%s) text %q", d.acks, b, sym, d.text)
		} else {
			glog.Infof("ack #%d: clear", d.acks)
		}
	}
	return ev, true
}

// Symbol returns the current data symbol.
func (d *Decoder) Symbol() (bits link.Bits) {
	for i := 0; i < link.DataLines; i++ {
		if d.levels[i] {
			bits[i] = 1
		}
	}
	return
}

// Acks returns the number of acknowledgment pulses seen.
func (d *Decoder) Acks() int { return d.acks }

// Text returns the bytes decoded so far.
func (d *Decoder) Text() string { return string(d.text) }

// Control implements framework.Controller.
func (d *Decoder) Control(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		msg, ok := mc.CurrentMessage().(*msgs.LineLevel)
		if !ok {
			return
		}
		mc.MessageTaken()
		if ev, changed := d.Observe(msg); changed && d.Sink != nil {
			d.Sink.Broadcast(ev)
		}
	}))
	return nil
}
