package link

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/pulselink/pkg/framework"
)

// Receiver samples the data lines periodically and acknowledges symbols.
type Receiver struct {
	Lines    *LineSet
	Pulser   *Pulser
	Interval time.Duration
	State    Accumulator
}

// NewReceiver creates a Receiver on lines already bound as RoleReceiver.
func NewReceiver(lines *LineSet, pulser *Pulser, variant Variant) (*Receiver, error) {
	if lines.Role() != RoleReceiver {
		return nil, fmt.Errorf("receiver on lines bound as %s: %w", lines.Role(), ErrUnbound)
	}
	if pulser == nil {
		pulser = NewPulser()
	}
	return &Receiver{
		Lines:    lines,
		Pulser:   pulser,
		Interval: DefaultReceiverPoll,
		State:    NewAccumulator(variant),
	}, nil
}

// Poll reads one symbol and advances the state, emitting a pulse when
// required. The state is only committed once the pulse completed.
func (r *Receiver) Poll(ctx context.Context) (Step, error) {
	sym, err := r.Lines.ReadSymbol()
	if err != nil {
		return Step{}, err
	}
	next, step := r.State.Next(sym)
	if step.Ack {
		ack, err := r.Lines.Ack()
		if err != nil {
			return step, err
		}
		if err := r.Pulser.Emit(ctx, ack); err != nil {
			return step, err
		}
		next.Acks++
	}
	if step.Received {
		glog.V(1).Infof("received %q (%s)", step.Byte, step.Symbol)
	}
	if step.From != step.To {
		glog.V(2).Infof("mode %s -> %s", step.From, step.To)
	}
	r.State = next
	return step, nil
}

// Text returns what has been received so far.
func (r *Receiver) Text() string {
	return r.State.String()
}

// Control implements framework.Controller.
func (r *Receiver) Control(cc fx.ControlContext) error {
	step, err := r.Poll(cc.Context())
	if err != nil {
		return err
	}
	if step.Received {
		cc.Messages().AddMessages(&ByteReceived{Byte: step.Byte, Text: r.Text()})
	}
	if step.From != step.To {
		cc.Messages().AddMessages(&ModeChanged{From: step.From, To: step.To})
	}
	return nil
}

// AddToLoop implements framework.LoopAdder.
func (r *Receiver) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvSense, r)
	l.AddController(fx.PrLvPostProc, &ProgressLog{})
}

// Loop creates a loop polling at the receiver interval.
func (r *Receiver) Loop() *fx.Loop {
	return fx.NewLoop().
		WithInterval(r.Interval).
		WithClock(r.Pulser.Clock).
		Add(r)
}

// ByteReceived is posted when a byte is appended.
type ByteReceived struct {
	Byte byte
	Text string
}

// NewMessage implements framework.Message.
func (m *ByteReceived) NewMessage() fx.Message { return &ByteReceived{} }

// ModeChanged is posted on receiver mode transitions.
type ModeChanged struct {
	From Mode
	To   Mode
}

// NewMessage implements framework.Message.
func (m *ModeChanged) NewMessage() fx.Message { return &ModeChanged{} }

// ProgressLog logs receiver messages of the current iteration.
type ProgressLog struct {
	// OnByte is invoked for every received byte if set.
	OnByte func(*ByteReceived)
}

// Control implements framework.Controller.
func (p *ProgressLog) Control(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		switch msg := mc.CurrentMessage().(type) {
		case *ByteReceived:
			glog.Infof("text so far: %q", msg.Text)
			if p.OnByte != nil {
				p.OnByte(msg)
			}
			mc.MessageTaken()
		case *ModeChanged:
			glog.V(3).Infof("receiver %s -> %s", msg.From, msg.To)
			mc.MessageTaken()
		}
	}))
	return nil
}
