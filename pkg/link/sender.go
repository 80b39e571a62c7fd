package link

import (
	"bytes"
	"context"
	"fmt"

	"github.com/golang/glog"
)

// Sender transmits byte sequences over the data lines.
type Sender struct {
	Lines   *LineSet
	Pulser  *Pulser
	Variant Variant
}

// NewSender creates a Sender on lines already bound as RoleSender.
func NewSender(lines *LineSet, pulser *Pulser, variant Variant) (*Sender, error) {
	if lines.Role() != RoleSender {
		return nil, fmt.Errorf("sender on lines bound as %s: %w", lines.Role(), ErrUnbound)
	}
	if pulser == nil {
		pulser = NewPulser()
	}
	return &Sender{Lines: lines, Pulser: pulser, Variant: variant}, nil
}

type sendStep int

const (
	stepAssert sendStep = iota
	stepAwaitData
	stepClear
	stepAwaitClear
	stepFinalClear
	stepDone
)

var sendStepNames = []string{
	"assert", "await-data-ack", "clear", "await-clear-ack", "final-clear", "done",
}

func (s sendStep) String() string {
	return sendStepNames[s]
}

type sendSession struct {
	remaining []byte
	current   byte
	sent      int
	step      sendStep
}

// Send transmits data in order. It returns after the last byte is
// acknowledged and, for DoubleAck, the data lines are cleared.
func (s *Sender) Send(ctx context.Context, data []byte) error {
	if n := bytes.Count(data, []byte{0}); n > 0 {
		glog.Warningf("payload contains %d zero byte(s): indistinguishable from clear, the transfer will stall", n)
	}
	ack, err := s.Lines.Ack()
	if err != nil {
		return err
	}
	sess := &sendSession{remaining: data}
	for sess.step != stepDone {
		if err := s.advance(ctx, ack, sess); err != nil {
			return fmt.Errorf("send byte %d (%#02x) at %s: %w", sess.sent, sess.current, sess.step, err)
		}
	}
	glog.V(1).Infof("sent %d byte(s)", sess.sent)
	return nil
}

// SendString transmits the bytes of str.
func (s *Sender) SendString(ctx context.Context, str string) error {
	return s.Send(ctx, []byte(str))
}

func (s *Sender) advance(ctx context.Context, ack Signal, sess *sendSession) error {
	switch sess.step {
	case stepAssert:
		if len(sess.remaining) == 0 {
			if s.Variant == DoubleAck {
				sess.step = stepFinalClear
			} else {
				sess.step = stepDone
			}
			return nil
		}
		sess.current, sess.remaining = sess.remaining[0], sess.remaining[1:]
		bits := Encode(sess.current)
		if err := s.Lines.WriteSymbol(bits); err != nil {
			return err
		}
		glog.V(2).Infof("asserted %q as %s", sess.current, bits)
		sess.step = stepAwaitData
	case stepAwaitData:
		if err := s.Pulser.Await(ctx, ack); err != nil {
			return err
		}
		if s.Variant == DoubleAck {
			sess.step = stepClear
		} else {
			sess.sent++
			sess.step = stepAssert
		}
	case stepClear:
		if err := s.Lines.Clear(); err != nil {
			return err
		}
		sess.step = stepAwaitClear
	case stepAwaitClear:
		if err := s.Pulser.Await(ctx, ack); err != nil {
			return err
		}
		sess.sent++
		sess.step = stepAssert
	case stepFinalClear:
		if err := s.Lines.Clear(); err != nil {
			return err
		}
		sess.step = stepDone
	}
	return nil
}
