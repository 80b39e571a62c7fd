package link

import (
	"context"
	"fmt"
	"time"

	fx "github.com/robotalks/pulselink/pkg/framework"
)

// Default timings.
const (
	DefaultDwell        = 100 * time.Millisecond
	DefaultAckPoll      = 10 * time.Millisecond
	DefaultReceiverPoll = 50 * time.Millisecond
)

// Signal is a single line that can be driven and sampled.
type Signal interface {
	Set(Level) error
	Get() (Level, error)
}

// Pulser emits and detects acknowledgment pulses.
type Pulser struct {
	Clock fx.Clock
	// Dwell is how long an emitted pulse stays HIGH.
	Dwell time.Duration
	// PollInterval is the sampling interval while awaiting a pulse.
	PollInterval time.Duration
	// Timeout bounds Await. Zero waits forever.
	Timeout time.Duration
	// RequireLow makes Await wait for LOW before the rising edge, so a
	// line already HIGH on entry does not count as a pulse.
	RequireLow bool
}

// NewPulser creates a Pulser with default timings.
func NewPulser() *Pulser {
	return &Pulser{Dwell: DefaultDwell, PollInterval: DefaultAckPoll}
}

// WithClock sets the clock.
func (p *Pulser) WithClock(c fx.Clock) *Pulser {
	p.Clock = c
	return p
}

// Emit drives the signal HIGH for Dwell then LOW.
func (p *Pulser) Emit(ctx context.Context, sig Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sig.Set(High); err != nil {
		return fmt.Errorf("pulse rise: %w", err)
	}
	fx.ClockOrSystem(p.Clock).Sleep(p.dwell())
	if err := sig.Set(Low); err != nil {
		return fmt.Errorf("pulse fall: %w", err)
	}
	return nil
}

// Await blocks until the signal is seen HIGH and afterwards LOW.
// A signal stuck HIGH never satisfies Await. Without RequireLow a
// signal already HIGH on entry satisfies the first stage.
func (p *Pulser) Await(ctx context.Context, sig Signal) error {
	start := fx.ClockOrSystem(p.Clock).Now()
	if p.RequireLow {
		if err := p.waitFor(ctx, sig, Low, start); err != nil {
			return err
		}
	}
	if err := p.waitFor(ctx, sig, High, start); err != nil {
		return err
	}
	return p.waitFor(ctx, sig, Low, start)
}

func (p *Pulser) waitFor(ctx context.Context, sig Signal, want Level, start time.Time) error {
	clock := fx.ClockOrSystem(p.Clock)
	for {
		level, err := sig.Get()
		if err != nil {
			return err
		}
		if level == want {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Timeout > 0 && clock.Now().Sub(start) >= p.Timeout {
			return fmt.Errorf("%w: no %s within %v", ErrStall, want, p.Timeout)
		}
		clock.Sleep(p.pollInterval())
	}
}

func (p *Pulser) dwell() time.Duration {
	if p.Dwell > 0 {
		return p.Dwell
	}
	return DefaultDwell
}

func (p *Pulser) pollInterval() time.Duration {
	if p.PollInterval > 0 {
		return p.PollInterval
	}
	return DefaultAckPoll
}

// ValidateTimings checks both poll intervals are shorter than the pulse
// dwell, otherwise pulses can be missed entirely.
func ValidateTimings(dwell, ackPoll, recvPoll time.Duration) error {
	if dwell <= 0 || ackPoll <= 0 || recvPoll <= 0 {
		return fmt.Errorf("timings must be positive: dwell=%v ack-poll=%v recv-poll=%v", dwell, ackPoll, recvPoll)
	}
	if ackPoll >= dwell {
		return fmt.Errorf("ack poll %v must be shorter than pulse dwell %v", ackPoll, dwell)
	}
	if recvPoll >= dwell {
		return fmt.Errorf("receiver poll %v must be shorter than pulse dwell %v", recvPoll, dwell)
	}
	return nil
}
