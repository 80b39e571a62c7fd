package sim

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/link"
)

// Bench wires a Sender and a Receiver over one Bus on a virtual Clock.
type Bench struct {
	Clock    *Clock
	Bus      *Bus
	Sender   *link.Sender
	Receiver *link.Receiver
	// Settle is how long the receiver keeps polling after the sender
	// returned.
	Settle time.Duration
	// Observers are added to the receiver loop, e.g. a journal.
	Observers []fx.LoopAdder
}

// Result summarizes one transfer.
type Result struct {
	Received string
	Acks     int
	Elapsed  time.Duration
}

// BenchOptions tunes the timings of a Bench.
type BenchOptions struct {
	Dwell       time.Duration
	AckPoll     time.Duration
	ReceivePoll time.Duration
	AckTimeout  time.Duration
}

// DefaultBenchOptions returns the default link timings.
func DefaultBenchOptions() BenchOptions {
	return BenchOptions{
		Dwell:       link.DefaultDwell,
		AckPoll:     link.DefaultAckPoll,
		ReceivePoll: link.DefaultReceiverPoll,
	}
}

// NewBench creates a Bench for the variant.
func NewBench(variant link.Variant, opts BenchOptions) (*Bench, error) {
	if err := link.ValidateTimings(opts.Dwell, opts.AckPoll, opts.ReceivePoll); err != nil {
		return nil, err
	}
	clock := NewClock()
	bus := NewBus(link.TotalLines).WithClock(clock)
	pulser := func() *link.Pulser {
		return &link.Pulser{Clock: clock, Dwell: opts.Dwell, PollInterval: opts.AckPoll, Timeout: opts.AckTimeout}
	}

	senderLines, err := link.Discover(bus)
	if err != nil {
		return nil, err
	}
	if err = senderLines.Bind(link.RoleSender); err != nil {
		return nil, err
	}
	sender, err := link.NewSender(senderLines, pulser(), variant)
	if err != nil {
		return nil, err
	}

	receiverLines, err := link.Discover(bus)
	if err != nil {
		return nil, err
	}
	if err = receiverLines.Bind(link.RoleReceiver); err != nil {
		return nil, err
	}
	receiver, err := link.NewReceiver(receiverLines, pulser(), variant)
	if err != nil {
		return nil, err
	}
	receiver.Interval = opts.ReceivePoll

	return &Bench{
		Clock:    clock,
		Bus:      bus,
		Sender:   sender,
		Receiver: receiver,
		Settle:   2*opts.ReceivePoll + opts.Dwell,
	}, nil
}

// Transfer sends data and runs the receiver until the sender is done
// and the bus settled. The sender error is returned with the result.
// Both actors sleep once before touching the bus, so neither starts
// until the other has joined.
func (b *Bench) Transfer(ctx context.Context, data []byte) (Result, error) {
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := b.Clock.Now()
	var wg sync.WaitGroup
	var sendErr error
	b.Clock.Join()
	b.Clock.Join()
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer b.Clock.Leave()
		// first poll one interval after the sender starts
		b.Clock.Sleep(b.Receiver.Interval)
		if err := b.Receiver.Loop().Add(b.Observers...).Run(recvCtx); err != nil && err != context.Canceled {
			glog.Errorf("receiver: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		defer b.Clock.Leave()
		b.Clock.Sleep(0)
		sendErr = b.Sender.Send(ctx, data)
		b.Clock.Sleep(b.Settle)
		cancel()
	}()
	wg.Wait()

	return Result{
		Received: b.Receiver.Text(),
		Acks:     b.Receiver.State.Acks,
		Elapsed:  b.Clock.Now().Sub(start),
	}, sendErr
}
