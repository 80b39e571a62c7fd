package framework

import (
	"context"
	"time"
)

// Runnable is anything started by a Runner.
type Runnable interface {
	Run(context.Context) error
}

// Message is exchanged between controllers of a loop.
type Message interface {
	// NewMessage creates an empty message of the same type.
	NewMessage() Message
}

// Controller is invoked once per loop iteration.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc is the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(cc ControlContext) error {
	return f(cc)
}

// ControlContext is what a controller sees of the current iteration.
type ControlContext interface {
	Context() context.Context
	// Time is the clock reading when the iteration started.
	Time() time.Time
	// Iteration counts from 1.
	Iteration() uint64
	PriorityLevel() int
	// Messages holds what was posted before the iteration started plus
	// what earlier controllers added.
	Messages() MessageStore

	LoopControl
}

// PriorityLevels is the number of priority levels.
const PriorityLevels int = 8

// Priority levels, run in ascending order within an iteration.
const (
	// PrLvSense samples lines and posts what was observed.
	PrLvSense int = 1
	// PrLvControl reacts to observations.
	PrLvControl int = 3
	// PrLvRecord persists observations.
	PrLvRecord int = 5
	// PrLvPostProc consumes what is left, e.g. progress logging.
	PrLvPostProc int = PriorityLevels - 2
	// PrLvIdle runs last.
	PrLvIdle int = PriorityLevels - 1
)

// LoopControl reaches the loop from inside or outside an iteration.
type LoopControl interface {
	// PostMessage queues the message for the next iteration.
	PostMessage(Message)
	// TriggerNext starts the next iteration without the idle interval.
	TriggerNext()
}

// MessageStore holds the messages of one iteration.
type MessageStore interface {
	// ProcessMessages visits messages in order. Messages not taken stay.
	ProcessMessages(MessageProcessor)
	// AddMessages appends messages visible to controllers running later
	// in the same iteration.
	AddMessages(msgs ...Message)
}

// MessageProcessor visits one message at a time.
type MessageProcessor interface {
	ProcessMessage(MessageProcessingContext)
}

// ProcessMessageFunc is the func form of MessageProcessor.
type ProcessMessageFunc func(MessageProcessingContext)

// ProcessMessage implements MessageProcessor.
func (f ProcessMessageFunc) ProcessMessage(mc MessageProcessingContext) {
	f(mc)
}

// MessageProcessingContext is the message being visited.
type MessageProcessingContext interface {
	CurrentMessage() Message
	// MessageTaken removes the message from the store.
	MessageTaken()
	AddMessages(msgs ...Message)
}

// FatalError stops the loop when Fatal returns true. Other controller
// errors are logged and the loop goes on.
type FatalError interface {
	error
	Fatal() bool
}
