package sim

import (
	"container/heap"
	"sync"
	"time"
)

// Epoch is the start time of every Clock.
var Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a discrete-event clock shared by a fixed set of actors.
// Virtual time only advances when every joined actor is asleep, and
// then exactly one sleeper is woken: the earliest, ties broken by the
// order Sleep was called. An actor therefore runs alone until it
// sleeps again, which makes a simulation deterministic.
//
// Every goroutine calling Sleep must Join first and Leave when done.
type Clock struct {
	lock     sync.Mutex
	now      time.Time
	awake    int
	seq      uint64
	sleepers sleeperQueue
}

type sleeper struct {
	wake time.Time
	seq  uint64
	ch   chan struct{}
}

type sleeperQueue []*sleeper

func (q sleeperQueue) Len() int { return len(q) }
func (q sleeperQueue) Less(i, j int) bool {
	if q[i].wake.Equal(q[j].wake) {
		return q[i].seq < q[j].seq
	}
	return q[i].wake.Before(q[j].wake)
}
func (q sleeperQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *sleeperQueue) Push(x interface{}) { *q = append(*q, x.(*sleeper)) }
func (q *sleeperQueue) Pop() interface{} {
	old := *q
	n := len(old)
	s := old[n-1]
	*q = old[:n-1]
	return s
}

// NewClock creates a Clock at Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Join registers the calling actor as awake.
func (c *Clock) Join() {
	c.lock.Lock()
	c.awake++
	c.lock.Unlock()
}

// Leave unregisters the calling actor.
func (c *Clock) Leave() {
	c.lock.Lock()
	c.awake--
	c.advance()
	c.lock.Unlock()
}

// Now implements framework.Clock.
func (c *Clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Elapsed returns virtual time since Epoch.
func (c *Clock) Elapsed() time.Duration {
	return c.Now().Sub(Epoch)
}

// Sleep implements framework.Clock.
func (c *Clock) Sleep(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.lock.Lock()
	s := &sleeper{wake: c.now.Add(d), seq: c.seq, ch: make(chan struct{})}
	c.seq++
	heap.Push(&c.sleepers, s)
	c.awake--
	c.advance()
	c.lock.Unlock()
	<-s.ch
}

// advance wakes the next sleeper once nobody is awake. Lock must be held.
func (c *Clock) advance() {
	if c.awake > 0 || c.sleepers.Len() == 0 {
		return
	}
	s := heap.Pop(&c.sleepers).(*sleeper)
	if s.wake.After(c.now) {
		c.now = s.wake
	}
	c.awake++
	close(s.ch)
}
