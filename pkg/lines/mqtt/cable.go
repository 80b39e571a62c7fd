package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pulselink/pkg/link"
	"github.com/robotalks/pulselink/pkg/msgs"
)

// DefaultDiscoverTimeout is how long discovery collects announcements.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// LineMeta is the retained announcement of one cable line.
type LineMeta struct {
	Channel int    `json:"channel"`
	Cable   string `json:"cable,omitempty"`
}

// LineName is the default name of the line at channel.
func LineName(channel int) string {
	return fmt.Sprintf("line%d", channel)
}

// MetaTopic is where the line announcement is retained.
func MetaTopic(cable, line string) string {
	return cable + "/" + line + "/meta"
}

// LevelTopic is where the line level is retained.
func LevelTopic(cable, line string) string {
	return cable + "/" + line + "/level"
}

// SymbolTopic is where whole symbols are retained as msgs.LineLevels.
func SymbolTopic(cable string) string {
	return cable + "/symbol"
}

// Cable is a set of virtual lines carried by retained MQTT topics.
type Cable struct {
	Queue *Queue
	Name  string
	// Source identifies this endpoint in published levels.
	Source          string
	DiscoverTimeout time.Duration

	lock      sync.Mutex
	lines     []*Line
	byChannel map[uint32]*Line
	symbolSub *Subscription

	// levels guards the level and stamp of every line.
	levels sync.Mutex
}

// NewCable creates a Cable on a connected Queue.
func NewCable(q *Queue, name, source string) *Cable {
	return &Cable{Queue: q, Name: name, Source: source, DiscoverTimeout: DefaultDiscoverTimeout}
}

type announcement struct {
	name string
	meta LineMeta
}

// orderAnnouncements sorts by channel. Topic names carry no order.
func orderAnnouncements(metas map[string]LineMeta) []announcement {
	res := make([]announcement, 0, len(metas))
	for name, meta := range metas {
		res = append(res, announcement{name: name, meta: meta})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].meta.Channel == res[j].meta.Channel {
			return res[i].name < res[j].name
		}
		return res[i].meta.Channel < res[j].meta.Channel
	})
	return res
}

// DiscoverLines implements link.Discoverer.
func (c *Cable) DiscoverLines() ([]link.Line, error) {
	return c.Discover(context.Background())
}

// Discover collects announced lines until the timeout and returns them
// in channel order, each subscribed to its level topic.
func (c *Cable) Discover(ctx context.Context) ([]link.Line, error) {
	type found struct {
		name string
		meta LineMeta
		gone bool
	}
	foundCh := make(chan found, link.TotalLines)
	sub := c.Queue.Sub(MetaTopic(c.Name, "+"), func(topic string, payload []byte) {
		items := strings.Split(topic, "/")
		if len(items) < 3 {
			return
		}
		f := found{name: items[len(items)-2], gone: len(payload) == 0}
		if !f.gone {
			if err := json.Unmarshal(payload, &f.meta); err != nil {
				glog.Warningf("invalid announcement on %q: %v", topic, err)
				return
			}
		}
		select {
		case foundCh <- f:
		case <-time.After(time.Second):
		}
	})
	defer sub.Close()

	timeout := c.DiscoverTimeout
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	metas := make(map[string]LineMeta)
	deadline := time.After(timeout)
collect:
	for {
		select {
		case f := <-foundCh:
			if f.gone {
				delete(metas, f.name)
			} else {
				metas[f.name] = f.meta
			}
		case <-deadline:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ordered := orderAnnouncements(metas)
	lines := make([]link.Line, 0, len(ordered))
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.byChannel == nil {
		c.byChannel = make(map[uint32]*Line)
	}
	for _, a := range ordered {
		line := &Line{cable: c, name: a.name, channel: a.meta.Channel}
		line.sub = c.Queue.Sub(LevelTopic(c.Name, a.name), line.handleLevel)
		c.lines = append(c.lines, line)
		c.byChannel[uint32(a.meta.Channel)] = line
		lines = append(lines, line)
	}
	if c.symbolSub == nil {
		c.symbolSub = c.Queue.Sub(SymbolTopic(c.Name), c.handleSymbol)
	}
	glog.V(1).Infof("cable %q: %d line(s) announced", c.Name, len(lines))
	return lines, nil
}

// Close drops all level subscriptions.
func (c *Cable) Close() error {
	c.lock.Lock()
	lines, symbolSub := c.lines, c.symbolSub
	c.lines, c.byChannel, c.symbolSub = nil, nil, nil
	c.lock.Unlock()
	for _, line := range lines {
		line.sub.Close()
	}
	if symbolSub != nil {
		symbolSub.Close()
	}
	return nil
}

func (c *Cable) handleSymbol(topic string, payload []byte) {
	batch, err := msgs.DecodeLineLevels(payload)
	if err != nil {
		glog.Warningf("invalid symbol on %q: %v", topic, err)
		return
	}
	c.lock.Lock()
	lines := make([]*Line, len(batch.Levels))
	for n, msg := range batch.Levels {
		lines[n] = c.byChannel[msg.Channel]
	}
	c.lock.Unlock()

	c.levels.Lock()
	defer c.levels.Unlock()
	for n, msg := range batch.Levels {
		if lines[n] != nil {
			lines[n].applyLevel(msg)
		}
	}
}

func (c *Cable) ownLines(lines []link.Line) ([]*Line, error) {
	if len(lines) > link.DataLines {
		return nil, fmt.Errorf("cable %q: %d lines in a symbol", c.Name, len(lines))
	}
	own := make([]*Line, len(lines))
	for n, line := range lines {
		l, ok := line.(*Line)
		if !ok || l.cable != c {
			return nil, fmt.Errorf("cable %q: line %s not on this cable", c.Name, line.Name())
		}
		own[n] = l
	}
	return own, nil
}

// WriteSymbol implements link.SymbolBus. The levels are published as
// one retained message.
func (c *Cable) WriteSymbol(lines []link.Line, bits link.Bits) error {
	own, err := c.ownLines(lines)
	if err != nil {
		return err
	}
	batch := &msgs.LineLevels{Source: c.Source, Stamp: time.Now().UnixNano()}
	c.levels.Lock()
	for n, l := range own {
		level := bits.Level(n + 1)
		l.level, l.stamp = level, batch.Stamp
		batch.Levels = append(batch.Levels, &msgs.LineLevel{
			Channel: uint32(l.channel),
			High:    bool(level),
			Source:  c.Source,
			Stamp:   batch.Stamp,
		})
	}
	c.levels.Unlock()
	payload, err := batch.Encode()
	if err != nil {
		return err
	}
	token := c.Queue.Pub(SymbolTopic(c.Name), payload)
	token.Wait()
	return token.Error()
}

// ReadSymbol implements link.SymbolBus.
func (c *Cable) ReadSymbol(lines []link.Line) (bits link.Bits, err error) {
	own, err := c.ownLines(lines)
	if err != nil {
		return bits, err
	}
	c.levels.Lock()
	defer c.levels.Unlock()
	for n, l := range own {
		if l.level {
			bits[n] = 1
		}
	}
	return bits, nil
}

// Line is one virtual line of a Cable.
type Line struct {
	cable   *Cable
	name    string
	channel int
	sub     *Subscription

	level link.Level
	stamp int64
}

// Name implements link.Line.
func (l *Line) Name() string { return l.name }

// Channel returns the announced channel number.
func (l *Line) Channel() int { return l.channel }

// SymbolBus implements link.BusLine.
func (l *Line) SymbolBus() link.SymbolBus { return l.cable }

// Out implements link.Line. It returns once the broker accepted the level.
func (l *Line) Out(level link.Level) error {
	msg := &msgs.LineLevel{
		Channel: uint32(l.channel),
		High:    bool(level),
		Source:  l.cable.Source,
		Stamp:   time.Now().UnixNano(),
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	l.cable.levels.Lock()
	l.level, l.stamp = level, msg.Stamp
	l.cable.levels.Unlock()
	token := l.cable.Queue.Pub(LevelTopic(l.cable.Name, l.name), payload)
	token.Wait()
	return token.Error()
}

// In implements link.Line. Levels are always tracked after discovery.
func (l *Line) In() error { return nil }

// Read implements link.Line.
func (l *Line) Read() (link.Level, error) {
	l.cable.levels.Lock()
	defer l.cable.levels.Unlock()
	return l.level, nil
}

func (l *Line) handleLevel(topic string, payload []byte) {
	msg, err := msgs.DecodeLineLevel(payload)
	if err != nil {
		glog.Warningf("invalid level on %q: %v", topic, err)
		return
	}
	l.cable.levels.Lock()
	defer l.cable.levels.Unlock()
	l.applyLevel(msg)
}

// applyLevel requires cable.levels held.
func (l *Line) applyLevel(msg *msgs.LineLevel) {
	if msg.Source != "" && msg.Source == l.cable.Source {
		return
	}
	if msg.Stamp != 0 && msg.Stamp < l.stamp {
		return
	}
	l.level, l.stamp = link.Level(msg.High), msg.Stamp
}
