// Package redis carries cable lines over a Redis server.
//
// A cable named c keeps its line table in the hash pulselink:c:lines
// (line name to channel), the current level of each line in
// pulselink:c:level:<name> and publishes every level change as a
// msgs.LineLevel on pulselink:c:levels. A whole symbol is published as
// one msgs.LineLevels on pulselink:c:symbols.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/robotalks/pulselink/pkg/link"
	"github.com/robotalks/pulselink/pkg/msgs"
)

// LinesKey is the hash of announced lines.
func LinesKey(cable string) string {
	return "pulselink:" + cable + ":lines"
}

// LevelKey holds the last level of a line, "1" for HIGH.
func LevelKey(cable, line string) string {
	return "pulselink:" + cable + ":level:" + line
}

// LevelsChannel is where level changes are published.
func LevelsChannel(cable string) string {
	return "pulselink:" + cable + ":levels"
}

// SymbolsChannel is where whole symbols are published.
func SymbolsChannel(cable string) string {
	return "pulselink:" + cable + ":symbols"
}

func encodeLevel(level link.Level) string {
	if level {
		return "1"
	}
	return "0"
}

// Cable is a set of lines stored on a Redis server.
type Cable struct {
	Client *redis.Client
	Name   string
	// Source identifies this endpoint in published levels.
	Source string

	lock     sync.Mutex
	lines    map[uint32]*Line
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	finished chan struct{}

	// levels guards the level and stamp of every line.
	levels sync.Mutex
}

// NewCable creates a Cable. The client is owned by the caller.
func NewCable(client *redis.Client, name, source string) (*Cable, error) {
	if name == "" {
		return nil, fmt.Errorf("cable name cannot be empty")
	}
	return &Cable{Client: client, Name: name, Source: source}, nil
}

type entry struct {
	name    string
	channel int
}

func orderEntries(table map[string]string) ([]entry, error) {
	entries := make([]entry, 0, len(table))
	for name, val := range table {
		ch, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("line %q: invalid channel %q", name, val)
		}
		entries = append(entries, entry{name: name, channel: ch})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].channel == entries[j].channel {
			return entries[i].name < entries[j].name
		}
		return entries[i].channel < entries[j].channel
	})
	return entries, nil
}

// DiscoverLines implements link.Discoverer.
func (c *Cable) DiscoverLines() ([]link.Line, error) {
	return c.Discover(context.Background())
}

// Discover reads the line table and returns the lines in channel order.
// Level updates are tracked until Close.
func (c *Cable) Discover(ctx context.Context) ([]link.Line, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.pubsub != nil {
		return nil, fmt.Errorf("cable %q already discovered", c.Name)
	}

	table, err := c.Client.HGetAll(ctx, LinesKey(c.Name)).Result()
	if err != nil {
		return nil, fmt.Errorf("read line table: %w", err)
	}
	entries, err := orderEntries(table)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// subscribe before reading the levels so no change is missed
	channels := []string{LevelsChannel(c.Name), SymbolsChannel(c.Name)}
	pubsub := c.Client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("subscribe levels: %w", err)
		}
	}

	keys := make([]string, len(entries))
	for n, e := range entries {
		keys[n] = LevelKey(c.Name, e.name)
	}
	levels, err := c.Client.MGet(ctx, keys...).Result()
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("read levels: %w", err)
	}

	c.lines = make(map[uint32]*Line, len(entries))
	lines := make([]link.Line, 0, len(entries))
	for n, e := range entries {
		line := &Line{cable: c, name: e.name, channel: e.channel}
		if val, ok := levels[n].(string); ok {
			line.level = val == "1"
		}
		c.lines[uint32(e.channel)] = line
		lines = append(lines, line)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	c.pubsub, c.cancel, c.finished = pubsub, cancel, make(chan struct{})
	go c.track(subCtx, pubsub.Channel(), c.finished)

	glog.V(1).Infof("cable %q: %d line(s) in table", c.Name, len(lines))
	return lines, nil
}

func (c *Cable) track(ctx context.Context, ch <-chan *redis.Message, finished chan struct{}) {
	defer close(finished)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if m.Channel == SymbolsChannel(c.Name) {
				batch, err := msgs.DecodeLineLevels([]byte(m.Payload))
				if err != nil {
					glog.Warningf("invalid symbol on %q: %v", m.Channel, err)
					continue
				}
				c.handleLevels(batch.Levels...)
				continue
			}
			msg, err := msgs.DecodeLineLevel([]byte(m.Payload))
			if err != nil {
				glog.Warningf("invalid level on %q: %v", m.Channel, err)
				continue
			}
			c.handleLevels(msg)
		}
	}
}

// handleLevels applies received levels under one lock, so a symbol
// read never mixes two batches.
func (c *Cable) handleLevels(levels ...*msgs.LineLevel) {
	c.lock.Lock()
	lines := make([]*Line, len(levels))
	for n, msg := range levels {
		lines[n] = c.lines[msg.Channel]
	}
	c.lock.Unlock()

	c.levels.Lock()
	defer c.levels.Unlock()
	for n, msg := range levels {
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

// WriteSymbol implements link.SymbolBus. All level keys and the symbol
// notification are written in one transaction.
func (c *Cable) WriteSymbol(lines []link.Line, bits link.Bits) error {
	own, err := c.ownLines(lines)
	if err != nil {
		return err
	}
	batch := &msgs.LineLevels{Source: c.Source, Stamp: time.Now().UnixNano()}
	pairs := make([]interface{}, 0, 2*len(own))
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
		pairs = append(pairs, LevelKey(c.Name, l.name), encodeLevel(level))
	}
	c.levels.Unlock()
	payload, err := batch.Encode()
	if err != nil {
		return err
	}

	ctx := context.Background()
	_, err = c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx, pairs...)
		pipe.Publish(ctx, SymbolsChannel(c.Name), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("drive symbol on %q: %w", c.Name, err)
	}
	return nil
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

// Close stops tracking level updates.
func (c *Cable) Close() error {
	c.lock.Lock()
	pubsub, cancel, finished := c.pubsub, c.cancel, c.finished
	c.pubsub, c.cancel, c.finished = nil, nil, nil
	c.lock.Unlock()
	if pubsub == nil {
		return nil
	}
	cancel()
	err := pubsub.Close()
	<-finished
	return err
}

// Line is one line of a Cable.
type Line struct {
	cable   *Cable
	name    string
	channel int

	level link.Level
	stamp int64
}

// Name implements link.Line.
func (l *Line) Name() string { return l.name }

// Channel returns the channel number from the line table.
func (l *Line) Channel() int { return l.channel }

// SymbolBus implements link.BusLine.
func (l *Line) SymbolBus() link.SymbolBus { return l.cable }

// Out implements link.Line. The level key and the change notification
// are written in one transaction.
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

	ctx := context.Background()
	_, err = l.cable.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, LevelKey(l.cable.Name, l.name), encodeLevel(level), 0)
		pipe.Publish(ctx, LevelsChannel(l.cable.Name), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("drive %s: %w", l.name, err)
	}
	return nil
}

// In implements link.Line.
func (l *Line) In() error { return nil }

// Read implements link.Line.
func (l *Line) Read() (link.Level, error) {
	l.cable.levels.Lock()
	defer l.cable.levels.Unlock()
	return l.level, nil
}

func (l *Line) handleLevel(msg *msgs.LineLevel) {
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
