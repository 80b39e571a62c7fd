package redis

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/robotalks/pulselink/pkg/msgs"
)

// Announce writes the line table with channels in slice order starting
// from 1, and drives every level LOW.
func Announce(ctx context.Context, client *redis.Client, cable string, names []string) error {
	table := make(map[string]interface{}, len(names))
	for n, name := range names {
		table[name] = n + 1
	}
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, LinesKey(cable))
		if len(table) > 0 {
			pipe.HSet(ctx, LinesKey(cable), table)
		}
		for _, name := range names {
			pipe.Set(ctx, LevelKey(cable, name), encodeLevel(false), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("announce cable %q: %w", cable, err)
	}
	glog.Infof("cable %q: announced %d line(s)", cable, len(names))
	return nil
}

// Withdraw removes the line table and the levels of the lines.
func Withdraw(ctx context.Context, client *redis.Client, cable string, names []string) error {
	keys := []string{LinesKey(cable)}
	for _, name := range names {
		keys = append(keys, LevelKey(cable, name))
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("withdraw cable %q: %w", cable, err)
	}
	glog.Infof("cable %q withdrawn", cable)
	return nil
}

// Announcer keeps a cable announced while running.
type Announcer struct {
	Client *redis.Client
	Cable  string
	Names  []string
}

// Run implements framework.Runnable.
func (a *Announcer) Run(ctx context.Context) error {
	if err := a.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if err := Announce(ctx, a.Client, a.Cable, a.Names); err != nil {
		return err
	}
	<-ctx.Done()
	return Withdraw(context.Background(), a.Client, a.Cable, a.Names)
}

// Watcher delivers every published level of a cable to Handler. Levels
// of a symbol are delivered one by one.
type Watcher struct {
	Client  *redis.Client
	Cable   string
	Handler func(*msgs.LineLevel)
}

// Run implements framework.Runnable.
func (w *Watcher) Run(ctx context.Context) error {
	channels := []string{LevelsChannel(w.Cable), SymbolsChannel(w.Cable)}
	pubsub := w.Client.Subscribe(ctx, channels...)
	defer pubsub.Close()
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			return fmt.Errorf("subscribe levels: %w", err)
		}
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if m.Channel == SymbolsChannel(w.Cable) {
				batch, err := msgs.DecodeLineLevels([]byte(m.Payload))
				if err != nil {
					glog.Warningf("invalid symbol on %q: %v", m.Channel, err)
					continue
				}
				for _, msg := range batch.Levels {
					w.Handler(msg)
				}
				continue
			}
			msg, err := msgs.DecodeLineLevel([]byte(m.Payload))
			if err != nil {
				glog.Warningf("invalid level on %q: %v", m.Channel, err)
				continue
			}
			w.Handler(msg)
		}
	}
}
