package mqtt

import (
	"context"
	"encoding/json"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

func wait(token paho.Token) error {
	token.Wait()
	return token.Error()
}

// Announce publishes retained announcements of the named lines with
// channels in slice order starting from 1, drives every level LOW and
// clears the retained symbol.
func Announce(q *Queue, cable string, names []string) error {
	for n, name := range names {
		meta, err := json.Marshal(&LineMeta{Channel: n + 1, Cable: cable})
		if err != nil {
			return err
		}
		if err := wait(q.Pub(MetaTopic(cable, name), meta)); err != nil {
			return err
		}
		if err := wait(q.Pub(LevelTopic(cable, name), nil)); err != nil {
			return err
		}
	}
	if err := wait(q.Pub(SymbolTopic(cable), nil)); err != nil {
		return err
	}
	glog.Infof("cable %q: announced %d line(s)", cable, len(names))
	return nil
}

// Withdraw clears the retained topics of the lines.
func Withdraw(q *Queue, cable string, names []string) error {
	for _, name := range names {
		if err := wait(q.Pub(MetaTopic(cable, name), nil)); err != nil {
			return err
		}
		if err := wait(q.Pub(LevelTopic(cable, name), nil)); err != nil {
			return err
		}
	}
	if err := wait(q.Pub(SymbolTopic(cable), nil)); err != nil {
		return err
	}
	glog.Infof("cable %q withdrawn", cable)
	return nil
}

// LineNames returns the default names of n lines.
func LineNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = LineName(i + 1)
	}
	return names
}

// Announcer keeps a cable announced while running.
type Announcer struct {
	Queue *Queue
	Cable string
	Names []string
}

// Run implements framework.Runnable.
func (a *Announcer) Run(ctx context.Context) error {
	a.Queue.OnConnect = func(q *Queue) {
		if err := Announce(q, a.Cable, a.Names); err != nil {
			glog.Errorf("announce: %v", err)
		}
	}
	if err := a.Queue.Connect(); err != nil {
		return err
	}
	<-ctx.Done()
	err := Withdraw(a.Queue, a.Cable, a.Names)
	a.Queue.Close()
	return err
}
