package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/pulselink/pkg/link"
	"github.com/robotalks/pulselink/pkg/msgs"
)

var testNames = []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "ack"}

func setupTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func discover(t *testing.T, client *redis.Client, source string) []link.Line {
	cable, err := NewCable(client, "c", source)
	require.NoError(t, err)
	t.Cleanup(func() { cable.Close() })
	lines, err := cable.Discover(context.Background())
	require.NoError(t, err)
	return lines
}

func TestNewCableRequiresName(t *testing.T) {
	_, err := NewCable(nil, "", "tx")
	assert.Error(t, err)
}

func TestAnnounceAndDiscover(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	require.NoError(t, Announce(ctx, client, "c", testNames))

	assert.Equal(t, "9", mr.HGet(LinesKey("c"), "ack"))
	level, err := mr.Get(LevelKey("c", "d1"))
	require.NoError(t, err)
	assert.Equal(t, "0", level)

	lines := discover(t, client, "rx")
	require.Len(t, lines, link.TotalLines)
	for n, line := range lines {
		assert.Equal(t, testNames[n], line.Name())
		assert.Equal(t, n+1, line.(*Line).Channel())
	}

	set, err := link.NewLineSet(lines)
	require.NoError(t, err)
	require.NoError(t, set.Bind(link.RoleReceiver))
}

func TestDiscoverOrdersByChannel(t *testing.T) {
	client, mr := setupTestClient(t)
	mr.HSet(LinesKey("c"), "z", "1")
	mr.HSet(LinesKey("c"), "b", "2")
	mr.HSet(LinesKey("c"), "a", "2")

	lines := discover(t, client, "rx")
	require.Len(t, lines, 3)
	assert.Equal(t, "z", lines[0].Name())
	assert.Equal(t, "a", lines[1].Name())
	assert.Equal(t, "b", lines[2].Name())
}

func TestDiscoverEmptyCable(t *testing.T) {
	client, _ := setupTestClient(t)
	cable, err := NewCable(client, "c", "rx")
	require.NoError(t, err)
	_, err = link.Discover(cable)
	var insufficient *link.InsufficientLinesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Found)
}

func TestDiscoverInvalidChannel(t *testing.T) {
	client, mr := setupTestClient(t)
	mr.HSet(LinesKey("c"), "d1", "one")
	cable, err := NewCable(client, "c", "rx")
	require.NoError(t, err)
	_, err = cable.Discover(context.Background())
	assert.Error(t, err)
}

func TestDiscoverReadsStoredLevels(t *testing.T) {
	client, mr := setupTestClient(t)
	require.NoError(t, Announce(context.Background(), client, "c", testNames))
	require.NoError(t, mr.Set(LevelKey("c", "ack"), "1"))

	lines := discover(t, client, "tx")
	level, err := lines[8].Read()
	require.NoError(t, err)
	assert.Equal(t, link.High, level)
	level, err = lines[0].Read()
	require.NoError(t, err)
	assert.Equal(t, link.Low, level)
}

func TestLevelPropagates(t *testing.T) {
	client, mr := setupTestClient(t)
	require.NoError(t, Announce(context.Background(), client, "c", testNames))
	tx := discover(t, client, "tx")
	rx := discover(t, client, "rx")

	require.NoError(t, tx[2].Out(link.High))
	assert.Eventually(t, func() bool {
		level, _ := rx[2].Read()
		return level == link.High
	}, time.Second, 5*time.Millisecond)

	stored, err := mr.Get(LevelKey("c", "d3"))
	require.NoError(t, err)
	assert.Equal(t, "1", stored)

	require.NoError(t, rx[8].Out(link.High))
	assert.Eventually(t, func() bool {
		level, _ := tx[8].Read()
		return level == link.High
	}, time.Second, 5*time.Millisecond)
}

func TestLineHandleLevel(t *testing.T) {
	cable := &Cable{Name: "c", Source: "rx"}
	line := &Line{cable: cable, name: "ack", channel: 9}
	read := func() link.Level {
		level, err := line.Read()
		require.NoError(t, err)
		return level
	}

	line.handleLevel(&msgs.LineLevel{Channel: 9, High: true, Source: "tx", Stamp: 10})
	assert.Equal(t, link.High, read())

	line.handleLevel(&msgs.LineLevel{Channel: 9, Source: "tx", Stamp: 5})
	assert.Equal(t, link.High, read(), "stale level ignored")

	line.handleLevel(&msgs.LineLevel{Channel: 9, Source: "rx", Stamp: 20})
	assert.Equal(t, link.High, read(), "own echo ignored")

	line.handleLevel(&msgs.LineLevel{Channel: 9, Source: "tx", Stamp: 30})
	assert.Equal(t, link.Low, read())
}

func TestWithdraw(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	require.NoError(t, Announce(ctx, client, "c", testNames))
	require.NoError(t, Withdraw(ctx, client, "c", testNames))
	assert.False(t, mr.Exists(LinesKey("c")))
	assert.False(t, mr.Exists(LevelKey("c", "ack")))
}

func TestAnnouncerRun(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&Announcer{Client: client, Cable: "c", Names: testNames}).Run(ctx)
	}()
	assert.Eventually(t, func() bool { return mr.Exists(LinesKey("c")) }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, mr.Exists(LinesKey("c")))
}

func TestWatcher(t *testing.T) {
	client, _ := setupTestClient(t)
	require.NoError(t, Announce(context.Background(), client, "c", testNames))
	tx := discover(t, client, "tx")

	got := make(chan *msgs.LineLevel, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&Watcher{Client: client, Cable: "c", Handler: func(m *msgs.LineLevel) { got <- m }}).Run(ctx)
	}()

	// the subscription may not be active yet, keep driving until seen
	var msg *msgs.LineLevel
	require.Eventually(t, func() bool {
		assert.NoError(t, tx[0].Out(link.High))
		select {
		case msg = <-got:
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint32(1), msg.Channel)
	assert.True(t, msg.High)
	assert.Equal(t, "tx", msg.Source)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
