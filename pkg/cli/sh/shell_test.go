package sh

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/pulselink/pkg/env"
	"github.com/robotalks/pulselink/pkg/link"
)

func TestFormatLevels(t *testing.T) {
	var levels [link.TotalLines]link.Level
	bits := link.Encode('H')
	for i := 1; i <= link.DataLines; i++ {
		levels[i-1] = bits.Level(i)
	}
	levels[link.AckIndex-1] = link.High

	noColor := color.NoColor
	defer func() { color.NoColor = noColor }()
	color.NoColor = true
	assert.Equal(t, "0 1 0 0 1 0 0 0 | ack 1", FormatLevels(levels))

	color.NoColor = false
	colored := FormatLevels(levels)
	assert.Contains(t, colored, "\x1b[")
	assert.True(t, strings.HasPrefix(colored, "0 "))
}

type receivedText struct {
	lock sync.Mutex
	text string
}

func (r *receivedText) onByte(msg *link.ByteReceived) {
	r.lock.Lock()
	r.text = msg.Text
	r.lock.Unlock()
}

func (r *receivedText) get() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.text
}

func TestLoopbackVariantSwitch(t *testing.T) {
	conf := *env.Default()
	conf.Backend = env.BackendSim
	conf.ID = "shell-test"
	conf.Variant = link.SingleAck
	conf.PulseDwell = 10 * time.Millisecond
	conf.AckPoll = time.Millisecond
	conf.ReceiverPoll = 2 * time.Millisecond
	conf.AckTimeout = 2 * time.Second

	var received receivedText
	sess, err := OpenSession(&conf, received.onByte)
	require.NoError(t, err)
	defer sess.Close()
	require.True(t, sess.Loopback())

	ctx := context.Background()
	require.NoError(t, sess.Sender.SendString(ctx, "ab"))
	assert.Eventually(t, func() bool { return received.get() == "ab" }, time.Second, time.Millisecond)

	require.NoError(t, sess.SetVariant(&conf, link.DoubleAck))
	assert.Equal(t, link.DoubleAck, conf.Variant)
	assert.Equal(t, link.DoubleAck, sess.Sender.Variant)
	require.True(t, sess.Loopback())
	bits, err := sess.Endpoint.Lines.ReadSymbol()
	require.NoError(t, err)
	assert.True(t, bits.IsZero(), "data lines cleared on switch")

	require.NoError(t, sess.Sender.SendString(ctx, "cc"))
	assert.Eventually(t, func() bool { return received.get() == "cc" }, time.Second, time.Millisecond)

	require.NoError(t, sess.SetVariant(&conf, link.SingleAck))
	require.NoError(t, sess.Sender.SendString(ctx, "de"))
	assert.Eventually(t, func() bool { return received.get() == "de" }, time.Second, time.Millisecond)
}
