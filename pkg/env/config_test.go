package env

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redislines "github.com/robotalks/pulselink/pkg/lines/redis"
	"github.com/robotalks/pulselink/pkg/link"
)

type configTestEnv struct {
	t    *testing.T
	conf Config
	vars map[string]string
}

func newConfigTestEnv(t *testing.T) *configTestEnv {
	return &configTestEnv{t: t, conf: builtinConfig(), vars: make(map[string]string)}
}

func (e *configTestEnv) setenv(key, val string) *configTestEnv {
	e.vars[key] = val
	return e
}

func (e *configTestEnv) profile(data string) *configTestEnv {
	require.NoError(e.t, ParseProfile([]byte(data), &e.conf))
	return e
}

func (e *configTestEnv) resolve() *Config {
	applyEnv(&e.conf, func(key string) string { return e.vars[key] })
	return &e.conf
}

func TestBuiltinDefaults(t *testing.T) {
	c := builtinConfig()
	assert.Equal(t, BackendGPIO, c.Backend)
	assert.Equal(t, link.DoubleAck, c.Variant)
	assert.Equal(t, 100*time.Millisecond, c.PulseDwell)
	assert.Equal(t, 10*time.Millisecond, c.AckPoll)
	assert.Equal(t, 50*time.Millisecond, c.ReceiverPoll)
	assert.Zero(t, c.AckTimeout)
	c.ID = "x"
	assert.NoError(t, c.Validate())
}

func TestProfileThenEnv(t *testing.T) {
	c := newConfigTestEnv(t).
		profile(`
backend: mqtt
cable: bench
variant: single
pins: [GPIO4, GPIO17]
timings:
  pulse_dwell: 200ms
  recv_poll: 80ms
  ack_timeout: 5s
`).
		setenv("PULSELINK_CABLE", "lab").
		setenv("PULSELINK_PINS", "GPIO5, GPIO6,,GPIO13").
		resolve()
	assert.Equal(t, BackendMQTT, c.Backend)
	assert.Equal(t, "lab", c.Cable)
	assert.Equal(t, link.SingleAck, c.Variant)
	assert.Equal(t, []string{"GPIO5", "GPIO6", "GPIO13"}, c.Pins)
	assert.Equal(t, 200*time.Millisecond, c.PulseDwell)
	assert.Equal(t, 10*time.Millisecond, c.AckPoll)
	assert.Equal(t, 80*time.Millisecond, c.ReceiverPoll)
	assert.Equal(t, 5*time.Second, c.AckTimeout)
	assert.NoError(t, c.Validate())
}

func TestLoadTOMLProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "redis"
redis = "10.0.0.2:6379"
cable = "bench"
variant = "a"

[timings]
pulse_dwell = "150ms"
ack_poll = "5ms"
`), 0644))
	c := builtinConfig()
	require.NoError(t, LoadProfile(path, &c))
	assert.Equal(t, BackendRedis, c.Backend)
	assert.Equal(t, "10.0.0.2:6379", c.RedisAddr)
	assert.Equal(t, "bench", c.Cable)
	assert.Equal(t, link.SingleAck, c.Variant)
	assert.Equal(t, 150*time.Millisecond, c.PulseDwell)
	assert.Equal(t, 5*time.Millisecond, c.AckPoll)
	assert.Equal(t, link.DefaultReceiverPoll, c.ReceiverPoll)
}

func TestLoadProfileErrors(t *testing.T) {
	dir := t.TempDir()
	c := builtinConfig()
	assert.Error(t, LoadProfile(filepath.Join(dir, "missing.yaml"), &c))

	path := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("backend = \n"), 0644))
	assert.Error(t, LoadProfile(path, &c))
}

func TestRedisAddrFromEnv(t *testing.T) {
	c := newConfigTestEnv(t).setenv("PULSELINK_REDIS_ADDR", "cache:6380").resolve()
	assert.Equal(t, "cache:6380", c.RedisAddr)
}

func TestInvalidEnvVariant(t *testing.T) {
	c := newConfigTestEnv(t).setenv("PULSELINK_VARIANT", "triple").resolve()
	assert.Equal(t, link.DoubleAck, c.Variant)
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PULSELINK_VARIANT")

	src := builtinConfig()
	src.Variant = link.SingleAck
	copyFlag(c, &src, "variant")
	assert.Equal(t, link.SingleAck, c.Variant)
	assert.NoError(t, c.Validate(), "flag overrides the variable")
}

func TestStrictPulse(t *testing.T) {
	c := newConfigTestEnv(t).setenv("PULSELINK_STRICT_PULSE", "true").resolve()
	assert.True(t, c.StrictPulse)
	assert.True(t, c.Pulser().RequireLow)

	c = newConfigTestEnv(t).profile("strict_pulse: true\n").resolve()
	assert.True(t, c.StrictPulse)
	require.NoError(t, ParseProfile([]byte("cable: x\n"), c))
	assert.True(t, c.StrictPulse, "omitted in profile")
	require.NoError(t, ParseProfile([]byte("strict_pulse: false\n"), c))
	assert.False(t, c.StrictPulse)

	c = newConfigTestEnv(t).setenv("PULSELINK_STRICT_PULSE", "sometimes").resolve()
	assert.False(t, c.StrictPulse)
	assert.Error(t, c.Validate())
}

func TestProfileInvalidVariant(t *testing.T) {
	c := builtinConfig()
	assert.Error(t, ParseProfile([]byte("variant: triple\n"), &c))
	assert.Error(t, ParseProfile([]byte("backend: [\n"), &c))
}

func TestCopyFlag(t *testing.T) {
	src := builtinConfig()
	src.Backend = BackendSim
	src.AckTimeout = time.Second
	dst := builtinConfig()
	copyFlag(&dst, &src, "backend")
	assert.Equal(t, BackendSim, dst.Backend)
	assert.Zero(t, dst.AckTimeout)
	copyFlag(&dst, &src, "ack-timeout")
	assert.Equal(t, time.Second, dst.AckTimeout)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "serial" }},
		{"no variant", func(c *Config) { c.Variant = 0 }},
		{"slow receiver poll", func(c *Config) { c.ReceiverPoll = c.PulseDwell }},
		{"slow ack poll", func(c *Config) { c.AckPoll = 2 * c.PulseDwell }},
		{"negative timeout", func(c *Config) { c.AckTimeout = -time.Second }},
		{"mqtt without cable", func(c *Config) { c.Backend, c.Cable = BackendMQTT, "" }},
		{"redis without cable", func(c *Config) { c.Backend, c.Cable = BackendRedis, "" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := builtinConfig()
			tc.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSimEndpoints(t *testing.T) {
	c := builtinConfig()
	c.Backend = BackendSim
	c.ID = "test"
	tx, err := c.NewEndpoint(link.RoleSender)
	require.NoError(t, err)
	defer tx.Close()
	rx, err := c.NewEndpoint(link.RoleReceiver)
	require.NoError(t, err)
	defer rx.Close()

	_, err = tx.NewSender()
	require.NoError(t, err)
	r, err := rx.NewReceiver()
	require.NoError(t, err)
	assert.Equal(t, c.ReceiverPoll, r.Interval)

	require.NoError(t, tx.Lines.WriteSymbol(link.Encode('Z')))
	bits, err := rx.Lines.ReadSymbol()
	require.NoError(t, err)
	assert.Equal(t, byte('Z'), link.Decode(bits))
	require.NoError(t, tx.Lines.Clear())
	assert.Equal(t, "test/sender", c.Source(link.RoleSender))
}

func TestRedisEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	c := builtinConfig()
	c.Backend = BackendRedis
	c.RedisAddr = mr.Addr()
	c.ID = "test"

	_, err := c.NewEndpoint(link.RoleReceiver)
	var insufficient *link.InsufficientLinesError
	require.ErrorAs(t, err, &insufficient, "nothing announced yet")

	client := c.RedisClient()
	defer client.Close()
	names := []string{"l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8", "l9"}
	require.NoError(t, redislines.Announce(context.Background(), client, c.Cable, names))

	rx, err := c.NewEndpoint(link.RoleReceiver)
	require.NoError(t, err)
	defer rx.Close()
	assert.Equal(t, link.RoleReceiver, rx.Lines.Role())
	ack, err := rx.Lines.Line(link.AckIndex)
	require.NoError(t, err)
	assert.Equal(t, "l9", ack.Name())
}

func TestRedisEndpointUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := builtinConfig()
	c.Backend = BackendRedis
	c.RedisAddr = mr.Addr()
	c.ID = "test"
	c.DiscoverWindow = 200 * time.Millisecond
	mr.Close()
	_, err := c.NewEndpoint(link.RoleSender)
	assert.Error(t, err)
}
