// Package env builds link endpoints from flags, environment variables
// and an optional YAML or TOML profile.
package env

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robotalks/pulselink/pkg/link"
)

// Backends
const (
	BackendGPIO  = "gpio"
	BackendMQTT  = "mqtt"
	BackendRedis = "redis"
	BackendSim   = "sim"
)

// Config provides the options of an endpoint.
type Config struct {
	Backend string
	// Pins are GPIO names in cabling order, empty for registry order.
	Pins []string
	// MQTTBrokerURL e.g. mqtt://host:port/topic-prefix/
	MQTTBrokerURL string
	// RedisAddr is host:port of the Redis server.
	RedisAddr string
	Cable     string
	ID        string

	Variant        link.Variant
	PulseDwell     time.Duration
	AckPoll        time.Duration
	ReceiverPoll   time.Duration
	AckTimeout     time.Duration
	DiscoverWindow time.Duration
	// StrictPulse requires the ack line LOW before a pulse is awaited.
	StrictPulse bool

	// Profile is the path of a YAML or TOML profile.
	Profile string

	envErrs []envError
}

// envError is an unusable environment variable, reported by Validate
// unless the flag overrides it.
type envError struct {
	flag string
	err  error
}

func (c *Config) setEnvError(flagName, key, val string, err error) {
	c.envErrs = append(c.envErrs, envError{flag: flagName, err: fmt.Errorf("%s=%q: %w", key, val, err)})
}

func (c *Config) dropEnvError(flagName string) {
	var errs []envError
	for _, e := range c.envErrs {
		if e.flag != flagName {
			errs = append(errs, e)
		}
	}
	c.envErrs = errs
}

func builtinConfig() Config {
	return Config{
		Backend:        BackendGPIO,
		MQTTBrokerURL:  "mqtt://localhost:1883/pulselink/",
		RedisAddr:      "localhost:6379",
		Cable:          "cable0",
		Variant:        link.DoubleAck,
		PulseDwell:     link.DefaultDwell,
		AckPoll:        link.DefaultAckPoll,
		ReceiverPoll:   link.DefaultReceiverPoll,
		DiscoverWindow: 500 * time.Millisecond,
	}
}

var defaultConfig = builtinConfig()

func init() {
	applyEnv(&defaultConfig, os.Getenv)
	if defaultConfig.ID == "" {
		defaultConfig.ID = MachineID()
	}
}

func applyEnv(c *Config, getenv func(string) string) {
	if val := getenv("PULSELINK_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := getenv("PULSELINK_PINS"); val != "" {
		c.Pins = splitList(val)
	}
	if val := getenv("PULSELINK_MQTT_URL"); val != "" {
		c.MQTTBrokerURL = val
	}
	if val := getenv("PULSELINK_REDIS_ADDR"); val != "" {
		c.RedisAddr = val
	}
	if val := getenv("PULSELINK_CABLE"); val != "" {
		c.Cable = val
	}
	if val := getenv("PULSELINK_ID"); val != "" {
		c.ID = val
	}
	if val := getenv("PULSELINK_VARIANT"); val != "" {
		if v, err := link.ParseVariant(val); err != nil {
			c.setEnvError("variant", "PULSELINK_VARIANT", val, err)
		} else {
			c.Variant = v
		}
	}
	if val := getenv("PULSELINK_STRICT_PULSE"); val != "" {
		if strict, err := strconv.ParseBool(val); err != nil {
			c.setEnvError("strict-pulse", "PULSELINK_STRICT_PULSE", val, err)
		} else {
			c.StrictPulse = strict
		}
	}
	if val := getenv("PULSELINK_PROFILE"); val != "" {
		c.Profile = val
	}
}

func splitList(val string) (items []string) {
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return
}

type pinsFlag struct {
	pins *[]string
}

func (f pinsFlag) String() string {
	if f.pins == nil {
		return ""
	}
	return strings.Join(*f.pins, ",")
}

func (f pinsFlag) Set(val string) error {
	*f.pins = splitList(val)
	return nil
}

// SetupFlags sets command line flags.
func SetupFlags() {
	SetupFlagSet(flag.CommandLine)
}

// SetupFlagSet sets flags on fs.
func SetupFlagSet(fs *flag.FlagSet) {
	fs.StringVar(&defaultConfig.Backend, "backend", defaultConfig.Backend, "Line backend: gpio, mqtt, redis or sim")
	fs.Var(pinsFlag{&defaultConfig.Pins}, "pins", "Comma separated GPIO names in cabling order")
	fs.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	fs.StringVar(&defaultConfig.RedisAddr, "redis", defaultConfig.RedisAddr, "Redis server address")
	fs.StringVar(&defaultConfig.Cable, "cable", defaultConfig.Cable, "Network cable name")
	fs.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Endpoint ID")
	fs.Var(&defaultConfig.Variant, "variant", "Handshake variant: single or double")
	fs.DurationVar(&defaultConfig.PulseDwell, "pulse-dwell", defaultConfig.PulseDwell, "Acknowledgment pulse width")
	fs.DurationVar(&defaultConfig.AckPoll, "ack-poll", defaultConfig.AckPoll, "Sender acknowledgment poll interval")
	fs.DurationVar(&defaultConfig.ReceiverPoll, "recv-poll", defaultConfig.ReceiverPoll, "Receiver poll interval")
	fs.DurationVar(&defaultConfig.AckTimeout, "ack-timeout", defaultConfig.AckTimeout, "Give up waiting for an acknowledgment, 0 waits forever")
	fs.DurationVar(&defaultConfig.DiscoverWindow, "discover-window", defaultConfig.DiscoverWindow, "Network line discovery window")
	fs.BoolVar(&defaultConfig.StrictPulse, "strict-pulse", defaultConfig.StrictPulse, "Require the ack line LOW before awaiting a pulse")
	fs.StringVar(&defaultConfig.Profile, "link-config", defaultConfig.Profile, "YAML or TOML link profile")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config from the defaults. With a profile, values
// are resolved as built-in defaults, then the profile, then environment
// variables, then flags set on the command line.
func NewConfig() *Config {
	conf := defaultConfig
	if conf.Profile == "" {
		flag.Visit(func(f *flag.Flag) {
			conf.dropEnvError(f.Name)
		})
		return &conf
	}
	resolved := builtinConfig()
	if err := LoadProfile(conf.Profile, &resolved); err != nil {
		log.Fatalln(err)
	}
	applyEnv(&resolved, os.Getenv)
	if resolved.ID == "" {
		resolved.ID = conf.ID
	}
	flag.Visit(func(f *flag.Flag) {
		copyFlag(&resolved, &conf, f.Name)
	})
	resolved.Profile = conf.Profile
	return &resolved
}

func copyFlag(dst, src *Config, name string) {
	dst.dropEnvError(name)
	switch name {
	case "backend":
		dst.Backend = src.Backend
	case "pins":
		dst.Pins = src.Pins
	case "mqtt":
		dst.MQTTBrokerURL = src.MQTTBrokerURL
	case "redis":
		dst.RedisAddr = src.RedisAddr
	case "cable":
		dst.Cable = src.Cable
	case "id":
		dst.ID = src.ID
	case "variant":
		dst.Variant = src.Variant
	case "pulse-dwell":
		dst.PulseDwell = src.PulseDwell
	case "ack-poll":
		dst.AckPoll = src.AckPoll
	case "recv-poll":
		dst.ReceiverPoll = src.ReceiverPoll
	case "ack-timeout":
		dst.AckTimeout = src.AckTimeout
	case "discover-window":
		dst.DiscoverWindow = src.DiscoverWindow
	case "strict-pulse":
		dst.StrictPulse = src.StrictPulse
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if len(c.envErrs) > 0 {
		return c.envErrs[0].err
	}
	switch c.Backend {
	case BackendGPIO, BackendMQTT, BackendRedis, BackendSim:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Variant != link.SingleAck && c.Variant != link.DoubleAck {
		return fmt.Errorf("invalid variant %v", c.Variant)
	}
	if c.AckTimeout < 0 {
		return fmt.Errorf("negative ack timeout %v", c.AckTimeout)
	}
	if (c.Backend == BackendMQTT || c.Backend == BackendRedis) && c.Cable == "" {
		return fmt.Errorf("cable name is required for backend %s", c.Backend)
	}
	return link.ValidateTimings(c.PulseDwell, c.AckPoll, c.ReceiverPoll)
}

// Pulser creates a Pulser with the configured timings.
func (c *Config) Pulser() *link.Pulser {
	return &link.Pulser{
		Dwell:        c.PulseDwell,
		PollInterval: c.AckPoll,
		Timeout:      c.AckTimeout,
		RequireLow:   c.StrictPulse,
	}
}
