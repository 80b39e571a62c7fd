package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/robotalks/pulselink/pkg/link"
)

// Profile is the YAML or TOML form of a link configuration. Omitted
// fields keep their current values.
type Profile struct {
	Backend string   `yaml:"backend" toml:"backend"`
	Pins    []string `yaml:"pins" toml:"pins"`
	MQTT    string   `yaml:"mqtt" toml:"mqtt"`
	Redis   string   `yaml:"redis" toml:"redis"`
	Cable   string   `yaml:"cable" toml:"cable"`
	ID      string   `yaml:"id" toml:"id"`
	Variant string   `yaml:"variant" toml:"variant"`
	Timings struct {
		PulseDwell     time.Duration `yaml:"pulse_dwell" toml:"pulse_dwell"`
		AckPoll        time.Duration `yaml:"ack_poll" toml:"ack_poll"`
		ReceiverPoll   time.Duration `yaml:"recv_poll" toml:"recv_poll"`
		AckTimeout     time.Duration `yaml:"ack_timeout" toml:"ack_timeout"`
		DiscoverWindow time.Duration `yaml:"discover_window" toml:"discover_window"`
	} `yaml:"timings" toml:"timings"`
	// StrictPulse is only applied when present.
	StrictPulse *bool `yaml:"strict_pulse" toml:"strict_pulse"`
}

// LoadProfile reads a profile into c. Files ending in .toml are parsed
// as TOML, everything else as YAML.
func LoadProfile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read link profile: %w", err)
	}
	parse := ParseProfile
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseTOMLProfile
	}
	if err := parse(data, c); err != nil {
		return fmt.Errorf("link profile %s: %w", path, err)
	}
	return nil
}

// ParseTOMLProfile applies TOML profile data to c.
func ParseTOMLProfile(data []byte, c *Config) error {
	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return err
	}
	return p.Apply(c)
}

// ParseProfile applies YAML profile data to c.
func ParseProfile(data []byte, c *Config) error {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return err
	}
	return p.Apply(c)
}

// Apply copies the set fields of the profile to c.
func (p *Profile) Apply(c *Config) error {
	if p.Backend != "" {
		c.Backend = p.Backend
	}
	if len(p.Pins) > 0 {
		c.Pins = p.Pins
	}
	if p.MQTT != "" {
		c.MQTTBrokerURL = p.MQTT
	}
	if p.Redis != "" {
		c.RedisAddr = p.Redis
	}
	if p.Cable != "" {
		c.Cable = p.Cable
	}
	if p.ID != "" {
		c.ID = p.ID
	}
	if p.Variant != "" {
		v, err := link.ParseVariant(p.Variant)
		if err != nil {
			return err
		}
		c.Variant = v
	}
	if p.StrictPulse != nil {
		c.StrictPulse = *p.StrictPulse
	}
	setDuration(&c.PulseDwell, p.Timings.PulseDwell)
	setDuration(&c.AckPoll, p.Timings.AckPoll)
	setDuration(&c.ReceiverPoll, p.Timings.ReceiverPoll)
	setDuration(&c.AckTimeout, p.Timings.AckTimeout)
	setDuration(&c.DiscoverWindow, p.Timings.DiscoverWindow)
	return nil
}

func setDuration(dst *time.Duration, val time.Duration) {
	if val != 0 {
		*dst = val
	}
}
