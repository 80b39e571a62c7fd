package env

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/robotalks/pulselink/pkg/lines/gpio"
	"github.com/robotalks/pulselink/pkg/lines/mqtt"
	redislines "github.com/robotalks/pulselink/pkg/lines/redis"
	"github.com/robotalks/pulselink/pkg/link"
	"github.com/robotalks/pulselink/pkg/sim"
)

var (
	loopbackOnce sync.Once
	loopback     *sim.Bus
)

// LoopbackBus is the process wide bus of the sim backend.
func LoopbackBus() *sim.Bus {
	loopbackOnce.Do(func() {
		loopback = sim.NewBus(link.TotalLines)
	})
	return loopback
}

// Endpoint is a bound line set with its configuration.
type Endpoint struct {
	Config *Config
	Role   link.Role
	Lines  *link.LineSet

	closers []io.Closer
}

// Source is the endpoint identity on shared backends.
func (c *Config) Source(role link.Role) string {
	return c.ID + "/" + role.String()
}

// Discoverer creates the line discoverer of the backend.
func (c *Config) Discoverer(role link.Role) (link.Discoverer, []io.Closer, error) {
	switch c.Backend {
	case BackendGPIO:
		return &gpio.Discoverer{Names: c.Pins}, nil, nil
	case BackendSim:
		return LoopbackBus(), nil, nil
	case BackendMQTT:
		q, err := mqtt.NewQueueFromURL(c.MQTTBrokerURL, "pulselink-"+c.Source(role))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid MQTT URL: %w", err)
		}
		if err := q.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect MQTT: %w", err)
		}
		cable := mqtt.NewCable(q, c.Cable, c.Source(role))
		cable.DiscoverTimeout = c.DiscoverWindow
		return cable, []io.Closer{cable, q}, nil
	case BackendRedis:
		client := c.RedisClient()
		window := c.DiscoverWindow
		if window <= 0 {
			window = mqtt.DefaultDiscoverTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), window)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cable, err := redislines.NewCable(client, c.Cable, c.Source(role))
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return cable, []io.Closer{cable, client}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// RedisClient creates a client for the configured server.
func (c *Config) RedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.RedisAddr})
}

// NewEndpoint discovers the lines and binds them for the role.
func (c *Config) NewEndpoint(role link.Role) (*Endpoint, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	d, closers, err := c.Discoverer(role)
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{Config: c, Role: role, closers: closers}
	if ep.Lines, err = link.Discover(d); err != nil {
		ep.Close()
		return nil, err
	}
	if err = ep.Lines.Bind(role); err != nil {
		ep.Close()
		return nil, err
	}
	return ep, nil
}

// MustNewEndpoint creates an Endpoint and fails on error.
func (c *Config) MustNewEndpoint(role link.Role) *Endpoint {
	ep, err := c.NewEndpoint(role)
	if err != nil {
		log.Fatalln(err)
	}
	return ep
}

// NewSender creates a Sender on a sender endpoint.
func (e *Endpoint) NewSender() (*link.Sender, error) {
	return link.NewSender(e.Lines, e.Config.Pulser(), e.Config.Variant)
}

// NewReceiver creates a Receiver on a receiver endpoint.
func (e *Endpoint) NewReceiver() (*link.Receiver, error) {
	r, err := link.NewReceiver(e.Lines, e.Config.Pulser(), e.Config.Variant)
	if err != nil {
		return nil, err
	}
	r.Interval = e.Config.ReceiverPoll
	return r, nil
}

// Close releases backend resources.
func (e *Endpoint) Close() error {
	for _, c := range e.closers {
		c.Close()
	}
	e.closers = nil
	return nil
}
