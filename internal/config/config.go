// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/impostor-lol/internal/engine"
)

var ErrInvalid = errors.New("invalid config")

const (
	TransportMQTT  = "mqtt"
	TransportRelay = "relay"
)

// Client configures cmd/impostor.
type Client struct {
	Transport      string        `env:"IMPOSTOR_TRANSPORT" envDefault:"mqtt"`
	BrokerURL      string        `env:"IMPOSTOR_BROKER_URL" envDefault:"wss://broker.emqx.io:8084/mqtt"`
	RelayURL       string        `env:"IMPOSTOR_RELAY_URL" envDefault:"ws://localhost:8080/ws"`
	Topic          string        `env:"IMPOSTOR_TOPIC" envDefault:"impostor-lol/global-lobby"`
	ConnectTimeout time.Duration `env:"IMPOSTOR_CONNECT_TIMEOUT" envDefault:"30s"`
	ReconnectEvery time.Duration `env:"IMPOSTOR_RECONNECT_EVERY" envDefault:"1s"`
	SettleDelay    time.Duration `env:"IMPOSTOR_SETTLE_DELAY" envDefault:"500ms"`
	Tick           time.Duration `env:"IMPOSTOR_TICK" envDefault:"1s"`
	DiscussionTime int           `env:"IMPOSTOR_DISCUSSION_SECONDS" envDefault:"120"`
	VotingTime     int           `env:"IMPOSTOR_VOTING_SECONDS" envDefault:"30"`
	LogLevel       string        `env:"IMPOSTOR_LOG_LEVEL" envDefault:"warn"`
	LogDev         bool          `env:"IMPOSTOR_LOG_DEV" envDefault:"true"`
}

// Relay configures cmd/relay.
type Relay struct {
	Addr            string        `env:"RELAY_ADDR" envDefault:":8080"`
	DatabaseDSN     string        `env:"RELAY_DATABASE_DSN"`
	TopicPrefix     string        `env:"RELAY_TOPIC_PREFIX" envDefault:"impostor-lol"`
	Outbox          int           `env:"RELAY_OUTBOX" envDefault:"64"`
	PingInterval    time.Duration `env:"RELAY_PING_INTERVAL" envDefault:"20s"`
	OriginPatterns  []string      `env:"RELAY_ORIGIN_PATTERNS" envSeparator:","`
	ShutdownTimeout time.Duration `env:"RELAY_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	LogLevel        string        `env:"RELAY_LOG_LEVEL" envDefault:"info"`
	LogDev          bool          `env:"RELAY_LOG_DEV" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv copies variables from the given files (default .env) into the
// environment without overriding what is already set. Missing files are fine.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadClient(dotenv ...string) (Client, error) {
	var c Client
	if err := LoadDotEnv(dotenv...); err != nil {
		return c, err
	}
	if err := ParseEnv(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Client) Validate() error {
	switch c.Transport {
	case TransportMQTT:
		if c.BrokerURL == "" {
			return fmt.Errorf("%w: IMPOSTOR_BROKER_URL is empty", ErrInvalid)
		}
	case TransportRelay:
		if c.RelayURL == "" {
			return fmt.Errorf("%w: IMPOSTOR_RELAY_URL is empty", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: IMPOSTOR_TOPIC is empty", ErrInvalid)
	}
	if c.DiscussionTime <= 0 || c.VotingTime <= 0 {
		return fmt.Errorf("%w: phase durations must be positive", ErrInvalid)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("%w: IMPOSTOR_TICK must be positive", ErrInvalid)
	}
	return nil
}

func (c Client) EngineOptions() engine.Options {
	return engine.Options{DiscussionTime: c.DiscussionTime, VotingTime: c.VotingTime}
}

func LoadRelay(dotenv ...string) (Relay, error) {
	var r Relay
	if err := LoadDotEnv(dotenv...); err != nil {
		return r, err
	}
	if err := ParseEnv(&r); err != nil {
		return r, err
	}
	if r.Addr == "" {
		return r, fmt.Errorf("%w: RELAY_ADDR is empty", ErrInvalid)
	}
	if r.Outbox <= 0 {
		return r, fmt.Errorf("%w: RELAY_OUTBOX must be positive", ErrInvalid)
	}
	return r, nil
}
