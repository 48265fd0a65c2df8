// Package config loads engine tunables from an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/quantum"
	"github.com/mqy/minispace/space"
)

type Config struct {
	Space   SpaceConfig     `yaml:"space"`
	Quantum QuantumConfig   `yaml:"quantum"`
	Ws      protocol.WsConf `yaml:"ws"`
	Node    NodeConfig      `yaml:"node"`
	Media   MediaConfig     `yaml:"media"`
}

type SpaceConfig struct {
	DefaultType     string        `yaml:"default_type"`
	MaxMessages     int           `yaml:"max_messages"`
	HistoryLimit    int           `yaml:"history_limit"`
	SuggestOnChange bool          `yaml:"suggest_on_change"`
	SuggestTimeout  time.Duration `yaml:"suggest_timeout"`
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type QuantumConfig struct {
	MaxEvents int `yaml:"max_events"`
}

type NodeConfig struct {
	// per user websocket session quota of a node, 0 means unlimited.
	SessionQuota int32 `yaml:"session_quota"`
	// kafka events older than this are skipped, 0 keeps all.
	EventMaxAge time.Duration `yaml:"event_max_age"`
}

type MediaConfig struct {
	BaseURL     string `yaml:"base_url"`
	Placeholder string `yaml:"placeholder"`
}

func Default() *Config {
	sc := space.DefaultConfig()
	return &Config{
		Space: SpaceConfig{
			DefaultType:    string(sc.DefaultType),
			MaxMessages:    sc.MaxMessages,
			HistoryLimit:   sc.HistoryLimit,
			SuggestTimeout: sc.SuggestTimeout,
			IdleTTL:        30 * time.Minute,
			SweepInterval:  time.Minute,
		},
		Quantum: QuantumConfig{
			MaxEvents: quantum.DefaultMaxEvents,
		},
		Ws: protocol.WsConf{
			RateLimit:            20,
			RateBurst:            40,
			EventPayloadMaxBytes: 8192,
			MaxContentLen:        chatstore.MaxContentLen,
			RequestTimeout:       5 * time.Second,
		},
		Node: NodeConfig{
			SessionQuota: 5,
			EventMaxAge:  time.Hour,
		},
		Media: MediaConfig{
			Placeholder: "/static/placeholder.png",
		},
	}
}

// Load reads the YAML file at `path` over the defaults. Unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.Ws.MaxContentLen = chatstore.MaxContentLen
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := c.SpaceConfig().Validate(); err != nil {
		return fmt.Errorf("space: %w", err)
	}
	if c.Space.IdleTTL <= 0 {
		return errors.New("space.idle_ttl: must be positive")
	}
	if c.Space.SweepInterval <= 0 {
		return errors.New("space.sweep_interval: must be positive")
	}
	if c.Ws.RateLimit < 0 || c.Ws.RateBurst < 0 {
		return errors.New("ws: rate_limit and rate_burst must not be negative")
	}
	if c.Ws.EventPayloadMaxBytes < 1024 {
		return fmt.Errorf("ws.event_payload_max_bytes: %d less than 1024", c.Ws.EventPayloadMaxBytes)
	}
	if c.Node.SessionQuota < 0 || c.Node.SessionQuota > 10 {
		return fmt.Errorf("node.session_quota: %d not in [0, 10]", c.Node.SessionQuota)
	}
	return nil
}

// SpaceConfig returns the registry config.
func (c *Config) SpaceConfig() *space.Config {
	return &space.Config{
		DefaultType:     morph.Type(c.Space.DefaultType),
		MaxMessages:     c.Space.MaxMessages,
		HistoryLimit:    c.Space.HistoryLimit,
		MaxEvents:       c.Quantum.MaxEvents,
		SuggestOnChange: c.Space.SuggestOnChange,
		SuggestTimeout:  c.Space.SuggestTimeout,
	}
}
