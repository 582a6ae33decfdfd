package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"
)

// Server is one address of a network
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	IPv6     bool   `yaml:"ipv6"`
	Insecure bool   `yaml:"insecure"`
}

// Channel is a channel joined after registration
type Channel struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// Network describes one IRC network. Identity fields left empty inherit
// the top-level values.
type Network struct {
	Name     string    `yaml:"name"`
	Nick     string    `yaml:"nick"`
	AltNicks []string  `yaml:"alt_nicks"`
	Ident    string    `yaml:"ident"`
	RealName string    `yaml:"real_name"`
	Password string    `yaml:"password"`
	NickPass string    `yaml:"nick_pass"`
	Servers  []Server  `yaml:"servers"`
	Channels []Channel `yaml:"channels"`
}

// Tunables are the connection timing and flood settings
type Tunables struct {
	PongTimeout        time.Duration `yaml:"pong_timeout"`
	PongDisconnectTime time.Duration `yaml:"pong_disconnect_time"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	ReclaimNickTime    time.Duration `yaml:"reclaim_nick_time"`
	RejoinChannelTime  time.Duration `yaml:"rejoin_channel_time"`
	ReconnectTime      time.Duration `yaml:"reconnect_time"`
	ReclaimNickIfLost  *bool         `yaml:"reclaim_nick_if_lost"`
	RateLimitBurstMax  int           `yaml:"rate_limit_burst_max"`
	RateLimitWaitTime  time.Duration `yaml:"rate_limit_wait_time"`
	JoinTimeout        time.Duration `yaml:"join_timeout"`
	DisconnectTimeout  time.Duration `yaml:"disconnect_timeout"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
}

// Reclaim reports whether a lost nick should be taken back.
func (t Tunables) Reclaim() bool {
	return t.ReclaimNickIfLost == nil || *t.ReclaimNickIfLost
}

// Config holds all bot configuration
type Config struct {
	Nick          string    `yaml:"nick"`
	AltNicks      []string  `yaml:"alt_nicks"`
	Ident         string    `yaml:"ident"`
	RealName      string    `yaml:"real_name"`
	CommandPrefix string    `yaml:"command_prefix"`
	Masters       []string  `yaml:"masters"`
	LogLevel      string    `yaml:"log_level"`
	DataDir       string    `yaml:"data_dir"`
	Datastore     string    `yaml:"datastore"`
	ACLDB         string    `yaml:"acl_db"`
	Plugins       []string  `yaml:"plugins"`
	Networks      []Network `yaml:"networks"`
	IRC           Tunables  `yaml:"irc"`
}

// ErrNoNetworks is returned when the configuration names no network.
var ErrNoNetworks = errors.New("no networks configured")

// DefaultTunables returns the stock timings.
func DefaultTunables() Tunables {
	reclaim := true
	return Tunables{
		PongTimeout:        60 * time.Second,
		PongDisconnectTime: 180 * time.Second,
		KeepaliveInterval:  10 * time.Second,
		ReclaimNickTime:    30 * time.Second,
		RejoinChannelTime:  30 * time.Second,
		ReconnectTime:      30 * time.Second,
		ReclaimNickIfLost:  &reclaim,
		RateLimitBurstMax:  4,
		RateLimitWaitTime:  2 * time.Second,
		JoinTimeout:        60 * time.Second,
		DisconnectTimeout:  10 * time.Second,
		DialTimeout:        30 * time.Second,
	}
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Datastore == "" {
		c.Datastore = "sqlite://" + filepath.Join(c.DataDir, "store.db")
	}
	if c.ACLDB == "" {
		c.ACLDB = filepath.Join(c.DataDir, "acl.db")
	}
	if c.Plugins == nil {
		c.Plugins = []string{"core", "acl"}
	}
	if c.Ident == "" {
		c.Ident = strings.ToLower(c.Nick)
	}
	if c.RealName == "" {
		c.RealName = c.Nick
	}

	c.IRC.fill(DefaultTunables())

	for i := range c.Networks {
		n := &c.Networks[i]
		if n.Nick == "" {
			n.Nick = c.Nick
		}
		if n.AltNicks == nil {
			n.AltNicks = c.AltNicks
		}
		if n.Ident == "" {
			n.Ident = c.Ident
		}
		if n.RealName == "" {
			n.RealName = c.RealName
		}
		for j := range n.Servers {
			s := &n.Servers[j]
			if s.Port == 0 {
				s.Port = 6667
				if s.TLS {
					s.Port = 6697
				}
			}
		}
		if n.Name == "" && len(n.Servers) > 0 {
			n.Name = NetworkName(n.Servers[0].Host)
		}
	}
}

func (t *Tunables) fill(d Tunables) {
	setDuration := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setDuration(&t.PongTimeout, d.PongTimeout)
	setDuration(&t.PongDisconnectTime, d.PongDisconnectTime)
	setDuration(&t.KeepaliveInterval, d.KeepaliveInterval)
	setDuration(&t.ReclaimNickTime, d.ReclaimNickTime)
	setDuration(&t.RejoinChannelTime, d.RejoinChannelTime)
	setDuration(&t.ReconnectTime, d.ReconnectTime)
	setDuration(&t.JoinTimeout, d.JoinTimeout)
	setDuration(&t.DisconnectTimeout, d.DisconnectTimeout)
	setDuration(&t.DialTimeout, d.DialTimeout)
	setDuration(&t.RateLimitWaitTime, d.RateLimitWaitTime)
	if t.RateLimitBurstMax == 0 {
		t.RateLimitBurstMax = d.RateLimitBurstMax
	}
	if t.ReclaimNickIfLost == nil {
		t.ReclaimNickIfLost = d.ReclaimNickIfLost
	}
}

// Validate checks that every network can be connected to.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return ErrNoNetworks
	}
	seen := make(map[string]bool)
	for _, n := range c.Networks {
		if n.Nick == "" {
			return fmt.Errorf("network %q has no nick", n.Name)
		}
		if len(n.Servers) == 0 {
			return fmt.Errorf("network %q has no servers", n.Name)
		}
		for _, s := range n.Servers {
			if s.Host == "" {
				return fmt.Errorf("network %q has a server without host", n.Name)
			}
		}
		if seen[n.Name] {
			return fmt.Errorf("network %q configured twice", n.Name)
		}
		seen[n.Name] = true
	}
	return nil
}

// NetworkName derives a short name from a server host, irc.libera.chat
// becoming libera.chat.
func NetworkName(host string) string {
	name, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return name
}
