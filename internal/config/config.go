// Package config loads the server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/hillnet/internal/logging"
	"github.com/luciancaetano/hillnet/internal/profile"
)

const DefaultPort = 42480

type Config struct {
	// Port 0 binds a free port.
	Port    int    `yaml:"port"`
	HostKey string `yaml:"host_key"`
	// Local servers skip token verification and admit guests.
	Local bool   `yaml:"local"`
	Map   string `yaml:"map"`
	MOTD  string `yaml:"motd"`

	ClientsOnly      bool   `yaml:"clients_only"`
	ClientVersion    string `yaml:"client_version"`
	DisableBricks    bool   `yaml:"disable_bricks"`
	AssignRandomTeam bool   `yaml:"assign_random_team"`
	PlayerSpawning   bool   `yaml:"player_spawning"`
	MaxPlayers       int    `yaml:"max_players"`

	AuthTimeout       time.Duration `yaml:"auth_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	PositionThrottle  time.Duration `yaml:"position_throttle"`
	TouchScanInterval time.Duration `yaml:"touch_scan_interval"`

	RateLimit RateLimit      `yaml:"rate_limit"`
	WebSocket WebSocket      `yaml:"websocket"`
	Profile   profile.Config `yaml:"profile"`
	Log       logging.Config `yaml:"log"`
}

type RateLimit struct {
	Enabled           bool    `yaml:"enabled"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

type WebSocket struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
	// Metrics serves the counters as JSON at /metrics on the same listener.
	Metrics bool `yaml:"metrics"`
}

// Default is a local server on the standard port.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		Local:             true,
		PlayerSpawning:    true,
		AuthTimeout:       5 * time.Second,
		IdleTimeout:       30 * time.Second,
		PositionThrottle:  50 * time.Millisecond,
		TouchScanInterval: 100 * time.Millisecond,
		RateLimit: RateLimit{
			Enabled:           true,
			MessagesPerSecond: 100,
			Burst:             200,
		},
		WebSocket: WebSocket{
			Addr: ":8080",
			Path: "/ws",
		},
		Profile: profile.Config{
			Timeout: profile.DefaultTimeout,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"auth_timeout":        c.AuthTimeout,
		"idle_timeout":        c.IdleTimeout,
		"position_throttle":   c.PositionThrottle,
		"touch_scan_interval": c.TouchScanInterval,
		"profile.timeout":     c.Profile.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.MaxPlayers < 0 {
		errs = append(errs, errors.New("max_players must not be negative"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit needs a positive rate and burst"))
	}
	if !c.Local {
		if c.HostKey == "" {
			errs = append(errs, errors.New("host_key is required unless local"))
		}
		if c.Profile.BaseURL == "" {
			errs = append(errs, errors.New("profile.base_url is required unless local"))
		}
	}
	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, fmt.Errorf("websocket.path %q must start with /", c.WebSocket.Path))
	}
	return errors.Join(errs...)
}

// Addr is the TCP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
