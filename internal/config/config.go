// Package config holds system-wide settings with precedence
// file > environment > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Sync      *SyncConfig      `json:"sync"`
	Journal   *JournalConfig   `json:"journal"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	WriteTimeout time.Duration `json:"write_timeout"`
	SendBuffer   int           `json:"send_buffer"`
}

// SyncConfig tunes the broadcast bus and session lifecycle.
type SyncConfig struct {
	// SendTimeout bounds how long a publish waits on one subscriber.
	SendTimeout time.Duration `json:"send_timeout"`
	// SubscriberBuffer is the per-subscriber event queue depth.
	SubscriberBuffer int `json:"subscriber_buffer"`
	// EndGracePeriod keeps an ended session resolvable before removal.
	EndGracePeriod time.Duration `json:"end_grace_period"`
}

// JournalConfig controls the optional SQLite session journal. An empty
// path disables journaling.
type JournalConfig struct {
	Path string `json:"path"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
	// Dir enables rotating file output when non-empty.
	Dir string `json:"dir"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   100,
		},
		Sync: &SyncConfig{
			SendTimeout:      50 * time.Millisecond,
			SubscriberBuffer: 64,
			EndGracePeriod:   5 * time.Second,
		},
		Journal: &JournalConfig{Path: ""},
		Log:     &LogConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}

	if c.Sync == nil {
		return fmt.Errorf("sync configuration is required")
	}
	if c.Sync.SendTimeout <= 0 {
		return fmt.Errorf("sync send timeout must be positive")
	}
	if c.Sync.SubscriberBuffer < 1 {
		return fmt.Errorf("sync subscriber buffer must be at least 1")
	}
	if c.Sync.EndGracePeriod < 0 {
		return fmt.Errorf("sync end grace period cannot be negative")
	}

	if c.Journal == nil {
		return fmt.Errorf("journal configuration is required")
	}
	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}

	return nil
}

// LoadFromEnv returns the defaults overridden by LIVESYNC_* environment
// variables. Unparseable values fall back silently.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("LIVESYNC_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("LIVESYNC_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	envDuration("LIVESYNC_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	envDuration("LIVESYNC_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)

	envDuration("LIVESYNC_WS_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	envDuration("LIVESYNC_WS_WRITE_TIMEOUT", &cfg.WebSocket.WriteTimeout)
	if buf := os.Getenv("LIVESYNC_WS_SEND_BUFFER"); buf != "" {
		if n, err := strconv.Atoi(buf); err == nil {
			cfg.WebSocket.SendBuffer = n
		}
	}

	envDuration("LIVESYNC_SYNC_SEND_TIMEOUT", &cfg.Sync.SendTimeout)
	envDuration("LIVESYNC_SYNC_END_GRACE_PERIOD", &cfg.Sync.EndGracePeriod)
	if buf := os.Getenv("LIVESYNC_SYNC_SUBSCRIBER_BUFFER"); buf != "" {
		if n, err := strconv.Atoi(buf); err == nil {
			cfg.Sync.SubscriberBuffer = n
		}
	}

	if path := os.Getenv("LIVESYNC_JOURNAL_PATH"); path != "" {
		cfg.Journal.Path = path
	}
	if level := os.Getenv("LIVESYNC_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if dir := os.Getenv("LIVESYNC_LOG_DIR"); dir != "" {
		cfg.Log.Dir = dir
	}

	return cfg
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		WriteTimeout string `json:"write_timeout"`
		SendBuffer   int    `json:"send_buffer"`
	} `json:"websocket"`
	Sync *struct {
		SendTimeout      string `json:"send_timeout"`
		SubscriberBuffer int    `json:"subscriber_buffer"`
		EndGracePeriod   string `json:"end_grace_period"`
	} `json:"sync"`
	Journal *JournalConfig `json:"journal"`
	Log     *LogConfig     `json:"log"`
}

// LoadFromFile reads a JSON configuration file over the defaults and
// validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		fileDuration(file.HTTP.ReadTimeout, &cfg.HTTP.ReadTimeout)
		fileDuration(file.HTTP.WriteTimeout, &cfg.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		fileDuration(file.WebSocket.PingInterval, &cfg.WebSocket.PingInterval)
		fileDuration(file.WebSocket.WriteTimeout, &cfg.WebSocket.WriteTimeout)
		if file.WebSocket.SendBuffer > 0 {
			cfg.WebSocket.SendBuffer = file.WebSocket.SendBuffer
		}
	}
	if file.Sync != nil {
		fileDuration(file.Sync.SendTimeout, &cfg.Sync.SendTimeout)
		fileDuration(file.Sync.EndGracePeriod, &cfg.Sync.EndGracePeriod)
		if file.Sync.SubscriberBuffer > 0 {
			cfg.Sync.SubscriberBuffer = file.Sync.SubscriberBuffer
		}
	}
	if file.Journal != nil {
		cfg.Journal = file.Journal
	}
	if file.Log != nil {
		if file.Log.Level != "" {
			cfg.Log.Level = file.Log.Level
		}
		cfg.Log.Dir = file.Log.Dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func fileDuration(v string, dst *time.Duration) {
	if v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Load returns the effective configuration: environment overrides on
// top of defaults, replaced wholesale by the file when one is given and
// parses cleanly.
func Load(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}
