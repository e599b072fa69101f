// ABOUTME: YAML configuration for the relay server
// ABOUTME: Defaults, file loading and per-section validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Auth    AuthConfig    `yaml:"auth"`
	MDNS    MDNSConfig    `yaml:"mdns"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains WebSocket server configuration
type ServerConfig struct {
	Port               int    `yaml:"port"`
	Name               string `yaml:"name"`
	Path               string `yaml:"path"`
	PingInterval       int    `yaml:"ping_interval"` // seconds
	StatusEveryPackets int    `yaml:"status_every_packets"`
	ForwardMode        string `yaml:"forward_mode"` // raw or json
	SendBuffer         int    `yaml:"send_buffer"`  // frames per connection
	ReadLimit          int64  `yaml:"read_limit"`   // bytes
}

// AudioConfig describes the audio producers send
type AudioConfig struct {
	SampleRate      int  `yaml:"sample_rate"`
	ADPCMContinuous bool `yaml:"adpcm_continuous"`
	OpusBitrate     int  `yaml:"opus_bitrate"` // bits per second, 0 for the encoder default
}

// AuthConfig contains the optional shared token
type AuthConfig struct {
	Token string `yaml:"token"`
}

// MDNSConfig controls service advertisement
type MDNSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stdout, stderr or a file path
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Name:               "micrelay",
			Path:               "/ws",
			PingInterval:       30,
			StatusEveryPackets: 100,
			ForwardMode:        "raw",
			SendBuffer:         64,
			ReadLimit:          64 * 1024,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
		},
		MDNS: MDNSConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port)
	}

	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", s.Path)
	}

	if s.PingInterval < 1 {
		return fmt.Errorf("server.ping_interval must be at least 1 second, got %d", s.PingInterval)
	}

	if s.StatusEveryPackets < 1 {
		return fmt.Errorf("server.status_every_packets must be at least 1, got %d", s.StatusEveryPackets)
	}

	if s.ForwardMode != "raw" && s.ForwardMode != "json" {
		return fmt.Errorf("server.forward_mode must be 'raw' or 'json', got '%s'", s.ForwardMode)
	}

	if s.SendBuffer < 1 {
		return fmt.Errorf("server.send_buffer must be at least 1, got %d", s.SendBuffer)
	}

	// A full 8192-sample PCM frame is 16392 bytes
	if s.ReadLimit < 16392 {
		return fmt.Errorf("server.read_limit must be at least 16392 bytes, got %d", s.ReadLimit)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.OpusBitrate != 0 && (a.OpusBitrate < 6000 || a.OpusBitrate > 510000) {
		return fmt.Errorf("audio.opus_bitrate must be 0 or between 6000 and 510000, got %d", a.OpusBitrate)
	}

	return nil
}

// Validate validates auth configuration
func (a *AuthConfig) Validate() error {
	if a.Token != strings.TrimSpace(a.Token) {
		return fmt.Errorf("auth.token must not have leading or trailing whitespace")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// PingIntervalDuration returns the ping interval as a time.Duration
func (s *ServerConfig) PingIntervalDuration() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}
