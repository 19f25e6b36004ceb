package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete backend configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Decoder DecoderConfig `yaml:"decoder"`
	LLM     LLMConfig     `yaml:"llm"`
	Context ContextConfig `yaml:"context"`
	Chat    ChatConfig    `yaml:"chat"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the HTTP/WebSocket server configuration
type ServerConfig struct {
	Address      string `yaml:"address"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	MaxSessions  int    `yaml:"max_sessions"`
}

// AudioConfig contains audio ingestion parameters
type AudioConfig struct {
	SampleRate          int    `yaml:"sample_rate"`
	Channels            int    `yaml:"channels"`
	BitDepth            int    `yaml:"bit_depth"`
	FrameBufferCapacity int    `yaml:"frame_buffer_capacity"` // frames
	DebugAudioDir       string `yaml:"debug_audio_dir"`       // empty disables capture
	DebugCaptureSeconds int    `yaml:"debug_capture_seconds"`
}

// SessionConfig contains streaming session lifecycle parameters
type SessionConfig struct {
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // seconds
	InactivityTimeout int    `yaml:"inactivity_timeout"` // seconds
	InactivityPolicy  string `yaml:"inactivity_policy"`  // "terminate" or "log"
	ErrorCeiling      int    `yaml:"error_ceiling"`
	StopGraceTimeout  int    `yaml:"stop_grace_timeout"` // seconds
	EventBufferSize   int    `yaml:"event_buffer_size"`
}

// DecoderConfig contains speech decoder client configuration
type DecoderConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LLMConfig contains model runtime client configuration
type LLMConfig struct {
	BaseURL       string `yaml:"base_url"`
	DefaultModel  string `yaml:"default_model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// ContextConfig contains context window assembly parameters
type ContextConfig struct {
	ReserveTokens  int    `yaml:"reserve_tokens"`
	PreserveRecent int    `yaml:"preserve_recent"`
	SystemPrompt   string `yaml:"system_prompt"`
}

// ChatConfig contains conversation persistence configuration
type ChatConfig struct {
	Directory string `yaml:"directory"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.Context.Validate(); err != nil {
		return fmt.Errorf("context config: %w", err)
	}

	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the decoder, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FrameBufferCapacity < 1 {
		return fmt.Errorf("frame_buffer_capacity must be at least 1, got %d", a.FrameBufferCapacity)
	}

	if a.DebugAudioDir != "" && a.DebugCaptureSeconds < 1 {
		return fmt.Errorf("debug_capture_seconds must be at least 1 when capture is enabled, got %d", a.DebugCaptureSeconds)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.HeartbeatInterval < 1 {
		return fmt.Errorf("heartbeat_interval must be at least 1 second, got %d", s.HeartbeatInterval)
	}

	if s.InactivityTimeout < 30 || s.InactivityTimeout > 60 {
		return fmt.Errorf("inactivity_timeout must be between 30 and 60 seconds, got %d", s.InactivityTimeout)
	}

	if s.InactivityTimeout <= s.HeartbeatInterval {
		return fmt.Errorf("inactivity_timeout (%d) must be greater than heartbeat_interval (%d)",
			s.InactivityTimeout, s.HeartbeatInterval)
	}

	validPolicies := map[string]bool{"terminate": true, "log": true}
	if !validPolicies[s.InactivityPolicy] {
		return fmt.Errorf("inactivity_policy must be 'terminate' or 'log', got '%s'", s.InactivityPolicy)
	}

	if s.ErrorCeiling < 1 {
		return fmt.Errorf("error_ceiling must be at least 1, got %d", s.ErrorCeiling)
	}

	if s.StopGraceTimeout < 1 {
		return fmt.Errorf("stop_grace_timeout must be at least 1 second, got %d", s.StopGraceTimeout)
	}

	if s.EventBufferSize < 1 {
		return fmt.Errorf("event_buffer_size must be at least 1, got %d", s.EventBufferSize)
	}

	return nil
}

// Validate validates decoder configuration
func (d *DecoderConfig) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	if d.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", d.MaxRetries)
	}

	if d.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", d.MaxConcurrent)
	}

	return nil
}

// Validate validates LLM configuration
func (l *LLMConfig) Validate() error {
	if l.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if l.DefaultModel == "" {
		return fmt.Errorf("default_model cannot be empty")
	}

	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}

	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", l.MaxRetries)
	}

	if l.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", l.MaxConcurrent)
	}

	return nil
}

// Validate validates context configuration
func (c *ContextConfig) Validate() error {
	if c.ReserveTokens < 1 {
		return fmt.Errorf("reserve_tokens must be at least 1, got %d", c.ReserveTokens)
	}

	if c.PreserveRecent < 1 {
		return fmt.Errorf("preserve_recent must be at least 1, got %d", c.PreserveRecent)
	}

	return nil
}

// Validate validates chat configuration
func (c *ChatConfig) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the server read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the server write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetHeartbeatIntervalDuration returns the heartbeat interval as a time.Duration
func (s *SessionConfig) GetHeartbeatIntervalDuration() time.Duration {
	return time.Duration(s.HeartbeatInterval) * time.Second
}

// GetInactivityTimeoutDuration returns the inactivity timeout as a time.Duration
func (s *SessionConfig) GetInactivityTimeoutDuration() time.Duration {
	return time.Duration(s.InactivityTimeout) * time.Second
}

// GetStopGraceTimeoutDuration returns the stop grace timeout as a time.Duration
func (s *SessionConfig) GetStopGraceTimeoutDuration() time.Duration {
	return time.Duration(s.StopGraceTimeout) * time.Second
}

// GetTimeoutDuration returns the decoder timeout as a time.Duration
func (d *DecoderConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// GetTimeoutDuration returns the LLM timeout as a time.Duration
func (l *LLMConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}
