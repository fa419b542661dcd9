package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level application configuration
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Logging       LoggingConfig       `toml:"logging"`
	Storage       StorageConfig       `toml:"storage"`
	Capture       CaptureConfig       `toml:"capture"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Call          CallConfig          `toml:"call"`
	Contacts      ContactsConfig      `toml:"contacts"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	ReadTimeoutSec     int      `toml:"read_timeout_sec"`
	WriteTimeoutSec    int      `toml:"write_timeout_sec"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StorageConfig represents the recording store configuration
type StorageConfig struct {
	Path string `toml:"path"` // SQLite database path, ":memory:" for ephemeral
}

// CaptureConfig represents the audio capture session configuration
type CaptureConfig struct {
	DeviceName       string   `toml:"device_name"` // empty selects the default input device
	SampleRate       int      `toml:"sample_rate"`
	Channels         int      `toml:"channels"`
	ChunkIntervalMs  int      `toml:"chunk_interval_ms"`
	TickIntervalMs   int      `toml:"tick_interval_ms"`
	CodecPreferences []string `toml:"codec_preferences"`
	DefaultCodec     string   `toml:"default_codec"`
}

// TranscriptionConfig represents the speech-to-text configuration
type TranscriptionConfig struct {
	Enabled          bool    `toml:"enabled"`
	OpenAIAPIKey     string  `toml:"openai_api_key"`
	Model            string  `toml:"model"`
	Language         string  `toml:"language"`
	RestartDelayMs   int     `toml:"restart_delay_ms"`
	VADThreshold     float64 `toml:"vad_threshold"`
	TimeoutSeconds   int     `toml:"timeout_seconds"`
	RealtimeEndpoint string  `toml:"realtime_endpoint"`
}

// CallConfig represents the call session configuration
type CallConfig struct {
	SignalingURL       string `toml:"signaling_url"`
	Platform           string `toml:"platform"` // platform label stamped on call history entries
	RegisterTimeoutSec int    `toml:"register_timeout_sec"`
	PingIntervalSec    int    `toml:"ping_interval_sec"`
}

// ContactsConfig represents the external contact sync configuration
type ContactsConfig struct {
	SyncURL        string `toml:"sync_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Path: "voxdesk.db",
		},
		Capture: CaptureConfig{
			SampleRate:       44100,
			Channels:         1,
			ChunkIntervalMs:  1000,
			TickIntervalMs:   100,
			CodecPreferences: []string{"audio/webm;codecs=opus", "audio/webm", "audio/ogg;codecs=opus", "audio/wav"},
			DefaultCodec:     "audio/wav",
		},
		Transcription: TranscriptionConfig{
			Enabled:          true,
			Model:            "whisper-1",
			Language:         "en",
			RestartDelayMs:   250,
			TimeoutSeconds:   30,
			RealtimeEndpoint: "wss://api.openai.com/v1/realtime",
		},
		Call: CallConfig{
			Platform:           "voxdesk",
			RegisterTimeoutSec: 10,
			PingIntervalSec:    25,
		},
		Contacts: ContactsConfig{
			TimeoutSeconds: 15,
			MaxRetries:     3,
		},
	}
}

// LoadConfig loads the configuration from the given TOML file, falling
// back to defaults for any field the file does not set. A missing file
// is not an error; the defaults are returned as-is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("invalid capture sample rate: %d", c.Capture.SampleRate)
	}
	if c.Capture.Channels <= 0 {
		return fmt.Errorf("invalid capture channel count: %d", c.Capture.Channels)
	}
	if c.Capture.ChunkIntervalMs <= 0 {
		return fmt.Errorf("invalid capture chunk interval: %d", c.Capture.ChunkIntervalMs)
	}
	return nil
}
