package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

type Config struct {
	LogLevel string        `json:"log_level"` // "debug", "info", "warn", "error"
	Capture  CaptureConfig `json:"capture"`
	Sink     SinkConfig    `json:"sink"`
}

// CaptureConfig describes one capture device configuration.
type CaptureConfig struct {
	SampleRate     int         `json:"sample_rate"`
	Channels       int         `json:"channels"`        // 1 or 2
	BitsPerSample  int         `json:"bits_per_sample"` // 8 or 16
	AudioSource    AudioSource `json:"audio_source"`
	BufferSize     int         `json:"buffer_size"` // bytes, 0 = platform minimum
	SpeakerPhoneOn bool        `json:"speaker_phone_on"`
	DeviceID       string      `json:"device_id"` // empty = system default
}

type SinkConfig struct {
	Listen string `json:"listen"` // WebSocket listen address, empty disables
	// AllowedOrigins lists browser origins, besides the listen address
	// itself, that may connect to the WebSocket endpoint.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	Stdout         bool     `json:"stdout"`
	Meter          bool     `json:"meter"`
}

const (
	DefaultSampleRate    = 44100
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// DefaultCapture returns the capture defaults: 44.1kHz mono 16-bit,
// voice recognition source, speaker routing off.
func DefaultCapture() CaptureConfig {
	return CaptureConfig{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: DefaultBitsPerSample,
		AudioSource:   SourceVoiceRecognition,
	}
}

// Normalize folds out-of-range values back to supported ones. Channels other
// than 2 become mono and depths other than 8 become 16-bit.
func (c CaptureConfig) Normalize() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels != 2 {
		c.Channels = 1
	}
	if c.BitsPerSample != 8 {
		c.BitsPerSample = 16
	}
	if c.BufferSize < 0 {
		c.BufferSize = 0
	}
	if !c.AudioSource.Valid() {
		c.AudioSource = SourceVoiceRecognition
	}
	return c
}

// BytesPerFrame returns the size of one interleaved sample frame.
func (c CaptureConfig) BytesPerFrame() int {
	return c.Channels * c.BitsPerSample / 8
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path, overlaying it on the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Capture:  DefaultCapture(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Capture = cfg.Capture.Normalize()
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveTo(configPath())
}

func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the platform-specific config file path.
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "mic-stream", "config.json")
}
