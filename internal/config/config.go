package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default attachment limits for inline chat attachments. Larger transfers
// belong to the document-sharing flow, not chat.
const (
	DefaultMaxAttachmentBytes = 5 << 20
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	DefaultProfile string           `toml:"default_profile"`
	Identity       IdentityConfig   `toml:"identity"`
	Remote         RemoteConfig     `toml:"remote"`
	Attachment     AttachmentConfig `toml:"attachment"`
	Audio          AudioConfig      `toml:"audio"`
}

// IdentityConfig carries the current user's identity as resolved by the
// identity collaborator (the dashboard's auth layer writes it here).
type IdentityConfig struct {
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
}

// RemoteConfig selects the backend driver. "memory" is the loopback driver
// used for development and tests; contacts seed its directory feed.
type RemoteConfig struct {
	Driver   string          `toml:"driver"`
	Contacts []ContactConfig `toml:"contacts"`
}

// ContactConfig seeds one directory entry for the loopback driver.
type ContactConfig struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	Role        string `toml:"role"`
}

// AttachmentConfig bounds what the attachment pipeline accepts. AllowedTypes
// entries ending in "/" match as MIME prefixes, others match exactly.
type AttachmentConfig struct {
	MaxBytes     int64    `toml:"max_bytes"`
	AllowedTypes []string `toml:"allowed_types"`
}

// AudioConfig configures the voice-note capture source. An empty SourcePath
// means no capture device is available on this host.
type AudioConfig struct {
	SourcePath string `toml:"source_path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Remote:         RemoteConfig{Driver: "memory"},
		Attachment: AttachmentConfig{
			MaxBytes: DefaultMaxAttachmentBytes,
			AllowedTypes: []string{
				"image/",
				"audio/",
				"video/",
				"application/pdf",
				"text/plain",
				"application/msword",
				"application/vnd.openxmlformats-officedocument.",
			},
		},
	}
}

// Load reads config from the given path and fills unset fields with defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = def.DefaultProfile
	}
	if cfg.Remote.Driver == "" {
		cfg.Remote.Driver = def.Remote.Driver
	}
	if cfg.Attachment.MaxBytes <= 0 {
		cfg.Attachment.MaxBytes = def.Attachment.MaxBytes
	}
	if len(cfg.Attachment.AllowedTypes) == 0 {
		cfg.Attachment.AllowedTypes = def.Attachment.AllowedTypes
	}
}
