package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"

	"dbrb/internal/runner"
)

const (
	DefaultContainer      = "database_backups"
	DefaultSegmentMaxSize = 5 * 1024 * 1024 * 1024
	DefaultChunkSize      = 64 * 1024

	// S3PartSize is the multipart upload part size of the S3 backend.
	S3PartSize int64 = 64 * 1024 * 1024

	// s3MaxSegmentSize is the largest object one multipart upload can hold.
	s3MaxSegmentSize = S3PartSize * int64(manager.MaxUploadParts)
)

type Config struct {
	BaseDir   string       `yaml:"base_dir"`
	LogLevel  string       `yaml:"log_level,omitempty"`
	Datastore Datastore    `yaml:"datastore"`
	Backup    BackupConfig `yaml:"backup"`
	Storage   Storage      `yaml:"storage"`
}

type Datastore struct {
	Type      string `yaml:"type"`
	DataDir   string `yaml:"data_dir"`
	User      string `yaml:"user,omitempty"`
	Password  string `yaml:"password,omitempty"`
	ExtraOpts string `yaml:"extra_opts,omitempty"`
}

type BackupConfig struct {
	Compress       bool   `yaml:"compress"`
	Cipher         string `yaml:"cipher"`
	Passphrase     string `yaml:"passphrase,omitempty"`
	WorkFactor     int    `yaml:"work_factor,omitempty"`
	SegmentMaxSize int64  `yaml:"segment_max_size,omitempty"`
	ChunkSize      int    `yaml:"chunk_size,omitempty"`
}

type Storage struct {
	Backend   string   `yaml:"backend"`
	Container string   `yaml:"container,omitempty"`
	S3        S3Config `yaml:"s3,omitempty"`
	File      struct {
		Root string `yaml:"root"`
	} `yaml:"file,omitempty"`
}

type S3Config struct {
	Region       string             `yaml:"region"`
	Endpoint     string             `yaml:"endpoint,omitempty"`
	Prefix       string             `yaml:"prefix,omitempty"`
	StorageClass types.StorageClass `yaml:"storage_class,omitempty"`
	Retry        struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if c.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return fmt.Errorf("log_level %q is invalid", c.LogLevel)
		}
	}

	switch runner.Cipher(c.Backup.Cipher) {
	case runner.CipherNone:
	case runner.CipherOpenSSL, runner.CipherAge:
		if c.Backup.Passphrase == "" {
			return fmt.Errorf("backup.passphrase is required when backup.cipher is %s", c.Backup.Cipher)
		}
	case "":
		return fmt.Errorf("backup.cipher is required")
	default:
		return fmt.Errorf("backup.cipher must be one of none, openssl, age")
	}
	if c.Backup.SegmentMaxSize < 0 {
		return fmt.Errorf("backup.segment_max_size must be positive")
	}
	if c.Backup.ChunkSize < 0 {
		return fmt.Errorf("backup.chunk_size must be positive")
	}

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when storage.backend is s3")
		}
		if c.SegmentMaxSize() > s3MaxSegmentSize {
			return fmt.Errorf("backup.segment_max_size exceeds the S3 multipart limit of %d bytes", s3MaxSegmentSize)
		}
	case "file":
		if c.Storage.File.Root == "" {
			return fmt.Errorf("storage.file.root is required when storage.backend is file")
		}
	case "memory":
	case "":
		return fmt.Errorf("storage.backend is required")
	default:
		return fmt.Errorf("storage.backend must be one of s3, file, memory")
	}
	if strings.Contains(c.Container(), "/") {
		return fmt.Errorf("storage.container must not contain '/'")
	}
	return nil
}

func (c *Config) Container() string {
	if c.Storage.Container != "" {
		return c.Storage.Container
	}
	return DefaultContainer
}

func (c *Config) S3RetryAttempts() int {
	if c.Storage.S3.Retry.MaxAttempts > 0 {
		return c.Storage.S3.Retry.MaxAttempts
	}
	return 3
}

func (c *Config) SegmentMaxSize() int64 {
	if c.Backup.SegmentMaxSize > 0 {
		return c.Backup.SegmentMaxSize
	}
	return DefaultSegmentMaxSize
}

func (c *Config) ChunkSize() int {
	if c.Backup.ChunkSize > 0 {
		return c.Backup.ChunkSize
	}
	return DefaultChunkSize
}

// Level is the configured log level, info when unset.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if c.LogLevel != "" {
		_ = lvl.UnmarshalText([]byte(c.LogLevel))
	}
	return lvl
}

// RunnerOptions returns the compression and cipher stages for every runner.
func (c *Config) RunnerOptions() runner.Options {
	return runner.Options{
		Compress:   c.Backup.Compress,
		Cipher:     runner.Cipher(c.Backup.Cipher),
		Passphrase: c.Backup.Passphrase,
		WorkFactor: c.Backup.WorkFactor,
	}
}
