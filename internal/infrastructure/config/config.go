package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/task"
)

// Config holds all application configuration.
//
// Fields carry no envconfig default tags: an unset variable leaves the value
// from Default or from the config file in place.
type Config struct {
	Bus       BusConfig       `yaml:"bus" toml:"bus"`
	Task      TaskConfig      `yaml:"task" toml:"task"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Dump      DumpConfig      `yaml:"dump" toml:"dump"`
}

// BusConfig holds the software bus limits.
type BusConfig struct {
	MaxMsgIDs         int    `envconfig:"SB_MAX_MSG_IDS" yaml:"max_msg_ids" toml:"max_msg_ids"`
	MaxPipes          int    `envconfig:"SB_MAX_PIPES" yaml:"max_pipes" toml:"max_pipes"`
	MaxDestPerMsg     int    `envconfig:"SB_MAX_DEST_PER_MSG" yaml:"max_dest_per_msg" toml:"max_dest_per_msg"`
	DefaultMsgLimit   int    `envconfig:"SB_DEFAULT_MSG_LIMIT" yaml:"default_msg_limit" toml:"default_msg_limit"`
	BufMemoryBytes    int    `envconfig:"SB_BUF_MEMORY_BYTES" yaml:"buf_memory_bytes" toml:"buf_memory_bytes"`
	HighestValidMsgID uint32 `envconfig:"SB_HIGHEST_VALID_MSG_ID" yaml:"highest_valid_msg_id" toml:"highest_valid_msg_id"`
	MaxMsgSize        int    `envconfig:"SB_MAX_MSG_SIZE" yaml:"max_msg_size" toml:"max_msg_size"`
	MaxPipeDepth      int    `envconfig:"SB_MAX_PIPE_DEPTH" yaml:"max_pipe_depth" toml:"max_pipe_depth"`
	MaxPipeNameLen    int    `envconfig:"SB_MAX_PIPE_NAME_LEN" yaml:"max_pipe_name_len" toml:"max_pipe_name_len"`
	BlockSizes        []int  `envconfig:"SB_BLOCK_SIZES" yaml:"block_sizes" toml:"block_sizes"`
	SubReportMsgID    uint32 `envconfig:"SB_SUB_REPORT_MSG_ID" yaml:"sub_report_msg_id" toml:"sub_report_msg_id"`
	SubReporting      bool   `envconfig:"SB_SUB_REPORTING" yaml:"sub_reporting" toml:"sub_reporting"`
}

// TaskConfig holds bus task settings.
type TaskConfig struct {
	CmdPipeDepth int      `envconfig:"SB_CMD_PIPE_DEPTH" yaml:"cmd_pipe_depth" toml:"cmd_pipe_depth"`
	HKInterval   Duration `envconfig:"SB_HK_INTERVAL" yaml:"hk_interval" toml:"hk_interval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// DumpConfig holds diagnostic dump settings.
type DumpConfig struct {
	Dir string `envconfig:"SB_DUMP_DIR" yaml:"dir" toml:"dir"`
}

// Duration is a time.Duration written as "4s" in env vars and files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads a YAML or TOML file over the defaults, chosen by extension,
// then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	b := bus.DefaultConfig()
	t := task.DefaultConfig()
	return &Config{
		Bus: BusConfig{
			MaxMsgIDs:         b.MaxMsgIDs,
			MaxPipes:          b.MaxPipes,
			MaxDestPerMsg:     b.MaxDestPerMsg,
			DefaultMsgLimit:   b.DefaultMsgLimit,
			BufMemoryBytes:    b.BufMemoryBytes,
			HighestValidMsgID: b.HighestValidMsgID.Value(),
			MaxMsgSize:        b.MaxMsgSize,
			MaxPipeDepth:      b.MaxPipeDepth,
			MaxPipeNameLen:    b.MaxPipeNameLen,
			BlockSizes:        append([]int(nil), b.BlockSizes...),
			SubReportMsgID:    b.SubReportMsgID.Value(),
		},
		Task: TaskConfig{
			CmdPipeDepth: t.CmdPipeDepth,
			HKInterval:   Duration(t.HKInterval),
		},
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Dump: DumpConfig{
			Dir: filepath.Join(os.TempDir(), "softbus"),
		},
	}
}

// BusConfig converts the bus section.
func (c *Config) BusConfig() bus.Config {
	return bus.Config{
		MaxMsgIDs:         c.Bus.MaxMsgIDs,
		MaxPipes:          c.Bus.MaxPipes,
		MaxDestPerMsg:     c.Bus.MaxDestPerMsg,
		DefaultMsgLimit:   c.Bus.DefaultMsgLimit,
		BufMemoryBytes:    c.Bus.BufMemoryBytes,
		HighestValidMsgID: msg.FromValue(c.Bus.HighestValidMsgID),
		MaxMsgSize:        c.Bus.MaxMsgSize,
		MaxPipeDepth:      c.Bus.MaxPipeDepth,
		MaxPipeNameLen:    c.Bus.MaxPipeNameLen,
		BlockSizes:        c.Bus.BlockSizes,
		SubReportMsgID:    msg.FromValue(c.Bus.SubReportMsgID),
	}
}

// TaskConfig converts the task section.
func (c *Config) TaskConfig() task.Config {
	return task.Config{
		CmdPipeDepth: c.Task.CmdPipeDepth,
		HKInterval:   c.Task.HKInterval.Std(),
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	var errs []error
	if err := c.BusConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bus: %w", err))
	}
	if c.Task.CmdPipeDepth <= 0 || c.Task.CmdPipeDepth > c.Bus.MaxPipeDepth {
		errs = append(errs, fmt.Errorf("task: cmd pipe depth must be in [1, %d], got %d", c.Bus.MaxPipeDepth, c.Task.CmdPipeDepth))
	}
	if c.Task.HKInterval < 0 {
		errs = append(errs, fmt.Errorf("task: hk interval cannot be negative"))
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %q", c.Server.Port))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, fmt.Errorf("rate limit: rps and burst must be positive when enabled"))
	}
	if c.Dump.Dir == "" {
		errs = append(errs, fmt.Errorf("dump: dir is required"))
	}
	return errors.Join(errs...)
}
