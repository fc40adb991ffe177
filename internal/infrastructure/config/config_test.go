package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcore/softbus/internal/domain/msg"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Bus limits
	assert.Equal(t, 256, cfg.Bus.MaxMsgIDs)
	assert.Equal(t, 64, cfg.Bus.MaxPipes)
	assert.Equal(t, 16, cfg.Bus.MaxDestPerMsg)
	assert.Equal(t, 4, cfg.Bus.DefaultMsgLimit)
	assert.Equal(t, 524288, cfg.Bus.BufMemoryBytes)
	assert.Equal(t, uint32(0x1FFF), cfg.Bus.HighestValidMsgID)
	assert.False(t, cfg.Bus.SubReporting)

	// Task
	assert.Equal(t, 32, cfg.Task.CmdPipeDepth)
	assert.Equal(t, 4*time.Second, cfg.Task.HKInterval.Std())

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"HOST":                    "127.0.0.1",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
		"RATE_LIMIT_RPS":          "500",
		"RATE_LIMIT_BURST":        "1000",
		"RATE_LIMIT_ENABLED":      "false",
		"SB_MAX_PIPES":            "32",
		"SB_HIGHEST_VALID_MSG_ID": "0x0FFF",
		"SB_BLOCK_SIZES":          "64,256,1024",
		"SB_HK_INTERVAL":          "250ms",
		"SB_SUB_REPORTING":        "true",
		"SB_DUMP_DIR":             "/var/softbus",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 32, cfg.Bus.MaxPipes)
	assert.Equal(t, uint32(0x0FFF), cfg.Bus.HighestValidMsgID)
	assert.Equal(t, []int{64, 256, 1024}, cfg.Bus.BlockSizes)
	assert.Equal(t, 250*time.Millisecond, cfg.Task.HKInterval.Std())
	assert.True(t, cfg.Bus.SubReporting)
	assert.Equal(t, "/var/softbus", cfg.Dump.Dir)

	// Untouched values keep their defaults.
	assert.Equal(t, 256, cfg.Bus.MaxMsgIDs)
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bus:
  max_pipes: 16
  max_msg_size: 4096
  block_sizes: [64, 512, 4096]
task:
  hk_interval: 2s
server:
  port: "7000"
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Bus.MaxPipes)
	assert.Equal(t, 4096, cfg.Bus.MaxMsgSize)
	assert.Equal(t, []int{64, 512, 4096}, cfg.Bus.BlockSizes)
	assert.Equal(t, 2*time.Second, cfg.Task.HKInterval.Std())
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 256, cfg.Bus.MaxMsgIDs)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softbus.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[bus]
max_dest_per_msg = 8
sub_report_msg_id = 0x0900

[task]
cmd_pipe_depth = 16

[rate_limit]
enabled = false
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Bus.MaxDestPerMsg)
	assert.Equal(t, msg.MsgID(0x0900), cfg.BusConfig().SubReportMsgID)
	assert.Equal(t, 16, cfg.TaskConfig().CmdPipeDepth)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softbus.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7000\"\n"), 0o644))
	t.Setenv("PORT", "7100")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Server.Port)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "softbus.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o644))
	_, err = LoadFile(ini)
	assert.ErrorContains(t, err, "unsupported")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[bus\nmax_pipes = "), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Bus.MaxPipes = 0
	cfg.Task.CmdPipeDepth = 1000
	cfg.Server.Port = "http"
	cfg.Dump.Dir = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "bus:")
	assert.ErrorContains(t, err, "cmd pipe depth")
	assert.ErrorContains(t, err, "invalid port")
	assert.ErrorContains(t, err, "dump: dir")
}

func TestBusConfigRoundTrip(t *testing.T) {
	cfg := Default()
	bc := cfg.BusConfig()
	assert.Equal(t, msg.DefaultHighestValid, bc.HighestValidMsgID)
	assert.Equal(t, msg.MsgID(0x080E), bc.SubReportMsgID)
	assert.NoError(t, bc.Validate())
}
