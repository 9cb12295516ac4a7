package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/webriots/coreact/echo"
)

func testFlags(cfg *ServeConfig) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.StringVarP(&cfg.Echo.Addr, "bind", "b", echo.DefaultAddr, "")
	flags.StringVar(&cfg.Echo.Prefix, "prefix", echo.DefaultPrefix, "")
	flags.IntVar(&cfg.Echo.MaxRead, "max-read", echo.DefaultMaxRead, "")
	flags.IntVar(&cfg.Echo.Backlog, "backlog", echo.DefaultBacklog, "")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "")
	return flags
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coreact.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSetAllConfigPriority(t *testing.T) {
	r := require.New(t)

	path := writeConfig(t, `
bind = "127.0.0.1:1"
prefix = "file:"
max-read = 5
log-level = "warn"
`)
	t.Setenv("COREACT_PREFIX", "env:")
	t.Setenv("COREACT_BACKLOG", "7")

	var cfg ServeConfig
	flags := testFlags(&cfg)
	r.NoError(flags.Parse([]string{"--config", path, "--bind", "127.0.0.1:2"}))
	r.NoError(setAllConfig(viper.New(), flags))

	r.Equal("127.0.0.1:2", cfg.Echo.Addr)
	r.Equal("env:", cfg.Echo.Prefix)
	r.Equal(5, cfg.Echo.MaxRead)
	r.Equal(7, cfg.Echo.Backlog)
	r.Equal("warn", cfg.LogLevel)
}

func TestSetAllConfigDefaults(t *testing.T) {
	r := require.New(t)

	var cfg ServeConfig
	flags := testFlags(&cfg)
	r.NoError(flags.Parse(nil))
	r.NoError(setAllConfig(viper.New(), flags))

	r.Equal(echo.DefaultAddr, cfg.Echo.Addr)
	r.Equal(echo.DefaultPrefix, cfg.Echo.Prefix)
	r.Equal(echo.DefaultMaxRead, cfg.Echo.MaxRead)
	r.Equal("info", cfg.LogLevel)
}

func TestSetAllConfigRejectsUnknownKeys(t *testing.T) {
	r := require.New(t)

	path := writeConfig(t, "bogus = 1\n")

	var cfg ServeConfig
	flags := testFlags(&cfg)
	r.NoError(flags.Parse([]string{"--config", path}))
	err := setAllConfig(viper.New(), flags)
	r.ErrorContains(err, "invalid option in configuration file: bogus")
}

func TestSetAllConfigMissingFile(t *testing.T) {
	r := require.New(t)

	var cfg ServeConfig
	flags := testFlags(&cfg)
	r.NoError(flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}))
	err := setAllConfig(viper.New(), flags)
	r.ErrorContains(err, "reading configuration file")
	r.ErrorIs(err, os.ErrNotExist)
}

func TestSetAllConfigBadValue(t *testing.T) {
	r := require.New(t)

	t.Setenv("COREACT_MAX_READ", "lots")

	var cfg ServeConfig
	flags := testFlags(&cfg)
	r.NoError(flags.Parse(nil))
	r.Error(setAllConfig(viper.New(), flags))
}

func TestRootHelp(t *testing.T) {
	r := require.New(t)

	var stdout, stderr bytes.Buffer
	rc := NewRootCommand(nil, &stdout, &stderr)
	rc.SetArgs([]string{"--help"})
	r.NoError(rc.Execute())
	r.Contains(stdout.String(), "serve")
	r.Contains(stdout.String(), "COREACT_")
}

func TestServeRejectsBadLogLevel(t *testing.T) {
	r := require.New(t)

	var stdout, stderr bytes.Buffer
	rc := NewRootCommand(nil, &stdout, &stderr)
	rc.SetArgs([]string{"serve", "--bind", "127.0.0.1:0", "--log-level", "loud"})
	r.ErrorContains(rc.Execute(), "log level")
}

func TestServeStopsOnCancel(t *testing.T) {
	r := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var logs bytes.Buffer
	err := Serve(ctx, ServeConfig{
		Echo:     echo.Config{Addr: "127.0.0.1:0"},
		LogLevel: "info",
	}, &logs)
	r.NoError(err)
	r.Contains(logs.String(), "echo server stopped")
}

func TestNewLogger(t *testing.T) {
	r := require.New(t)

	var buf bytes.Buffer
	logger, err := newLogger("warn", &buf)
	r.NoError(err)

	logger.Info("hidden")
	logger.Warn("shown")
	r.NoError(logger.Sync())
	r.NotContains(buf.String(), "hidden")
	r.Contains(buf.String(), `"msg":"shown"`)
}
