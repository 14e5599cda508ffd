package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDaemonConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadDaemonConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	require.Equal(t, defaultDaemonConfig(), cfg)
}

func TestLoadDaemonConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_address: 127.0.0.1:9999\ndevice_count: 2\n"), 0o644))

	cfg, err := LoadDaemonConfig(path, nil)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.ListenAddress)
	require.Equal(t, 2, cfg.DeviceCount)
	require.Equal(t, defaultDaemonConfig().QueueCapacity, cfg.QueueCapacity)
}

func TestLoadDaemonConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_address: 127.0.0.1:9999\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen-address", "", "")
	flags.Int("device-count", 0, "")
	flags.String("kernel-path", "", "")
	flags.Int("queue-capacity", 0, "")
	require.NoError(t, flags.Set("listen-address", "0.0.0.0:1111"))

	cfg, err := LoadDaemonConfig(path, flags)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:1111", cfg.ListenAddress)
}

func TestLoadDaemonConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o644))

	_, err := LoadDaemonConfig(path, nil)
	require.Error(t, err)
}

func TestLoadDriverConfigDefaultsAndOverrides(t *testing.T) {
	cfg := LoadDriverConfig(nil)
	require.Equal(t, 1, cfg.DeviceCount)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("remote", "", "")
	flags.Int("devices", 1, "")
	require.NoError(t, flags.Set("remote", "10.0.0.1:5555"))
	require.NoError(t, flags.Set("devices", "3"))

	cfg = LoadDriverConfig(flags)
	require.Equal(t, "10.0.0.1:5555", cfg.RemoteAddress)
	require.Equal(t, 3, cfg.DeviceCount)
}
