package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DaemonConfig holds everything ufo-daemon needs to start serving
// connections.
type DaemonConfig struct {
	ListenAddress string `yaml:"listen_address"`
	DeviceCount   int    `yaml:"device_count"`
	KernelPath    string `yaml:"kernel_path"`
	QueueCapacity int    `yaml:"queue_capacity"`
}

func defaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		ListenAddress: "0.0.0.0:5555",
		DeviceCount:   0,
		KernelPath:    "",
		QueueCapacity: 4,
	}
}

// DefaultDaemonConfigPath returns ~/.ufo/daemon.yaml, creating no
// directories or files; LoadDaemonConfig tolerates the file not existing.
func DefaultDaemonConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ufo/daemon.yaml"
	}
	return filepath.Join(home, ".ufo", "daemon.yaml")
}

// LoadDaemonConfig reads path (if it exists) over a set of built-in
// defaults, then overrides every field a flag in flags was explicitly set
// on. A missing file is not an error; a malformed one is.
func LoadDaemonConfig(path string, flags *pflag.FlagSet) (DaemonConfig, error) {
	cfg := defaultDaemonConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return DaemonConfig{}, err
		}
	} else if !os.IsNotExist(err) {
		return DaemonConfig{}, err
	}

	if flags == nil {
		return cfg, nil
	}
	if flags.Changed("listen-address") {
		cfg.ListenAddress, _ = flags.GetString("listen-address")
	}
	if flags.Changed("device-count") {
		cfg.DeviceCount, _ = flags.GetInt("device-count")
	}
	if flags.Changed("kernel-path") {
		cfg.KernelPath, _ = flags.GetString("kernel-path")
	}
	if flags.Changed("queue-capacity") {
		cfg.QueueCapacity, _ = flags.GetInt("queue-capacity")
	}
	return cfg, nil
}

// DriverConfig holds what ufo-driver needs to run a graph document locally
// or against a remote daemon.
type DriverConfig struct {
	GraphPath     string `yaml:"graph_path"`
	RemoteAddress string `yaml:"remote_address"`
	DeviceCount   int    `yaml:"device_count"`
}

func defaultDriverConfig() DriverConfig {
	return DriverConfig{DeviceCount: 1}
}

// LoadDriverConfig mirrors LoadDaemonConfig for the driver's smaller flag
// set; there is no on-disk default file for the driver, since its graph
// path is always given explicitly on the command line.
func LoadDriverConfig(flags *pflag.FlagSet) DriverConfig {
	cfg := defaultDriverConfig()
	if flags == nil {
		return cfg
	}
	if flags.Changed("remote") {
		cfg.RemoteAddress, _ = flags.GetString("remote")
	}
	if flags.Changed("devices") {
		cfg.DeviceCount, _ = flags.GetInt("devices")
	}
	return cfg
}
