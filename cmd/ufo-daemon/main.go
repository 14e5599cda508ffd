package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/ufo-core/pkg/config"
	"github.com/cuemby/ufo-core/pkg/daemon"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/messenger"
	"github.com/cuemby/ufo-core/pkg/metrics"
	"github.com/cuemby/ufo-core/pkg/resourcemanager"
	"github.com/cuemby/ufo-core/pkg/resourcemanager/simbackend"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}

// exitCode is set by runDaemon before returning, since cobra's own
// Execute/RunE contract doesn't distinguish startup failure from a fatal
// run error, and the daemon CLI needs to.
var exitCode int

var rootCmd = &cobra.Command{
	Use:     "ufo-daemon <listen-address>",
	Short:   "Serve a GPU task graph over the ufo-core wire protocol",
	Version: Version,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd, args[0])
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ufo-daemon version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("listen-address", "", "Override the listen address given as a positional argument")
	rootCmd.Flags().Int("device-count", 0, "Number of simulated devices to expose (0 uses the config default)")
	rootCmd.Flags().String("kernel-path", "", "Kernel source directory (stored in the loaded config; program paths in a graph are used as given)")
	rootCmd.Flags().Int("queue-capacity", 0, "Per-edge queue capacity (stored in the loaded config; graph edges use graph.DefaultEdgeCapacity)")
	rootCmd.Flags().String("config", config.DefaultDaemonConfigPath(), "Path to daemon.yaml")
	rootCmd.Flags().String("metrics-address", "", "Serve /metrics, /health, /ready and /live on this address (empty disables)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, listenArg string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDaemonConfig(configPath, cmd.Flags())
	if err != nil {
		exitCode = 1
		return fmt.Errorf("load config: %w", err)
	}
	if listenArg != "" && !cmd.Flags().Changed("listen-address") {
		cfg.ListenAddress = listenArg
	}

	deviceCount := cfg.DeviceCount
	if deviceCount <= 0 {
		deviceCount = 1
	}
	resources := resourcemanager.New(simbackend.New(deviceCount))
	defer resources.Close()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("resourcemanager", true, "")
	metrics.RegisterComponent("scheduler", true, "")

	if addr, _ := cmd.Flags().GetString("metrics-address"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				metricsLogger := log.WithComponent("ufo-daemon")
				metricsLogger.Warn().Err(err).Str("address", addr).Msg("metrics endpoint stopped")
			}
		}()
	}

	collector := metrics.NewCollector(func() []metrics.DeviceSample {
		infos := resources.DeviceInfo()
		samples := make([]metrics.DeviceSample, len(infos))
		for i, d := range infos {
			samples[i] = metrics.DeviceSample{Name: d.Name, ComputeUnits: d.ComputeUnits}
		}
		return samples
	})
	collector.Start()
	defer collector.Stop()

	ln, err := messenger.ListenTCP(cfg.ListenAddress)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	metrics.RegisterComponent("messenger", true, "")

	logger := log.WithComponent("ufo-daemon")
	logger.Info().Str("address", ln.Addr()).Int("devices", deviceCount).Msg("listening")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connCh := make(chan messenger.Messenger)
	acceptErrCh := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				acceptErrCh <- err
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		case err := <-acceptErrCh:
			exitCode = 2
			return fmt.Errorf("accept: %w", err)
		case conn := <-connCh:
			connID := uuid.New().String()
			connLog := log.WithConnID(connID)
			connLog.Info().Msg("connection accepted")
			d := daemon.New(resources, conn)
			go func() {
				if err := d.Serve(ctx); err != nil {
					connLog.Error().Err(err).Msg("session ended with error")
				} else {
					connLog.Info().Msg("session ended cleanly")
				}
			}()
		}
	}
}
