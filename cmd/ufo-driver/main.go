package main

import (
	"fmt"
	"os"

	"github.com/cuemby/ufo-core/pkg/config"
	"github.com/cuemby/ufo-core/pkg/graph"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/resourcemanager"
	"github.com/cuemby/ufo-core/pkg/resourcemanager/simbackend"
	"github.com/cuemby/ufo-core/pkg/scheduler"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ufo-driver",
	Short:   "Run a task graph document against a local resource manager",
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run <graph.json>",
	Short: "Load and run a JSON graph document to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, args[0])
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ufo-driver version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	runCmd.Flags().Int("devices", 1, "Number of simulated devices to expose")
	runCmd.Flags().String("remote", "", "Stream the named node to a remote ufo-daemon instead of running it locally (reserved; unset runs everything in-process)")

	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runGraph(cmd *cobra.Command, graphPath string) error {
	driverCfg := config.LoadDriverConfig(cmd.Flags())

	data, err := os.ReadFile(graphPath)
	if err != nil {
		return fmt.Errorf("read graph file: %w", err)
	}

	g, err := graph.NewLoader().Load(data)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}

	resources := resourcemanager.New(simbackend.New(driverCfg.DeviceCount))
	defer resources.Close()

	logger := log.WithComponent("ufo-driver")
	logger.Info().Str("graph", graphPath).Int("devices", driverCfg.DeviceCount).Msg("starting run")

	sched := scheduler.New(g, resources)
	if err := sched.Run(); err != nil {
		return fmt.Errorf("run graph: %w", err)
	}

	logger.Info().Msg("run complete")
	return nil
}
