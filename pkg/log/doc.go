/*
Package log provides structured logging for the pipeline runtime using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all packages without being passed around

Context Loggers:
  - WithComponent: tag all logs from a subsystem (e.g. "resourcemanager")
  - WithNodeID: tag logs from a remote task proxy with the node it drives
  - WithDeviceID: tag logs with the compute device index they concern
  - WithTaskID: tag logs with the graph node they concern

# Usage

	import "github.com/cuemby/ufo-core/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	rmLog := log.WithComponent("resourcemanager")
	rmLog.Info().Str("path", path).Msg("program compiled")

	nodeLog := log.WithNodeID("gpu-1.cluster.local:6060")
	nodeLog.Warn().Err(err).Msg("remote heartbeat missed")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance initialized once at process start
  - Simplifies logging in deeply nested calls without threading a logger
    through every constructor

Context Logger Pattern:
  - Child loggers carry fixed fields (component, node, device, task) so
    callers never repeat them at every call site

# Best Practices

Do:
  - Use Info level for production, Debug for local runs
  - Log errors with .Err() so the cause chain prints
  - Tag device and node context on every log line that crosses a
    device or network boundary

Don't:
  - Log full buffer contents (too large, not useful)
  - Concatenate strings into the message; use typed fields
*/
package log
