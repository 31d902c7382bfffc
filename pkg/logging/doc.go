/*
Package logging provides structured logging for the event store using
zerolog.

The logging package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via logging.Init()           │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("coordinator")             │          │
	│  │  - WithNodeID("node-abc123")                │          │
	│  │  - WithStream("orders-1")                   │          │
	│  │  - WithGroup("orders-1", "billing")         │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Usage

	logging.Init(logging.Config{
		Level:      logging.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	coordLog := logging.WithComponent("coordinator")
	coordLog.Info().Str("stream", "orders-1").Msg("append committed")

	groupLog := logging.WithGroup("orders-1", "billing")
	groupLog.Warn().Int("retries", 3).Msg("event parked after max retries")

# Log Levels

Debug is for development and troubleshooting; Info is the default
production level; Warn covers conditions that may need attention (a
subscriber dropped, a checkpoint write failed); Error covers operation
failures; Fatal exits the process and should only be used for
unrecoverable startup errors (e.g. a corrupt chunk that recovery cannot
resolve).

# Integration Points

This package is used by cmd/eventstored and pkg/config; the loggers it
builds are passed as zerolog.Logger values into pkg/server and on to
the components, so each node produces a single structured log stream.
*/
package logging
