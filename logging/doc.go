// Package logging provides a minimal logging interface and adapters for the agent platform.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// plus With for scoping entries to a tenant or execution. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - JSON, text and colored console (tint) handlers selected by Config.Format
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(logging.Config{Level: logging.LogLevelInfo, Format: "console"})
//	logger.With("tenant_id", tenantID).Info("orchestrator.execution.created", "execution_id", id)
package logging
