// ABOUTME: Package logging builds slog loggers from configuration
// ABOUTME: Colored terminal output, JSON output, and rotated log files

// Package logging turns a config.LoggingConfig into a *slog.Logger.
//
// Text format uses a compact colored handler (time, level tag, message, then
// key=value attributes). JSON format uses slog's JSON handler. Setting a file
// path always produces JSON lines written through lumberjack, rotated by size.
package logging
