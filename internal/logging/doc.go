// Package logging assembles structured slog loggers and formatting helpers used
// across autorec.
//
// It owns the console and JSON handlers, routes file output through a
// size-rotated writer, and exposes context-aware helpers so recorder and
// pipeline code tag log lines with session IDs, roles, and stages. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
