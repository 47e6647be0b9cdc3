// Package services defines shared utilities consumed by the recorder,
// pipeline, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, artifact roles, stage names,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (configuration, validation, external tool, transient) for operator hints.
package services
