// Package notifications delivers recording events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Each event class
// (saved recordings, lost sources, errors) can be switched off individually.
// Workflow code depends only on the Service interface.
package notifications
