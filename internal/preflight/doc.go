// Package preflight provides readiness checks for the external service and
// filesystem paths autorec depends on.
//
// The CLI "autorec doctor" command runs RunAll alongside the binary checks
// from internal/deps. Each check is gated by its config: the OpenAI probe is
// skipped when no API key is configured.
package preflight
