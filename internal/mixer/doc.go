// Package mixer combines the microphone and counterpart capture streams into
// one PCM stream with per-role gain and a dynamics compressor, and exposes
// per-input peak levels for monitoring.
package mixer
