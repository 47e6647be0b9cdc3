// Package capture acquires live audio streams from the microphone, a shared
// screen or window, and system audio.
//
// The Adapter handles source selection, the no-audio fallback chain (system
// audio backend, then an ffmpeg sidecar writing a WAV file), and classifies
// failures as AcquisitionError with operator remediation. Streams fan their
// PCM out to any number of Tap readers and report track loss to adapter
// subscribers instead of stopping anything themselves.
package capture
