// Package workflow coordinates a recording from start to history entry.
//
// The Manager owns the single recorder.Session, guards it with a cross-process
// file lock, and runs the background work attached to an active session:
// watching the shared window through a monitor.Monitor, reacting to capture
// liveness events, and sampling input levels. When a session stops, whether
// by the user, a lost source, or Close, the Manager finalizes it once and hands
// the result to the transcription pipeline.
//
// Reactions to a lost shared source depend on the mode. Single mode stops the
// whole session. Separate mode drops the counterpart and keeps recording the
// microphone, escalating to a full stop when the microphone is no longer
// active either.
package workflow
