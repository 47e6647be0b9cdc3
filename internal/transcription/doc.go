// Package transcription turns finished recordings into history entries.
//
// A Pipeline takes a recorder.Result, substitutes sidecar system audio when
// one was captured, transcribes each artifact through a Transcriber, and
// summarizes the transcript through a Summarizer. The entry is appended to
// history before any Exporter runs, so an export failure never loses the
// transcript. OpenAITranscriber and OpenAISummarizer talk to an
// OpenAI-compatible API through the retrying apiclient.
package transcription
