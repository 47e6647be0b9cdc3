// Package main hosts the autorec CLI entrypoint and command graph.
//
// The Cobra-based command tree records meetings interactively, runs the
// transcription pipeline over existing files, browses the recording history,
// lists capture sources, checks external dependencies, recovers spooled
// audio after a crash and scaffolds configuration. It centralizes
// configuration resolution and logging setup so subcommands can focus on
// user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
