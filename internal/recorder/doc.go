// Package recorder implements the recording session state machine.
//
// A Session moves Idle -> Recording <-> Paused -> Idle. Start acquires the
// capture streams for the selected mode; single mode records one stream
// (mixed through a mixer.Graph when both sources are used) and separate mode
// runs one SubRecorder per party. SubRecorders emit a chunk per interval into
// a ChunkBuffer that is optionally spooled to disk. Stop waits on a Latch for
// every sub-recorder before building artifacts and always releases streams,
// the graph and the system-audio sidecar.
package recorder
