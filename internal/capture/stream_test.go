package capture

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestStreamTapFansOutToEveryReader(t *testing.T) {
	pr, pw := io.Pipe()
	stream := NewStream(Microphone, "default", "microphone", DefaultFormat, pr)

	first, err := stream.Tap()
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}
	second, err := stream.Tap()
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}

	payload := bytes.Repeat([]byte{1, 2, 3, 4}, 3000)
	go func() {
		_, _ = pw.Write(payload)
		_ = pw.Close()
	}()

	for i, reader := range []io.Reader{first, second} {
		got, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("reader %d: %v", i, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("reader %d got %d bytes, want %d", i, len(got), len(payload))
		}
	}
}

func TestStreamSourceEndNotifiesOnce(t *testing.T) {
	pr, pw := io.Pipe()
	stream := NewStream(Microphone, "default", "microphone", DefaultFormat, pr)
	events := make(chan string, 4)
	stream.setNotifier(func(_ *Stream, track *Track, reason string) {
		events <- track.ID + ":" + reason
	})

	reader, err := stream.Tap()
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}
	_ = pw.Close()
	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	select {
	case ev := <-events:
		if ev != stream.AudioTracks()[0].ID+":source ended" {
			t.Fatalf("unexpected event %q", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected track end notification")
	}
	if stream.Live() {
		t.Fatal("expected stream to report no live audio")
	}

	stream.EndAudio("again")
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected second notification %q", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamStopIsIdempotentAndSilent(t *testing.T) {
	pr, _ := io.Pipe()
	stream := NewStream(Microphone, "default", "microphone", DefaultFormat, pr)
	notified := false
	stream.setNotifier(func(*Stream, *Track, string) { notified = true })
	stops := 0
	stream.OnStop(func() error {
		stops++
		return nil
	})

	if _, err := stream.Tap(); err != nil {
		t.Fatalf("Tap: %v", err)
	}
	for range 3 {
		if err := stream.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if stops != 1 {
		t.Fatalf("expected one stop callback, got %d", stops)
	}
	if notified {
		t.Fatal("explicit stop must not report track loss")
	}
	if _, err := stream.Tap(); err != ErrStreamStopped {
		t.Fatalf("expected ErrStreamStopped, got %v", err)
	}
	if reason := stream.AudioTracks()[0].Reason(); reason != "stopped" {
		t.Fatalf("unexpected end reason %q", reason)
	}
}

func TestStreamSpliceMovesAudio(t *testing.T) {
	video := NewTrack("screen/video", TrackVideo, "Window")
	screen := NewStream(Screen, "window:0x1", "Window", DefaultFormat, nil, video)
	if screen.HasAudio() {
		t.Fatal("screen stream should start without audio")
	}
	if _, err := screen.Tap(); err != ErrNoAudio {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}

	system := NewStream(Screen, "monitor", "system audio", DefaultFormat, io.NopCloser(bytes.NewReader([]byte{0, 0, 0, 0})))
	if err := screen.Splice(system); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if !screen.HasAudio() || len(screen.VideoTracks()) != 1 {
		t.Fatalf("expected one audio and one video track, got %d/%d", len(screen.AudioTracks()), len(screen.VideoTracks()))
	}
	if err := screen.Splice(system); err == nil {
		t.Fatal("expected second splice to fail")
	}

	reader, err := screen.Tap()
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}
	got, _ := io.ReadAll(reader)
	if len(got) != 4 {
		t.Fatalf("expected spliced audio, got %d bytes", len(got))
	}
	if err := screen.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := system.Tap(); err != ErrStreamStopped {
		t.Fatalf("expected spliced stream stopped, got %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	if got := DefaultFormat.Duration(int64(DefaultFormat.BytesPerSecond()) * 3); got != 3*time.Second {
		t.Fatalf("unexpected duration %s", got)
	}
	if got := (Format{}).Duration(100); got != 0 {
		t.Fatalf("expected zero duration for empty format, got %s", got)
	}
}
