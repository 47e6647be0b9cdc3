package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"autorec/internal/services"
)

type stubBackend struct {
	mic       func() (*Stream, error)
	screen    func(Source) (*Stream, error)
	system    func() (*Stream, error)
	screenReq []Source
}

func (b *stubBackend) OpenMicrophone(context.Context, Constraints) (*Stream, error) {
	if b.mic == nil {
		return nil, errors.New("no microphone")
	}
	return b.mic()
}

func (b *stubBackend) OpenScreen(_ context.Context, src Source, _ Constraints) (*Stream, error) {
	b.screenReq = append(b.screenReq, src)
	if b.screen == nil {
		return NewStream(Screen, src.ID, src.Name, DefaultFormat, nil, NewTrack(src.ID+"/video", TrackVideo, src.Name)), nil
	}
	return b.screen(src)
}

func (b *stubBackend) OpenSystemAudio(context.Context, Constraints) (*Stream, error) {
	if b.system == nil {
		return nil, newAcquisitionError(Unsupported, Screen, "no system audio", nil)
	}
	return b.system()
}

type stubLister struct {
	sources []Source
	err     error
}

func (l stubLister) ListSources(context.Context) ([]Source, error) { return l.sources, l.err }

type stubPrompter struct {
	choice    *Source
	confirm   bool
	questions []string
}

func (p *stubPrompter) SelectSource(_ context.Context, sources []Source) (Source, error) {
	if p.choice == nil {
		return Source{}, ErrCancelled
	}
	return *p.choice, nil
}

func (p *stubPrompter) Confirm(_ context.Context, question string) (bool, error) {
	p.questions = append(p.questions, question)
	return p.confirm, nil
}

type stubSidecar struct {
	started int
	stopped int
	err     error
}

func (s *stubSidecar) Start(context.Context, Format) (SidecarInfo, error) {
	if s.err != nil {
		return SidecarInfo{}, s.err
	}
	s.started++
	return SidecarInfo{PID: 42, Path: "/tmp/system_audio.wav", StartedAt: time.Now()}, nil
}

func (s *stubSidecar) Stop(context.Context) (SidecarInfo, error) {
	s.stopped++
	return SidecarInfo{PID: 42, Path: "/tmp/system_audio.wav"}, nil
}

func pcmStream(kind Kind) *Stream {
	return NewStream(kind, "dev", kind.String(), DefaultFormat, io.NopCloser(bytes.NewReader(make([]byte, 64))))
}

var windows = []Source{
	{ID: "screen:0", Name: "Entire screen", Kind: SourceScreen},
	{ID: "window:0x1", Name: "Meeting", Kind: SourceWindow},
}

func TestAcquireMicrophone(t *testing.T) {
	adapter := NewAdapter(&stubBackend{mic: func() (*Stream, error) { return pcmStream(Microphone), nil }})
	stream, err := adapter.Acquire(context.Background(), Request{Kind: Microphone, Constraints: MicrophoneConstraints(true, true)})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Stop()
	if !stream.HasAudio() || stream.Kind() != Microphone {
		t.Fatalf("unexpected stream %s/%v", stream.Kind(), stream.HasAudio())
	}
}

func TestAcquireClassifiesBackendErrors(t *testing.T) {
	adapter := NewAdapter(&stubBackend{mic: func() (*Stream, error) {
		return nil, newAcquisitionError(PermissionDenied, Microphone, "denied", nil)
	}})
	_, err := adapter.Acquire(context.Background(), Request{Kind: Microphone})
	if !IsKind(err, PermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration marker, got %v", err)
	}

	adapter = NewAdapter(&stubBackend{})
	_, err = adapter.Acquire(context.Background(), Request{Kind: Microphone})
	if !IsKind(err, Unsupported) {
		t.Fatalf("expected unknown failures to classify as unsupported, got %v", err)
	}
}

func TestAcquireScreenPreselectedMissing(t *testing.T) {
	adapter := NewAdapter(&stubBackend{}, WithLister(stubLister{sources: windows}))
	_, err := adapter.Acquire(context.Background(), Request{Kind: Screen, SourceID: "window:0x9"})
	if !IsKind(err, DeviceNotFound) {
		t.Fatalf("expected device not found, got %v", err)
	}
}

func TestAcquireScreenPickerDismissed(t *testing.T) {
	adapter := NewAdapter(&stubBackend{}, WithLister(stubLister{sources: windows}), WithPrompter(&stubPrompter{}))
	_, err := adapter.Acquire(context.Background(), Request{Kind: Screen})
	if !IsKind(err, UserCancelled) {
		t.Fatalf("expected user cancelled, got %v", err)
	}
}

func TestAcquireScreenWithoutAudioDeclined(t *testing.T) {
	prompter := &stubPrompter{choice: &windows[1], confirm: false}
	backend := &stubBackend{}
	adapter := NewAdapter(backend, WithLister(stubLister{sources: windows}), WithPrompter(prompter))

	_, err := adapter.Acquire(context.Background(), Request{Kind: Screen})
	if !IsKind(err, UserCancelled) {
		t.Fatalf("expected user cancelled, got %v", err)
	}
	if len(prompter.questions) != 1 || prompter.questions[0] != NoAudioQuestion {
		t.Fatalf("expected no-audio confirmation, got %v", prompter.questions)
	}
	if len(backend.screenReq) != 1 || backend.screenReq[0].ID != "window:0x1" {
		t.Fatalf("expected chosen window opened, got %+v", backend.screenReq)
	}
}

func TestAcquireScreenWithoutAudioAccepted(t *testing.T) {
	prompter := &stubPrompter{choice: &windows[0], confirm: true}
	adapter := NewAdapter(&stubBackend{}, WithLister(stubLister{sources: windows}), WithPrompter(prompter))

	stream, err := adapter.Acquire(context.Background(), Request{Kind: Screen})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Stop()
	if stream.HasAudio() {
		t.Fatal("expected video-only stream")
	}
}

func TestAcquireScreenSplicesSystemAudio(t *testing.T) {
	backend := &stubBackend{system: func() (*Stream, error) { return pcmStream(Screen), nil }}
	prompter := &stubPrompter{}
	adapter := NewAdapter(backend, WithLister(stubLister{sources: windows}), WithPrompter(prompter))

	stream, err := adapter.Acquire(context.Background(), Request{Kind: Screen, SourceID: "window:0x1"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Stop()
	if !stream.HasAudio() || len(stream.VideoTracks()) != 1 {
		t.Fatal("expected system audio spliced onto screen stream")
	}
	if len(prompter.questions) != 0 {
		t.Fatal("no confirmation expected when audio was found")
	}
}

func TestAcquireScreenFallsBackToSidecar(t *testing.T) {
	sidecar := &stubSidecar{}
	adapter := NewAdapter(&stubBackend{}, WithLister(stubLister{sources: windows}), WithSidecar(sidecar))

	stream, err := adapter.Acquire(context.Background(), Request{Kind: Screen, SourceID: "screen:0"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !stream.HasAudio() {
		t.Fatal("expected sidecar placeholder audio")
	}
	info, ok := adapter.Sidecar()
	if !ok || info.PID != 42 {
		t.Fatalf("expected running sidecar, got %+v ok=%v", info, ok)
	}
	_ = stream.Stop()

	stopped, err := adapter.StopSidecar(context.Background())
	if err != nil {
		t.Fatalf("StopSidecar: %v", err)
	}
	if stopped.Path != "/tmp/system_audio.wav" || sidecar.stopped != 1 {
		t.Fatalf("unexpected sidecar stop %+v (stops=%d)", stopped, sidecar.stopped)
	}
	if _, ok := adapter.Sidecar(); ok {
		t.Fatal("expected sidecar cleared")
	}
	if _, err := adapter.StopSidecar(context.Background()); err != nil || sidecar.stopped != 1 {
		t.Fatal("expected second stop to be a no-op")
	}
}

func TestSubscribeReceivesDeviceLoss(t *testing.T) {
	pr, _ := io.Pipe()
	adapter := NewAdapter(&stubBackend{mic: func() (*Stream, error) {
		return NewStream(Microphone, "default", "microphone", DefaultFormat, pr), nil
	}})
	events, cancel := adapter.Subscribe()
	defer cancel()

	stream, err := adapter.Acquire(context.Background(), Request{Kind: Microphone})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Stop()

	adapter.EndDevice(Screen, "ignored")
	adapter.EndDevice(Microphone, "unplugged")

	select {
	case ev := <-events:
		if ev.Kind != Microphone || ev.StreamID != stream.ID() || ev.Reason != "unplugged" || ev.TrackKind != TrackAudio {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected liveness event")
	}
	if stream.Live() {
		t.Fatal("expected microphone track ended")
	}
}

func TestRemediationDependsOnSource(t *testing.T) {
	mic := newAcquisitionError(PermissionDenied, Microphone, "", nil)
	screen := newAcquisitionError(PermissionDenied, Screen, "", nil)
	if mic.Remediation() == screen.Remediation() {
		t.Fatal("expected distinct remediation per source")
	}
	if !errors.Is(newAcquisitionError(DeviceNotFound, Microphone, "", nil), services.ErrNotFound) {
		t.Fatal("expected device not found to map to not found marker")
	}
	for _, kind := range []ErrorKind{PermissionDenied, DeviceNotFound, Unsupported, UserCancelled} {
		if newAcquisitionError(kind, Screen, "", nil).Remediation() == "" {
			t.Fatalf("missing remediation for %s", kind)
		}
	}
}
