package workflow

import (
	"context"
	"errors"
	"fmt"

	"autorec/internal/capture"
	"autorec/internal/history"
	"autorec/internal/logging"
	"autorec/internal/notifications"
	"autorec/internal/recorder"
	"autorec/internal/services"
)

// Start begins a recording session and its background loops.
func (m *Manager) Start(ctx context.Context, opts StartOptions) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return services.Wrap(services.ErrValidation, "workflow", "start", "manager is closed", nil)
	case m.active != nil || m.starting:
		m.mu.Unlock()
		return &recorder.StateError{Op: "start", From: m.session.State(), Err: recorder.ErrAlreadyRecording}
	}
	m.starting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	if opts.Mode == "" {
		opts.Mode = recorder.Mode(m.cfg.Recording.Mode)
	}
	if opts.Sources == "" {
		opts.Sources = recorder.Sources(m.cfg.Recording.Sources)
	}

	if err := m.lock.acquire(); err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "start", "session lock unavailable", err)
	}

	err := m.session.Start(ctx, recorder.Options{
		Mode:            opts.Mode,
		Sources:         opts.Sources,
		SourceID:        opts.SourceID,
		Microphone:      capture.MicrophoneConstraints(m.cfg.Capture.EchoCancellation, m.cfg.Capture.NoiseSuppression),
		MicrophoneGain:  m.cfg.Recording.MicrophoneGain,
		CounterpartGain: m.cfg.Recording.CounterpartGain,
	})
	if err != nil {
		if releaseErr := m.lock.release(); releaseErr != nil {
			m.logger.Warn("failed to release session lock", logging.Error(releaseErr))
		}
		if !capture.IsKind(err, capture.UserCancelled) {
			m.notifyError(ctx, "recording start", err)
		}
		return err
	}

	base := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(base)
	a := &activeSession{
		id:     m.session.SessionID(),
		mode:   m.session.Mode(),
		base:   base,
		ctx:    loopCtx,
		cancel: cancel,
	}
	a.events, a.unsubscribe = m.capture.Subscribe()
	if sourceID := m.session.CounterpartSourceID(); sourceID != "" && m.monitor != nil {
		watch, err := m.monitor.Watch(loopCtx, sourceID)
		if err != nil {
			logging.WarnWithContext(m.logger, "source monitor unavailable", "monitor_unavailable",
				logging.String(logging.FieldSessionID, a.id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "a closed window is only noticed when its audio ends"),
			)
		} else {
			a.watch = watch
		}
	}

	m.mu.Lock()
	m.active = a
	m.lastLevels = nil
	m.mu.Unlock()

	m.metrics.SessionStarted(string(a.mode))
	m.startLoops(a)
	return nil
}

// Pause suspends chunk accumulation.
func (m *Manager) Pause() error { return m.session.Pause() }

// Resume continues a paused session.
func (m *Manager) Resume() error { return m.session.Resume() }

// Stop ends the active session at the user's request, runs the pipeline and
// reports what happened. Stop while idle returns (nil, nil). A Stop that
// races an in-flight finalization waits for it and returns (nil, nil).
func (m *Manager) Stop(ctx context.Context) (*Outcome, error) {
	return m.stopSession(ctx, TriggerUser, nil)
}

// stopSession finalizes the active session. A non-nil expect restricts it
// to that session so a stale loop cannot stop a newer recording.
func (m *Manager) stopSession(ctx context.Context, trigger Trigger, expect *activeSession) (*Outcome, error) {
	a, done, inflight := m.claim(expect)
	if inflight != nil {
		select {
		case <-inflight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil
	}
	if a == nil {
		return nil, nil
	}
	defer func() {
		m.mu.Lock()
		m.finalizing = nil
		m.mu.Unlock()
		close(done)
	}()

	a.cancel()
	if a.watch != nil {
		a.watch.Stop()
	}
	a.unsubscribe()
	a.loops.Wait()

	logger := m.logger.With(logging.String(logging.FieldSessionID, a.id))
	ctx = services.WithSessionID(ctx, a.id)
	outcome := &Outcome{SessionID: a.id, Trigger: trigger}

	result, err := m.session.Stop(ctx)
	if releaseErr := m.lock.release(); releaseErr != nil {
		logger.Warn("failed to release session lock", logging.Error(releaseErr))
	}
	m.resetLevels()

	var tooShort *recorder.ArtifactTooSmallError
	switch {
	case errors.As(err, &tooShort):
		outcome.TooShort = true
		outcome.Duration = tooShort.Duration
		logger.Info("recording discarded",
			logging.String("trigger", string(trigger)),
			logging.Duration("duration", tooShort.Duration),
			logging.Duration("minimum", tooShort.Minimum),
		)
		m.finish(outcome, "too_short")
		return outcome, nil
	case err != nil:
		outcome.Err = err
		m.notifyError(ctx, "recording stop", err)
		m.finish(outcome, "failed")
		return outcome, err
	case result == nil:
		m.finish(outcome, "failed")
		return outcome, nil
	}
	outcome.Result = result
	outcome.Duration = result.Duration

	if m.pipeline == nil {
		if err := result.DiscardSidecar(); err != nil {
			logger.Warn("failed to remove sidecar audio", logging.Error(err))
		}
		m.finish(outcome, "recorded")
		return outcome, nil
	}
	processed, err := m.pipeline.Process(ctx, result)
	outcome.Pipeline = processed
	if err != nil {
		outcome.Err = err
		m.notifyError(ctx, "saving recording", err)
		m.finish(outcome, "failed")
		return outcome, err
	}
	m.metrics.HistoryEvicted(processed.Evicted)
	m.notifySaved(ctx, outcome)
	m.finish(outcome, "saved")
	return outcome, nil
}

// claim detaches the active session for finalization. Exactly one caller
// gets the session; concurrent callers get the in-flight channel.
func (m *Manager) claim(expect *activeSession) (*activeSession, chan struct{}, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expect != nil && m.active != expect {
		return nil, nil, nil
	}
	if m.finalizing != nil {
		return nil, nil, m.finalizing
	}
	if m.active == nil {
		return nil, nil, nil
	}
	a := m.active
	m.active = nil
	done := make(chan struct{})
	m.finalizing = done
	return a, done, nil
}

func (m *Manager) finish(outcome *Outcome, label string) {
	m.metrics.SessionFinished(label, outcome.Duration)
	m.mu.Lock()
	m.lastOutcome = outcome
	m.mu.Unlock()
	if m.onFinished != nil {
		m.onFinished(outcome)
	}
}

func (m *Manager) notifySaved(ctx context.Context, outcome *Outcome) {
	entry := outcome.Pipeline.Entry
	if entry == nil {
		return
	}
	payload := notifications.Payload{
		"duration":   history.FormatDuration(entry.Duration()),
		"separate":   entry.IsSeparateRecording,
		"summarized": entry.Summary != "",
	}
	if entry.ErrorMessage != "" {
		payload["error"] = entry.ErrorMessage
	}
	if err := m.notifier.Publish(ctx, notifications.EventRecordingSaved, payload); err != nil {
		m.logger.Debug("saved notification failed", logging.Error(err))
	}
}

func (m *Manager) notifyError(ctx context.Context, label string, err error) {
	payload := notifications.Payload{"context": label, "error": err}
	if notifyErr := m.notifier.Publish(ctx, notifications.EventError, payload); notifyErr != nil {
		m.logger.Debug("error notification failed", logging.Error(notifyErr))
	}
}

func (m *Manager) notifySourceLost(ctx context.Context, source, action string) {
	payload := notifications.Payload{"source": source, "action": action}
	if err := m.notifier.Publish(ctx, notifications.EventSourceLost, payload); err != nil {
		m.logger.Debug("source lost notification failed", logging.Error(err))
	}
}

func describeTrigger(trigger Trigger) string {
	switch trigger {
	case TriggerSourceLost:
		return "shared source closed"
	case TriggerDeviceLost:
		return "microphone disconnected"
	case TriggerShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("stopped by %s", trigger)
	}
}
