package workflow

import (
	"time"

	"autorec/internal/capture"
	"autorec/internal/logging"
	"autorec/internal/mixer"
	"autorec/internal/recorder"
)

func (m *Manager) startLoops(a *activeSession) {
	if a.watch != nil {
		a.loops.Add(1)
		go m.watchLoop(a)
	}
	a.loops.Add(2)
	go m.livenessLoop(a)
	go m.levelLoop(a)
}

func (m *Manager) watchLoop(a *activeSession) {
	defer a.loops.Done()
	select {
	case <-a.ctx.Done():
	case event, ok := <-a.watch.Signal():
		if ok {
			m.handleSourceLost(a, event.SourceID, event.Reason)
		}
	}
}

func (m *Manager) livenessLoop(a *activeSession) {
	defer a.loops.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case event, ok := <-a.events:
			if !ok {
				return
			}
			m.handleLiveness(a, event)
		}
	}
}

func (m *Manager) handleLiveness(a *activeSession, event capture.LivenessEvent) {
	if event.TrackKind != capture.TrackAudio {
		return
	}
	role, ok := m.session.StreamRole(event.StreamID)
	if !ok || m.session.SessionID() != a.id {
		return
	}
	switch role {
	case recorder.RoleMicrophone:
		if !a.micLost.CompareAndSwap(false, true) {
			return
		}
		logging.WarnWithContext(m.logger, "microphone lost; stopping recording", "microphone_lost",
			logging.String(logging.FieldSessionID, a.id),
			logging.String("reason", event.Reason),
			logging.String(logging.FieldImpact, "audio recorded so far is saved"),
		)
		m.metrics.SourceLost("stopped")
		m.notifySourceLost(a.base, "microphone", "recording stopped")
		m.stopDetached(a, TriggerDeviceLost)
	case recorder.RoleCounterpart:
		m.handleSourceLost(a, m.session.CounterpartSourceID(), event.Reason)
	}
}

// handleSourceLost reacts to the shared source going away. A separate-mode
// session keeps recording the microphone; anything else is stopped and
// saved.
func (m *Manager) handleSourceLost(a *activeSession, sourceID, reason string) {
	if !a.sourceLost.CompareAndSwap(false, true) {
		return
	}
	logger := m.logger.With(logging.String(logging.FieldSessionID, a.id))
	source := sourceID
	if source == "" {
		source = "shared source"
	}

	if a.mode == recorder.ModeSeparate {
		if err := m.session.DropCounterpart(a.base, reason); err != nil {
			logger.Warn("failed to drop counterpart", logging.Error(err))
		}
		if state, ok := m.session.SubRecorderState(recorder.RoleMicrophone); ok && state != recorder.SubStopped {
			m.metrics.SourceLost("microphone_only")
			m.notifySourceLost(a.base, source, "continuing with microphone only")
			return
		}
		logger.Info("microphone no longer recording; stopping")
	}

	logging.WarnWithContext(logger, "shared source lost; stopping recording", "source_lost",
		logging.String("source", source),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "audio recorded so far is saved"),
	)
	m.metrics.SourceLost("stopped")
	m.notifySourceLost(a.base, source, "recording stopped")
	m.stopDetached(a, TriggerSourceLost)
}

// stopDetached finalizes a from outside its own loops. It never blocks the
// caller, which may be one of the loops stop waits for.
func (m *Manager) stopDetached(a *activeSession, trigger Trigger) {
	go func() {
		if _, err := m.stopSession(a.base, trigger, a); err != nil {
			logging.ErrorWithContext(m.logger, "automatic stop failed", "auto_stop_failed",
				logging.String(logging.FieldSessionID, a.id),
				logging.String("trigger", describeTrigger(trigger)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run 'autorec recover' if spooling was enabled"),
			)
		}
	}()
}

func (m *Manager) levelLoop(a *activeSession) {
	defer a.loops.Done()
	interval := m.cfg.LevelSampleInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			m.sampleLevels(a)
		}
	}
}

func (m *Manager) sampleLevels(a *activeSession) {
	levels := m.session.Levels()
	if len(levels) == 0 {
		return
	}
	attrs := make([]logging.Attr, 0, len(levels)+1)
	attrs = append(attrs, logging.String(logging.FieldSessionID, a.id))
	for role, level := range levels {
		m.metrics.ObserveLevel(string(role), level.DBFS)
		attrs = append(attrs, logging.Float64(string(role)+"_dbfs", level.DBFS))
	}
	m.logger.Debug("input levels", logging.Args(attrs...)...)

	m.mu.Lock()
	m.lastLevels = levels
	m.mu.Unlock()
	if m.onLevels != nil {
		m.onLevels(levels)
	}
}

func (m *Manager) resetLevels() {
	m.mu.Lock()
	m.lastLevels = map[mixer.Role]mixer.Level{}
	m.mu.Unlock()
}
