package session

import "context"

// Ingest lifecycle notifications, driven by the upstream media server's
// webhooks. Callers identify the session by its stream key, never by name,
// so a misbehaving publisher cannot poke another session.

// IngestStarted marks the session's source as live.
func (m *Manager) IngestStarted(ctx context.Context, streamKey string) bool {
	act, ok := m.lookupActorByKey(streamKey)
	if !ok {
		return false
	}
	act.post(func() {
		if act.model.State.Terminal() {
			return
		}
		act.model.IngestActive = true
		act.logger().Info("ingest started")
	})
	return true
}

// IngestStopped marks the source as gone and tears the session down. The
// upstream can retry the webhook; stopping twice is harmless.
func (m *Manager) IngestStopped(ctx context.Context, streamKey string) bool {
	name, ok := m.lookupByKey(streamKey)
	if !ok {
		return false
	}
	if act, found := m.lookup(name); found {
		act.post(func() { act.model.IngestActive = false })
	}
	if _, err := m.Stop(ctx, name); err != nil {
		m.logger.Warn("ingest-stopped teardown failed", "session", name, "error", err)
	}
	return true
}

// ViewerJoined bumps the session's viewer count.
func (m *Manager) ViewerJoined(ctx context.Context, streamKey string) bool {
	act, ok := m.lookupActorByKey(streamKey)
	if !ok {
		return false
	}
	act.post(func() { act.model.Viewers++ })
	return true
}

// ViewerLeft decrements the viewer count, never below zero.
func (m *Manager) ViewerLeft(ctx context.Context, streamKey string) bool {
	act, ok := m.lookupActorByKey(streamKey)
	if !ok {
		return false
	}
	act.post(func() {
		if act.model.Viewers > 0 {
			act.model.Viewers--
		}
	})
	return true
}

func (m *Manager) lookupActorByKey(streamKey string) (*actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.byKey[streamKey]
	if !ok {
		return nil, false
	}
	act, ok := m.actors[name]
	return act, ok
}
