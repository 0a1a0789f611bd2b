package pkgmgr

import "go.uber.org/zap"

// EventHandler handles package manager events.
// Handlers run after the operation that produced the event has released
// its lock, so they may call back into the Manager. Panics are recovered.
type EventHandler func(event Event)

// Event is a package manager event.
type Event struct {
	Type    EventType
	Package string
	Version string
	Err     error
}

// EventType is the type of manager event.
type EventType int

const (
	// EventInstalled is emitted when a package is installed or upgraded.
	EventInstalled EventType = iota
	// EventUninstalled is emitted when a package is removed.
	EventUninstalled
	// EventActivated is emitted when a package becomes active.
	EventActivated
	// EventDeactivated is emitted when an active package is torn down.
	EventDeactivated
	// EventError is emitted when a package fails to activate or deactivate.
	EventError
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventInstalled:
		return "installed"
	case EventUninstalled:
		return "uninstalled"
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.subMu.Lock()
	m.handlers = append(m.handlers, handler)
	index := len(m.handlers) - 1
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		// Nil the slot so later indexes stay valid.
		if index < len(m.handlers) {
			m.handlers[index] = nil
		}
	}
}

// queue records an event to emit once the current operation unlocks.
// Must be called with opMu held.
func (m *Manager) queue(ev Event) {
	m.queued = append(m.queued, ev)
}

// unlock releases opMu and delivers the events queued while it was held.
func (m *Manager) unlock() {
	events := m.queued
	m.queued = nil
	m.opMu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}
}

func (m *Manager) emit(ev Event) {
	m.subMu.RLock()
	handlers := make([]EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.subMu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("event handler panicked", zap.Any("panic", r), zap.Stringer("event", ev.Type))
				}
			}()
			handler(ev)
		}()
	}
}
