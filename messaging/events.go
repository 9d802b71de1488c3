package messaging

// EventType classifies a change notification.
type EventType uint8

const (
	// EventCreated fires when a message enters the collection.
	EventCreated EventType = iota
	// EventStatusChanged fires on every legal status transition.
	EventStatusChanged
	// EventProgressChanged fires when an upload percentage updates.
	EventProgressChanged
	// EventReacted fires when a reaction toggles.
	EventReacted
	// EventDeleted fires when a message leaves the collection, whether
	// deleted explicitly or evicted by the retention cap.
	EventDeleted
	// EventUnreadChanged fires when the unread counter moves.
	EventUnreadChanged
)

// Event describes one applied mutation. Events are delivered to
// subscribers in exactly the order the mutations were applied.
type Event struct {
	Type      EventType
	MessageID string
	Status    Status
	Progress  int
	Unread    int
}

// SubscriberID identifies a registered subscriber for removal.
type SubscriberID uint64

// Subscriber receives change events. Callbacks run outside the manager's
// collection lock, so a subscriber may call back into the manager.
type Subscriber func(Event)

// Subscribe registers a change subscriber and returns its removal handle.
func (m *Manager) Subscribe(fn Subscriber) SubscriberID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubscriber++
	id := m.nextSubscriber
	m.subscribers[id] = fn
	return id
}

// Unsubscribe removes a subscriber. Unknown ids are a no-op.
func (m *Manager) Unsubscribe(id SubscriberID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

// queueEvent records an event while the collection lock is held. The
// caller must flush after releasing the lock.
func (m *Manager) queueEvent(ev Event) {
	m.pendingEvents = append(m.pendingEvents, ev)
}

// flushEvents delivers queued events in order. A dedicated delivery lock
// (not the collection lock) keeps emission serialized and in mutation
// order while letting subscribers re-enter the manager: a re-entrant or
// concurrent flush finds the lock taken and leaves its events to the
// active drainer, which re-checks the queue after releasing the lock so
// an event queued during the handoff window is delivered immediately.
func (m *Manager) flushEvents() {
	for {
		if !m.emitMu.TryLock() {
			return
		}
		m.drainEvents()
		m.emitMu.Unlock()

		// An event queued between the drain's final empty check and the
		// unlock lost its own flush to our lock; pick it up now.
		m.mu.Lock()
		pending := len(m.pendingEvents) > 0
		m.mu.Unlock()
		if !pending {
			return
		}
	}
}

func (m *Manager) drainEvents() {
	for {
		m.mu.Lock()
		if len(m.pendingEvents) == 0 {
			m.mu.Unlock()
			return
		}
		events := m.pendingEvents
		m.pendingEvents = nil
		subscribers := make([]Subscriber, 0, len(m.subscribers))
		for _, fn := range m.subscribers {
			subscribers = append(subscribers, fn)
		}
		m.mu.Unlock()

		for _, ev := range events {
			for _, fn := range subscribers {
				fn(ev)
			}
		}
	}
}
