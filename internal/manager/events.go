package manager

// Event represents a pool or instance lifecycle event.
// Minimal and stable: name + project root and optional fields via key/values.
type Event struct {
	Name        string
	ProjectRoot string
	Fields      map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
