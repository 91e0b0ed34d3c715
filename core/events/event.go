package events

// Event is a structured state change raised by an engine, identified by its
// dotted type string.
type Event interface {
	EventType() string
}

// Emitter receives engine events. Implementations include the metrics
// recorder and test capture sinks; engines treat a nil emitter as a no-op.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(evt Event) { f(evt) }

// NoopEmitter discards every event. It backs optional emitter wiring.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}
