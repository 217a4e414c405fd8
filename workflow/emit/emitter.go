package emit

// Emitter receives lifecycle events from the workflow engine.
//
// Implementations should be:
//   - Non-blocking: Emit runs inline with step execution
//   - Thread-safe: runs execute in parallel
//   - Resilient: a failing backend must not fail the run
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans events out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter returns an emitter forwarding to every non-nil emitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards the event to each wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
