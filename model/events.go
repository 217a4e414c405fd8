package model

// EventStream is the iterator shape of the SDKs' server-sent-event streams.
type EventStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// NewEventTextStream adapts an SDK event stream to a TextStream. text
// extracts the delta from an event; events without text are skipped.
func NewEventTextStream[T any](events EventStream[T], text func(T) string) TextStream {
	return &eventTextStream[T]{events: events, text: text}
}

type eventTextStream[T any] struct {
	events  EventStream[T]
	text    func(T) string
	current string
}

func (s *eventTextStream[T]) Next() bool {
	for s.events.Next() {
		if t := s.text(s.events.Current()); t != "" {
			s.current = t
			return true
		}
	}
	s.current = ""
	return false
}

func (s *eventTextStream[T]) Text() string { return s.current }

func (s *eventTextStream[T]) Err() error { return s.events.Err() }

func (s *eventTextStream[T]) Close() error { return s.events.Close() }
