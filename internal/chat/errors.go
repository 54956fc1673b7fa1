package chat

import "errors"

// Kind classifies a transport failure by the operation it interrupted.
// Nothing in this package panics across the boundary; the presentation
// layer decides what to do with each kind (inline retry, stale badge,
// fall back to manual refresh).
type Kind string

const (
	// KindRead: history load or aggregator query failed. Previously
	// loaded data stays in place.
	KindRead Kind = "read"
	// KindSend: optimistic message was rolled back.
	KindSend Kind = "send"
	// KindMarkRead: non-fatal; the badge may stay stale until the next
	// aggregator refresh.
	KindMarkRead Kind = "mark_read"
	// KindSubscribe: standing condition; the conversation works in
	// manual-refresh mode until re-subscribed via Load.
	KindSubscribe Kind = "subscribe"
)

// Error wraps a transport error with the operation class it interrupted.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrapErr(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// IsKind reports whether err is a chat error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}
