// Package stream defines the shared next_event contract (spec §5/§7) used
// by both the live ring-buffer reader (internal/ringreader) and the
// external file source (internal/filesource): a tri-variant outcome of
// Event, Eof (file sources only), or Timeout.
package stream

import "github.com/kubearch/retisgo/internal/event"

// Outcome discriminates the result of a next_event call.
type Outcome int

const (
	// OutcomeEvent carries a decoded event.
	OutcomeEvent Outcome = iota
	// OutcomeEof means the source is exhausted. Live sources never
	// return this.
	OutcomeEof
	// OutcomeTimeout means no event arrived within the supplied deadline.
	// Callers treat it as "keep going".
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEvent:
		return "event"
	case OutcomeEof:
		return "eof"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result is the full next_event return value.
type Result struct {
	Outcome Outcome
	Event   *event.Event
}
