package canfw

import "fmt"

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

// Event is raised by a Channel for conditions the data path can only
// report through a Status, such as a dropped frame.
type Event struct {
	Type    EventType
	Details string
	ID      uint32
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s (id 0x%X)", e.Type.String(), e.Details, e.ID)
}

// FilterEvents returns a handler passing fn the events at least as severe
// as level. EventTypeError is the most severe.
func FilterEvents(level EventType, fn func(Event)) func(Event) {
	return func(e Event) {
		if e.Type <= level {
			fn(e)
		}
	}
}
