package canfw

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterEvents(t *testing.T) {
	var got []EventType
	fn := FilterEvents(EventTypeWarning, func(e Event) { got = append(got, e.Type) })
	for _, et := range []EventType{EventTypeDebug, EventTypeError, EventTypeInfo, EventTypeWarning} {
		fn(Event{Type: et})
	}
	require.Equal(t, []EventType{EventTypeError, EventTypeWarning}, got)
	require.Equal(t, "[WARN] dropped (id 0x7FF)", Event{Type: EventTypeWarning, Details: "dropped", ID: 0x7FF}.String())
}
