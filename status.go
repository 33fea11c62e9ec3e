package canfw

// Status is the outcome of a data path operation.
type Status uint8

const (
	Ok Status = iota
	// Empty means there was nothing to receive.
	Empty
	// Full means there was no room to transmit or queue.
	Full
	Error
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "OK"
	case Empty:
		return "EMPTY"
	case Full:
		return "FULL"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
