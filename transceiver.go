package canfw

// FIFO selects one of the peripheral's receive queues.
type FIFO uint8

const (
	FIFO0 FIFO = iota
	FIFO1
)

// Transceiver is the contract every peripheral driver fulfils. The
// configuration calls return an error; Send and Receive return a Status
// and never block.
type Transceiver interface {
	// Init enters initialization mode, routes the pins and programs bit
	// timing. extended sizes the filter set where the peripheral keeps
	// separate standard and extended elements.
	Init(rate BaudRate, extended bool) error
	Start() error
	Stop() error
	// FilterAll accepts every identifier.
	FilterAll() error
	// FilterList accepts exactly ids. An empty list or one that exceeds
	// the filter capacity falls back to FilterAll.
	FilterList(ids []uint32, extended bool) error
	// Send hands a frame to the first free hardware transmit slot.
	Send(f Frame) Status
	// Receive pops the oldest frame from fifo into f.
	Receive(fifo FIFO, f *Frame) Status
	EnableTxInterrupt()
	DisableTxInterrupt()
}

// InterruptAcker is implemented by transceivers whose interrupt flags
// have to be cleared by the handler before it returns.
type InterruptAcker interface {
	AckTxInterrupt()
	AckRxInterrupt()
}
