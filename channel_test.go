package canfw

import (
	"errors"
	"sync"
	"testing"

	"github.com/roffe/canfw/pkg/irq"
	"github.com/roffe/canfw/pkg/rtc"
	"github.com/stretchr/testify/require"
)

type fakeTransceiver struct {
	mu sync.Mutex

	initErr, filterErr, startErr error

	rate      BaudRate
	extended  bool
	filterAll bool
	filterIDs []uint32
	started   bool

	busy   bool
	sent   []Frame
	rx     []Frame
	rxFIFO []FIFO
	txIRQ  bool
}

func (f *fakeTransceiver) Init(rate BaudRate, extended bool) error {
	f.rate, f.extended = rate, extended
	return f.initErr
}

func (f *fakeTransceiver) Start() error {
	f.started = f.startErr == nil
	return f.startErr
}

func (f *fakeTransceiver) Stop() error {
	f.started = false
	return nil
}

func (f *fakeTransceiver) FilterAll() error {
	f.filterAll = true
	return f.filterErr
}

func (f *fakeTransceiver) FilterList(ids []uint32, extended bool) error {
	f.filterIDs = append([]uint32(nil), ids...)
	return f.filterErr
}

func (f *fakeTransceiver) Send(fr Frame) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return Error
	}
	f.sent = append(f.sent, fr)
	return Ok
}

func (f *fakeTransceiver) Receive(fifo FIFO, fr *Frame) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rxFIFO = append(f.rxFIFO, fifo)
	if len(f.rx) == 0 {
		return Empty
	}
	*fr = f.rx[0]
	f.rx = f.rx[1:]
	return Ok
}

func (f *fakeTransceiver) EnableTxInterrupt() {
	f.txIRQ = true
}

func (f *fakeTransceiver) DisableTxInterrupt() {
	f.txIRQ = false
}

func (f *fakeTransceiver) setBusy(b bool) {
	f.mu.Lock()
	f.busy = b
	f.mu.Unlock()
}

func openChannel(t *testing.T, dev *fakeTransceiver, opts ...Option) *Channel {
	t.Helper()
	c := NewChannel(dev, opts...)
	require.NoError(t, c.Open(BaudRate500, false, nil))
	require.Equal(t, StateRunning, c.State())
	return c
}

type fixedClock rtc.TimePoint

func (c fixedClock) Now() rtc.TimePoint {
	return rtc.TimePoint(c)
}

func TestChannelLifecycle(t *testing.T) {
	dev := &fakeTransceiver{}
	c := NewChannel(dev)
	require.Equal(t, StateUninitialized, c.State())
	require.ErrorIs(t, c.Start(), ErrInvalidState)
	require.Equal(t, Error, c.Send(NewFrame(1, nil, false)))

	require.NoError(t, c.Init(BaudRate250, true, []uint32{0x10, 0x20}))
	require.Equal(t, StateFilterConfigured, c.State())
	require.Equal(t, BaudRate250, dev.rate)
	require.True(t, dev.extended)
	require.Equal(t, []uint32{0x10, 0x20}, dev.filterIDs)
	require.False(t, dev.filterAll)
	require.ErrorIs(t, c.Init(BaudRate250, true, nil), ErrInvalidState)

	require.NoError(t, c.Start())
	require.True(t, dev.started)
	require.Equal(t, StateRunning, c.State())
}

func TestChannelEmptyIDsFilterAll(t *testing.T) {
	dev := &fakeTransceiver{}
	openChannel(t, dev)
	require.True(t, dev.filterAll)
	require.Nil(t, dev.filterIDs)
}

func TestChannelInitFailureIsPermanent(t *testing.T) {
	boom := errors.New("no ack")
	tests := []struct {
		name string
		dev  *fakeTransceiver
	}{
		{"init", &fakeTransceiver{initErr: boom}},
		{"filter", &fakeTransceiver{filterErr: boom}},
		{"start", &fakeTransceiver{startErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []Event
			c := NewChannel(tt.dev, WithEventHandler(func(e Event) { events = append(events, e) }))
			err := c.Open(BaudRate500, false, nil)
			require.ErrorIs(t, err, boom)
			require.ErrorIs(t, err, ErrChannelFailed)
			require.Equal(t, StateFailed, c.State())
			require.Len(t, events, 1)
			require.Equal(t, EventTypeError, events[0].Type)

			require.ErrorIs(t, c.Init(BaudRate500, false, nil), ErrInvalidState)
			require.Equal(t, Error, c.Send(NewFrame(1, nil, false)))
		})
	}
}

func TestChannelSendDirect(t *testing.T) {
	dev := &fakeTransceiver{}
	c := openChannel(t, dev)
	f := NewFrame(0x321, []byte{1}, false)
	require.Equal(t, Ok, c.Send(f))
	require.Equal(t, []Frame{f}, dev.sent)
	require.False(t, dev.txIRQ)
	require.Zero(t, c.Pending())
	require.EqualValues(t, 1, c.Stats().Sent)
}

func TestChannelSendQueuesAndDrains(t *testing.T) {
	dev := &fakeTransceiver{}
	c := openChannel(t, dev)
	dev.setBusy(true)

	f := NewFrame(0x42, []byte{0xAA}, false)
	require.Equal(t, Error, c.Send(f))
	require.Empty(t, dev.sent)
	require.True(t, dev.txIRQ)
	require.Equal(t, 1, c.Pending())

	// hardware still busy: the frame stays queued and the interrupt armed
	c.TxDrain()
	require.Equal(t, 1, c.Pending())
	require.True(t, dev.txIRQ)
	require.EqualValues(t, 1, c.Stats().RetryFailures)

	dev.setBusy(false)
	c.TxDrain()
	require.Equal(t, []Frame{f}, dev.sent)
	require.Zero(t, c.Pending())
	require.True(t, dev.txIRQ)

	c.TxDrain()
	require.False(t, dev.txIRQ)

	st := c.Stats()
	require.EqualValues(t, 1, st.Queued)
	require.EqualValues(t, 1, st.Retried)
	require.Zero(t, st.Sent)
}

func TestChannelRetryKeepsOrder(t *testing.T) {
	dev := &fakeTransceiver{}
	c := openChannel(t, dev)
	dev.setBusy(true)
	var want []Frame
	for i := 0; i < 5; i++ {
		f := NewFrame(uint32(i), []byte{byte(i)}, false)
		want = append(want, f)
		require.Equal(t, Error, c.Send(f))
	}
	dev.setBusy(false)
	for c.Pending() > 0 {
		c.HandleTxInterrupt()
	}
	require.Equal(t, want, dev.sent)
}

func TestChannelRetryOverflow(t *testing.T) {
	dev := &fakeTransceiver{}
	var events []Event
	c := openChannel(t, dev, WithRetryDepth(4), WithEventHandler(func(e Event) { events = append(events, e) }))
	dev.setBusy(true)
	for i := 0; i < 3; i++ {
		require.Equal(t, Error, c.Send(NewFrame(uint32(i), nil, false)))
	}
	require.Equal(t, Full, c.Send(NewFrame(0x99, nil, false)))
	require.Equal(t, 3, c.Pending())
	require.EqualValues(t, 1, c.Stats().Dropped)
	require.Len(t, events, 1)
	require.EqualValues(t, 0x99, events[0].ID)

	dev.setBusy(false)
	for c.Pending() > 0 {
		c.TxDrain()
	}
	require.Len(t, dev.sent, 3)
	for i, f := range dev.sent {
		require.EqualValues(t, i, f.ID())
	}
}

func TestChannelReceiveStampsAndUsesFIFO(t *testing.T) {
	dev := &fakeTransceiver{}
	now := rtc.TimePoint{Year: 2024, Month: 6, Day: 2, Hour: 9, Minute: 30}
	c := openChannel(t, dev, WithFIFO(FIFO1), WithClock(fixedClock(now)))

	var f Frame
	require.Equal(t, Empty, c.Receive(&f))

	dev.rx = []Frame{NewFrame(0x7, []byte{1, 2}, false)}
	require.Equal(t, Ok, c.Receive(&f))
	require.EqualValues(t, 0x7, f.ID())
	tp, ok := f.Timestamp()
	require.True(t, ok)
	require.Equal(t, now, tp)
	require.Equal(t, []FIFO{FIFO1, FIFO1}, dev.rxFIFO)
	require.EqualValues(t, 1, c.Stats().Received)
}

func TestChannelHandleRxInterruptBurst(t *testing.T) {
	dev := &fakeTransceiver{}
	c := openChannel(t, dev)
	for i := 0; i < 5; i++ {
		dev.rx = append(dev.rx, NewFrame(uint32(i), nil, false))
	}
	var got []uint32
	sink := RxSinkFunc(func(f Frame) { got = append(got, f.ID()) })

	require.Equal(t, 3, c.HandleRxInterrupt(sink))
	require.Equal(t, 2, c.HandleRxInterrupt(sink))
	require.Zero(t, c.HandleRxInterrupt(sink))
	require.Equal(t, []uint32{0, 1, 2, 3, 4}, got)
}

func TestChannelSendRacesTxInterrupt(t *testing.T) {
	dev := &fakeTransceiver{}
	ctl := irq.New()
	c := openChannel(t, dev, WithController(ctl), WithRetryDepth(512))
	dev.setBusy(true)

	const n = 200
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			dev.setBusy(i%3 != 0)
			ctl.Interrupt(c.HandleTxInterrupt)
		}
	}()

	queued := 0
	for i := 0; i < n; i++ {
		st := c.Send(NewFrame(uint32(i), nil, false))
		require.Contains(t, []Status{Ok, Error}, st)
		if st == Error {
			queued++
		}
	}
	close(done)
	wg.Wait()

	dev.setBusy(false)
	for c.Pending() > 0 {
		ctl.Interrupt(c.HandleTxInterrupt)
	}
	require.Len(t, dev.sent, n)
	require.EqualValues(t, n, c.Stats().Sent+c.Stats().Retried)
	require.EqualValues(t, queued, c.Stats().Queued)
}

func TestChannelSendReportsQueuedAsError(t *testing.T) {
	dev := &fakeTransceiver{}
	c := openChannel(t, dev)
	dev.setBusy(true)

	require.Equal(t, Error, c.Send(NewFrame(0x5, nil, false)))
	require.Equal(t, 1, c.Pending())
	require.True(t, dev.txIRQ)
	require.Zero(t, c.Stats().Errors)

	dev.setBusy(false)
	require.Equal(t, Ok, c.Send(NewFrame(0x6, nil, false)))
	require.Equal(t, 1, c.Pending())
}
