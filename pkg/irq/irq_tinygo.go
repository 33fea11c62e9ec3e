//go:build tinygo

package irq

import "runtime/interrupt"

// Controller masks the core's interrupts.
type Controller struct{}

type state = interrupt.State

func New() *Controller {
	return &Controller{}
}

func (c *Controller) disable() state {
	return interrupt.Disable()
}

func (c *Controller) restore(s state) {
	interrupt.Restore(s)
}

// Interrupt runs handler directly; on the target it is already called
// from the vector table.
func (c *Controller) Interrupt(handler func()) {
	handler()
}
