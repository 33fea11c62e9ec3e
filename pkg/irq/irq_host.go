//go:build !tinygo

package irq

import "sync"

// Controller models the interrupt controller of one core. Handlers run
// through Interrupt and never overlap a critical section or each other,
// which is what masking gives on the target.
type Controller struct {
	mu sync.Mutex
}

type state struct{}

func New() *Controller {
	return &Controller{}
}

func (c *Controller) disable() state {
	c.mu.Lock()
	return state{}
}

func (c *Controller) restore(state) {
	c.mu.Unlock()
}

// Interrupt runs handler as an interrupt service routine. Handlers run
// masked already and must not call Enter.
func (c *Controller) Interrupt(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handler()
}
