// Package irq provides the scoped critical section shared by the main
// loop and interrupt handlers.
//
//	cs := ctl.Enter()
//	defer cs.Exit()
//
// Exit is safe to call more than once, so early returns and the deferred
// call can both release the section.
package irq

// Section is an entered critical section.
type Section struct {
	ctl    *Controller
	state  state
	exited bool
}

// Exit restores the interrupt state saved by Enter.
func (s *Section) Exit() {
	if s == nil || s.exited {
		return
	}
	s.exited = true
	s.ctl.restore(s.state)
}

// Enter masks interrupts until the returned section exits.
func (c *Controller) Enter() *Section {
	return &Section{ctl: c, state: c.disable()}
}

// Critical runs fn with interrupts masked.
func (c *Controller) Critical(fn func()) {
	cs := c.Enter()
	defer cs.Exit()
	fn()
}
