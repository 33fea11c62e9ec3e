package hw

import "fmt"

// Pins is the GPIO routing of a peripheral: both lines share one port and
// one alternate function.
type Pins struct {
	Port   byte
	RX     uint8
	TX     uint8
	AF     uint8
	PullUp bool
}

func (p Pins) String() string {
	return fmt.Sprintf("P%c%d/P%c%d AF%d", p.Port, p.RX, p.Port, p.TX, p.AF)
}
