package bxcan

import (
	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/hw"
)

// DefaultPins returns the board routing used for controller index on the
// given family.
func DefaultPins(family string, index int) (hw.Pins, bool) {
	switch {
	case family == "stm32l476" && index == 1:
		return hw.Pins{Port: 'B', RX: 8, TX: 9, AF: 9}, true
	case family == "stm32f405" && index == 1:
		return hw.Pins{Port: 'A', RX: 11, TX: 12, AF: 9}, true
	case family == "stm32f405" && index == 2:
		return hw.Pins{Port: 'B', RX: 12, TX: 13, AF: 9, PullUp: true}, true
	// CAN2 on the dash board moves to PB5 since PB12 is taken.
	case family == "stm32f469" && index == 1:
		return hw.Pins{Port: 'A', RX: 11, TX: 12, AF: 9}, true
	case family == "stm32f469" && index == 2:
		return hw.Pins{Port: 'B', RX: 5, TX: 13, AF: 9}, true
	}
	return hw.Pins{}, false
}

// DefaultFIFO is the receive FIFO a controller is wired to. CAN2 on the
// F405 uses FIFO1 so both controllers can share the filter block.
func DefaultFIFO(family string, index int) canfw.FIFO {
	if family == "stm32f405" && index == 2 {
		return canfw.FIFO1
	}
	return canfw.FIFO0
}
