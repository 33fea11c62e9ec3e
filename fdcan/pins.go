package fdcan

import "github.com/roffe/canfw/pkg/hw"

// DefaultPins returns the board routing of FDCAN1 on the given family.
func DefaultPins(family string) (hw.Pins, bool) {
	switch family {
	case "stm32g474":
		return hw.Pins{Port: 'A', RX: 11, TX: 12, AF: 9}, true
	case "stm32l562":
		return hw.Pins{Port: 'B', RX: 8, TX: 9, AF: 9}, true
	case "stm32g0b1":
		return hw.Pins{Port: 'D', RX: 0, TX: 1, AF: 3}, true
	}
	return hw.Pins{}, false
}
