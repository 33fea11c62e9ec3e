package canfw

import "fmt"

// BaudRate is a nominal bit rate of the compiled MCU family. Its value is
// the bit timing prescaler for that family's peripheral clock, so the
// constants available depend on the build tag.
type BaudRate uint32

// Kind tells which peripheral generation a family carries.
type Kind uint8

const (
	Classic Kind = iota
	Flexible
)

func (k Kind) String() string {
	if k == Flexible {
		return "fdcan"
	}
	return "bxcan"
}

// BitTiming is the nominal bit timing programmed at Init.
type BitTiming struct {
	Prescaler uint32
	Seg1      uint8
	Seg2      uint8
	SJW       uint8
}

// Quanta is the number of time quanta per bit including the sync segment.
func (t BitTiming) Quanta() uint32 {
	return 1 + uint32(t.Seg1) + uint32(t.Seg2)
}

// BitRate returns the resulting rate in bit/s for the given peripheral
// clock.
func (t BitTiming) BitRate(clock uint32) uint32 {
	if t.Prescaler == 0 {
		return 0
	}
	return clock / (t.Prescaler * t.Quanta())
}

// SamplePoint returns the sample point in percent.
func (t BitTiming) SamplePoint() float64 {
	return float64(1+uint32(t.Seg1)) * 100 / float64(t.Quanta())
}

func (t BitTiming) String() string {
	return fmt.Sprintf("prescaler %d seg1 %d seg2 %d sjw %d (%.1f%%)", t.Prescaler, t.Seg1, t.Seg2, t.SJW, t.SamplePoint())
}

// Timing returns the bit timing for r on the compiled family.
func (r BaudRate) Timing() BitTiming {
	return BitTiming{
		Prescaler: uint32(r),
		Seg1:      TimeSegment1,
		Seg2:      TimeSegment2,
		SJW:       1,
	}
}

// Kbps returns the nominal rate r was declared for, or 0 when r is not
// one of the family's constants.
func (r BaudRate) Kbps() uint32 {
	for _, s := range supported {
		if s.Rate == r {
			return s.Kbps
		}
	}
	return 0
}

func (r BaudRate) String() string {
	if k := r.Kbps(); k != 0 {
		return fmt.Sprintf("%d kbit/s", k)
	}
	return fmt.Sprintf("prescaler %d", uint32(r))
}

// RateInfo pairs a nominal rate with its constant.
type RateInfo struct {
	Kbps uint32
	Rate BaudRate
}

// SupportedBaudRates lists the rates of the compiled family, fastest
// first.
func SupportedBaudRates() []RateInfo {
	out := make([]RateInfo, len(supported))
	copy(out, supported[:])
	return out
}

// LookupBaudRate finds the constant for a nominal rate in kbit/s.
func LookupBaudRate(kbps uint32) (BaudRate, bool) {
	for _, s := range supported {
		if s.Kbps == kbps {
			return s.Rate, true
		}
	}
	return 0, false
}
