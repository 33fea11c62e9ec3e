// Package rtc reads the real-time clock calendar that stamps received
// frames. The calendar registers hold BCD encoded fields.
package rtc

import (
	"fmt"
	"time"

	"github.com/albenik/bcd"
	"github.com/roffe/canfw/pkg/hw"
)

// TimePoint is a calendar reading with millisecond resolution.
type TimePoint struct {
	Year        uint16
	Month       uint8
	Day         uint8
	Hour        uint8
	Minute      uint8
	Second      uint8
	Millisecond uint16
}

func (tp TimePoint) IsZero() bool {
	return tp == TimePoint{}
}

// Time converts the reading to a time.Time in UTC.
func (tp TimePoint) Time() time.Time {
	return time.Date(int(tp.Year), time.Month(tp.Month), int(tp.Day),
		int(tp.Hour), int(tp.Minute), int(tp.Second),
		int(tp.Millisecond)*int(time.Millisecond), time.UTC)
}

func (tp TimePoint) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%03d",
		tp.Year, tp.Month, tp.Day, tp.Hour, tp.Minute, tp.Second, tp.Millisecond)
}

// Registers is the calendar part of the RTC register block.
type Registers struct {
	TR   hw.Reg32 // time: HT HU | MNT MNU | ST SU
	DR   hw.Reg32 // date: YT YU | WDU MT MU | DT DU
	SSR  hw.Reg32 // sub-second down counter
	PRER hw.Reg32 // PREDIV_A 22:16, PREDIV_S 14:0
}

const (
	// DefaultPrediv is PREDIV_S for a 32.768 kHz LSE with PREDIV_A = 127.
	DefaultPrediv = 255

	baseYear = 2000
)

// Calendar decodes the calendar registers.
type Calendar struct {
	regs *Registers
}

func NewCalendar(regs *Registers) *Calendar {
	return &Calendar{regs: regs}
}

// Now reads the calendar. SSR is read first; on silicon that locks the
// shadow TR/DR until DR is read.
func (c *Calendar) Now() TimePoint {
	ss := c.regs.SSR.Get() & 0xFFFF
	tr := c.regs.TR.Get()
	dr := c.regs.DR.Get()
	prediv := c.regs.PRER.Get() & 0x7FFF

	tp := TimePoint{
		Year:   baseYear + uint16(bcd.ToUint8(byte(dr>>16))),
		Month:  bcd.ToUint8(byte(dr>>8) & 0x1F),
		Day:    bcd.ToUint8(byte(dr) & 0x3F),
		Hour:   bcd.ToUint8(byte(tr>>16) & 0x3F),
		Minute: bcd.ToUint8(byte(tr>>8) & 0x7F),
		Second: bcd.ToUint8(byte(tr) & 0x7F),
	}
	if prediv > 0 && ss <= prediv {
		tp.Millisecond = uint16((prediv - ss) * 1000 / (prediv + 1))
	}
	return tp
}

// Load programs the calendar registers from t. Years outside 2000-2099
// cannot be represented and wrap modulo 100. DR and TR are separate
// stores, so a reader in interrupt context must be masked while it runs.
func (r *Registers) Load(t time.Time) {
	t = t.UTC()
	prediv := r.PRER.Get() & 0x7FFF
	if prediv == 0 {
		prediv = DefaultPrediv
		r.PRER.Set(127<<16 | prediv)
	}
	yy := uint8((t.Year() - baseYear) % 100)
	wd := uint32(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	r.DR.Set(uint32(bcd.FromUint8(yy))<<16 | wd<<13 |
		uint32(bcd.FromUint8(uint8(t.Month())))<<8 | uint32(bcd.FromUint8(uint8(t.Day()))))
	r.TR.Set(uint32(bcd.FromUint8(uint8(t.Hour())))<<16 |
		uint32(bcd.FromUint8(uint8(t.Minute())))<<8 | uint32(bcd.FromUint8(uint8(t.Second()))))
	ms := uint32(t.Nanosecond() / int(time.Millisecond))
	r.SSR.Set(prediv - ms*(prediv+1)/1000)
}
