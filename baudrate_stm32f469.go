//go:build stm32f469

package canfw

const (
	Family                 = "stm32f469"
	FamilyKind             = Classic
	PeripheralClock uint32 = 45_000_000
	TimeSegment1           = 15
	TimeSegment2           = 2
)

// CAN1 and CAN2 sit on APB1. 1000 kbit/s is missing because it needs a
// different quanta split.
const (
	BaudRate500 BaudRate = 5
	BaudRate250 BaudRate = 10
	BaudRate125 BaudRate = 20
	BaudRate100 BaudRate = 25
)

var supported = [...]RateInfo{
	{500, BaudRate500},
	{250, BaudRate250},
	{125, BaudRate125},
	{100, BaudRate100},
}
