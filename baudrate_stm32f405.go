//go:build stm32f405

package canfw

const (
	Family                 = "stm32f405"
	FamilyKind             = Classic
	PeripheralClock uint32 = 42_000_000
	TimeSegment1           = 13
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
