//go:build stm32g0b1

package canfw

const (
	Family                 = "stm32g0b1"
	FamilyKind             = Flexible
	PeripheralClock uint32 = 64_000_000
	TimeSegment1           = 13
	TimeSegment2           = 2
)

const (
	BaudRate1000 BaudRate = 4
	BaudRate500  BaudRate = 8
	BaudRate250  BaudRate = 16
	BaudRate125  BaudRate = 32
)

var supported = [...]RateInfo{
	{1000, BaudRate1000},
	{500, BaudRate500},
	{250, BaudRate250},
	{125, BaudRate125},
}
