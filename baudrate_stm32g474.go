//go:build stm32g474

package canfw

const (
	Family                 = "stm32g474"
	FamilyKind             = Flexible
	PeripheralClock uint32 = 160_000_000
	TimeSegment1           = 13
	TimeSegment2           = 2
)

// The FDCAN kernel clock is not necessarily the AHB clock.
const (
	BaudRate1000 BaudRate = 10
	BaudRate500  BaudRate = 20
	BaudRate250  BaudRate = 40
	BaudRate125  BaudRate = 80
)

var supported = [...]RateInfo{
	{1000, BaudRate1000},
	{500, BaudRate500},
	{250, BaudRate250},
	{125, BaudRate125},
}
