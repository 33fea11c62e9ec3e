//go:build stm32l476 || !(stm32f405 || stm32f469 || stm32g474 || stm32l562 || stm32g0b1)

package canfw

const (
	Family                 = "stm32l476"
	FamilyKind             = Classic
	PeripheralClock uint32 = 80_000_000
	TimeSegment1           = 13
	TimeSegment2           = 2
)

const (
	BaudRate1000 BaudRate = 5
	BaudRate500  BaudRate = 10
	BaudRate250  BaudRate = 20
	BaudRate125  BaudRate = 40
	BaudRate100  BaudRate = 50
)

var supported = [...]RateInfo{
	{1000, BaudRate1000},
	{500, BaudRate500},
	{250, BaudRate250},
	{125, BaudRate125},
	{100, BaudRate100},
}
