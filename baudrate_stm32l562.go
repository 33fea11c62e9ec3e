//go:build stm32l562

package canfw

const (
	Family                 = "stm32l562"
	FamilyKind             = Flexible
	PeripheralClock uint32 = 96_000_000
	TimeSegment1           = 13
	TimeSegment2           = 2
)

const (
	BaudRate1000 BaudRate = 6
	BaudRate500  BaudRate = 12
	BaudRate250  BaudRate = 24
	BaudRate125  BaudRate = 48
)

var supported = [...]RateInfo{
	{1000, BaudRate1000},
	{500, BaudRate500},
	{250, BaudRate250},
	{125, BaudRate125},
}
