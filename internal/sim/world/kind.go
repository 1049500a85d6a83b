package world

import "fmt"

// Kind tags which of the two populations a World holds.
type Kind uint8

const (
	Good Kind = iota
	Mixed
)

func (k Kind) String() string {
	switch k {
	case Good:
		return "good"
	case Mixed:
		return "mixed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Class is a cell's social class.
type Class uint8

const (
	Powerful Class = iota
	Common
	Poor

	NumClasses = 3
)

func (c Class) String() string {
	switch c {
	case Powerful:
		return "powerful"
	case Common:
		return "common"
	case Poor:
		return "poor"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Moves.
const (
	MoveGood int8 = +1
	MoveBad  int8 = -1
)

const (
	// TrustCeiling is enforced after every trust mutation. There is no floor.
	TrustCeiling = 10.0
	// MaxBadStreak is where the bad-streak counter saturates.
	MaxBadStreak = 255
)
