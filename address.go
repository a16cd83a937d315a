package uwuwind

import "fmt"

// Address is a 64-bit machine address. It is kept as a distinct type rather
// than a bare uintptr so that the arithmetic this package does on it (adding
// signed deltas read out of the CFI byte stream, computing load biases)
// reads as address arithmetic rather than plain integer math.
type Address uint64

// Add returns the address delta bytes away. delta may be negative.
func (a Address) Add(delta int64) Address {
	return Address(uint64(int64(a) + delta))
}

// Sub returns a-b as a signed byte distance.
func (a Address) Sub(b Address) int64 {
	return int64(a) - int64(b)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
