package malloc

import "fmt"

func Example() {
	a, _ := New(1 << 20)

	b1 := a.Malloc(1024) // rounds up to a 1032-byte block
	b2 := a.Malloc(24)   // rounds up to a 32-byte block

	fmt.Printf("b1: len=%d cap=%d\n", len(b1), cap(b1))
	fmt.Printf("b2: len=%d cap=%d\n", len(b2), cap(b2))

	a.Free(b1)
	a.Free(b2)

	// Output:
	// b1: len=1024 cap=1028
	// b2: len=24 cap=28
}
