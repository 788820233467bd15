// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size lock-free ring
buffers. A ring whose capacity is a power of two can wrap its indices with a
mask instead of a modulo, which keeps the real-time side free of divisions.

Usage:

	size, mask := bitint.RingSize(1000) // 1024, 1023
	slot := index & mask

All functions are O(1), allocation-free and safe to call from any goroutine.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
// The subtraction is what keeps exact powers of two unchanged: for 8,
// bits.Len(7) is 3 and 1<<3 is 8 again, while bits.Len(8) would give 16.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2. Powers of two have a single bit
// set, so n & (n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// RingSize rounds capacity up to a power of two and returns it together with
// the index mask for that size.
func RingSize(capacity int) (size int, mask uint64) {
	size = NextPowerOfTwo(capacity)
	return size, uint64(size - 1)
}
