// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size FFTs and
ring buffers. All functions are allocation free and O(1).

	size := bitint.NextPowerOfTwo(1000) // 1024
	ok := bitint.IsPowerOfTwo(size)     // true

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two map to themselves: bits.Len(7) = 3 and 1<<3 = 8, whereas
bits.Len(8) = 4 would double the input.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Zero and
// negative sizes return 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of
// two has a single bit set, so clearing its lowest set bit yields zero.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
