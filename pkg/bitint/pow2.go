// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size capture
buffers. Frame sizes handed to the FFT are kept on powers of two, and the
tuner steps them up and down by doubling and halving within fixed limits.

Usage:

	// Round a requested size up to a valid frame size
	bufferSize := bitint.NextPowerOfTwo(3000) // Returns 4096

	// Step the frame size one octave up, never past the limit
	next, ok := bitint.Double(bufferSize, 16384) // Returns 8192, true

----------------------------------------------------------------------

Why NextPowerOfTwo subtracts one first:

	For input 8 (already a power of 2):
	  size-1 = 7 (binary 0111)
	  bits.Len(7) = 3
	  1 << 3 = 8 (preserved)

	Without the subtraction bits.Len(8) = 4 and the input would be
	doubled to 16.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2. Powers of two have exactly one
// bit set, so n & (n-1) clears it to zero.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Double returns 2n when the result does not exceed limit. Otherwise n is
// returned unchanged with ok=false.
func Double(n, limit int) (int, bool) {
	if n <= 0 || n > limit/2 {
		return n, false
	}
	return n << 1, true
}

// Halve returns n/2 when the result does not fall below floor. Otherwise n
// is returned unchanged with ok=false.
func Halve(n, floor int) (int, bool) {
	if n <= 1 || n>>1 < floor {
		return n, false
	}
	return n >> 1, true
}
