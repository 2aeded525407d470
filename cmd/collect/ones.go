package main

import "math/bits"

// countOnes counts the set bits among the first bitCount bits of buf. Bits
// past bitCount in the last byte are ignored.
func countOnes(buf []byte, bitCount int) int {
	if bitCount <= 0 {
		return 0
	}
	n := min((bitCount+7)/8, len(buf))
	total := 0
	for i, b := range buf[:n] {
		if i == n-1 && bitCount < n*8 {
			b &= 0xFF << (n*8 - bitCount)
		}
		total += bits.OnesCount8(b)
	}
	return total
}
