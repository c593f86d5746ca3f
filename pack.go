package pcienpu

import (
	"encoding/binary"
	"math"
)

// PackBytes packs b into 32-bit words four bytes at a time.  Byte i occupies
// bits [8*(i%4), 8*(i%4)+8) of word i/4 and the unused high bytes of the final
// word are zero
func PackBytes(b []byte) []uint32 {

	words := make([]uint32, WordCount(len(b)))

	for i, v := range b {
		words[i/WordSize] |= uint32(v) << (8 * (i % WordSize))
	}

	return words
}

// UnpackWords is the reverse of PackBytes, returning the first n bytes held in
// words.  If words holds fewer than n bytes the result is zero padded to n,
// a negative n returns an empty slice
func UnpackWords(words []uint32, n int) []byte {

	b := make([]byte, max(n, 0))

	for i := 0; i < n && i/WordSize < len(words); i++ {
		b[i] = byte(words[i/WordSize] >> (8 * (i % WordSize)))
	}

	return b
}

// PackFloats reinterprets the IEEE-754 bit pattern of each float as a word
func PackFloats(f []float32) []uint32 {

	words := make([]uint32, len(f))

	for i, v := range f {
		words[i] = math.Float32bits(v)
	}

	return words
}

// UnpackFloats reinterprets each word as the bit pattern of a float
func UnpackFloats(words []uint32) []float32 {

	f := make([]float32, len(words))

	for i, w := range words {
		f[i] = math.Float32frombits(w)
	}

	return f
}

// WordCount returns the number of words needed to hold n bytes
func WordCount(n int) int {
	return (n + WordSize - 1) / WordSize
}

// hostLittleEndian reports if the host stores words least significant byte
// first, which the register window and accelerator require
func hostLittleEndian() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 1
}
