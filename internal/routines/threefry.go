package routines

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// threefryParity is the Threefry key-schedule constant for 32-bit words.
const threefryParity = 0x1BD11BDA

var threefryRotations = [2][4]uint{{13, 15, 26, 6}, {17, 29, 16, 24}}

// Threefry2x32 is the 20-round, 2x32 Threefry block cipher (five groups
// of four rounds, a key injection after each) with the standard key
// schedule. The canonical test vector is
// Threefry2x32(0, 0, 0, 0) = (1797259609, 2579123966).
func Threefry2x32(k0, k1, x0, x1 uint32) (uint32, uint32) {
	k2 := k0 ^ k1 ^ threefryParity
	ks := [3]uint32{k0, k1, k2}
	x0 += k0
	x1 += k1
	for round := 0; round < 5; round++ {
		rots := threefryRotations[round%2]
		for _, r := range rots {
			x0 += x1
			x1 = bits.RotateLeft32(x1, int(r))
			x1 ^= x0
		}
		x0 += ks[(round+1)%3]
		x1 += ks[(round+2)%3] + uint32(round) + 1
	}
	return x0, x1
}

// runThreefry fills the output with count random 32-bit words derived
// from the two-word key in the input. Word pair 2j, 2j+1 is the cipher of
// counter (j, 0), so any prefix of a stream is independent of the total
// length requested.
func runThreefry(params map[string]any, ins, outs [][]byte) error {
	count, err := intParam(params, "count")
	if err != nil {
		return err
	}
	if len(ins) != 1 || len(outs) != 1 {
		return errors.New("routines: threefry2x32 expects one input and one output")
	}
	key := ins[0]
	if len(key) < 8 {
		return errors.New("routines: threefry2x32 key must be two u32 words")
	}
	k0 := binary.LittleEndian.Uint32(key[0:4])
	k1 := binary.LittleEndian.Uint32(key[4:8])
	out := outs[0]
	for j := 0; 2*j < count; j++ {
		r0, r1 := Threefry2x32(k0, k1, uint32(j), 0)
		binary.LittleEndian.PutUint32(out[8*j:], r0)
		if 2*j+1 < count {
			binary.LittleEndian.PutUint32(out[8*j+4:], r1)
		}
	}
	return nil
}
