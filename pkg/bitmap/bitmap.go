// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitmap provides a fixed-size bitmap with run searches.
package bitmap

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of bits numbered [0, Size()).
//
// Bitmap is not thread-safe.
type Bitmap struct {
	// size is the number of addressable bits.
	size uint32

	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// bitBlock holds the bits, 64 per word. Bits at or past size are always
	// zero.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (uint64(size)+63)/64),
	}
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// IsSet returns true if bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	b.checkRange(i, i+1)
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i.
func (b *Bitmap) Add(i uint32) {
	b.SetRange(i, i+1)
}

// Remove clears bit i.
func (b *Bitmap) Remove(i uint32) {
	b.ClearRange(i, i+1)
}

// AllSet returns true if every bit in [begin, end) is set.
func (b *Bitmap) AllSet(begin, end uint32) bool {
	b.checkRange(begin, end)
	return b.countOnes(begin, end) == end-begin
}

// AllClear returns true if every bit in [begin, end) is clear.
func (b *Bitmap) AllClear(begin, end uint32) bool {
	b.checkRange(begin, end)
	return b.countOnes(begin, end) == 0
}

// SetRange sets bits within [begin, end).
func (b *Bitmap) SetRange(begin, end uint32) {
	b.checkRange(begin, end)
	before := b.countOnes(begin, end)
	b.applyRange(begin, end, func(w *uint64, mask uint64) { *w |= mask })
	b.numOnes += (end - begin) - before
}

// ClearRange clears bits within [begin, end).
func (b *Bitmap) ClearRange(begin, end uint32) {
	b.checkRange(begin, end)
	before := b.countOnes(begin, end)
	b.applyRange(begin, end, func(w *uint64, mask uint64) { *w &^= mask })
	b.numOnes -= before
}

// FirstZero returns the first unset bit from the range [start, Size()).
func (b *Bitmap) FirstZero(start uint32) (uint32, error) {
	if start >= b.size {
		return 0, fmt.Errorf("start %d exceeds bitmap size %d", start, b.size)
	}
	i, nbit := int(start/64), start%64
	w := b.bitBlock[i] | ((uint64(1) << nbit) - 1)
	for {
		if w != ^uint64(0) {
			bit := uint32(bits.TrailingZeros64(^w) + i*64)
			if bit >= b.size {
				break
			}
			return bit, nil
		}
		i++
		if i == len(b.bitBlock) {
			break
		}
		w = b.bitBlock[i]
	}
	return 0, fmt.Errorf("bitmap has no unset bits from %d", start)
}

// FirstOne returns the first set bit from the range [start, Size()).
func (b *Bitmap) FirstOne(start uint32) (uint32, error) {
	if start >= b.size {
		return 0, fmt.Errorf("start %d exceeds bitmap size %d", start, b.size)
	}
	i, nbit := int(start/64), start%64
	w := b.bitBlock[i] &^ ((uint64(1) << nbit) - 1)
	for {
		if w != 0 {
			return uint32(bits.TrailingZeros64(w) + i*64), nil
		}
		i++
		if i == len(b.bitBlock) {
			break
		}
		w = b.bitBlock[i]
	}
	return 0, fmt.Errorf("bitmap has no set bits from %d", start)
}

// FirstZeroRun returns the first bit of the lowest run of count consecutive
// unset bits in [start, Size()).
func (b *Bitmap) FirstZeroRun(start, count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("zero-length run requested")
	}
	for start < b.size {
		first, err := b.FirstZero(start)
		if err != nil {
			break
		}
		if uint64(first)+uint64(count) > uint64(b.size) {
			break
		}
		one, err := b.FirstOne(first)
		if err != nil || one-first >= count {
			return first, nil
		}
		start = one
	}
	return 0, fmt.Errorf("bitmap has no run of %d unset bits", count)
}

// MarshalBytes encodes the bitmap as little-endian 64-bit words into dst,
// which must hold at least SizeBytes() bytes.
func (b *Bitmap) MarshalBytes(dst []byte) {
	for i, w := range b.bitBlock {
		binary.LittleEndian.PutUint64(dst[i*8:], w)
	}
}

// UnmarshalBytes decodes the bitmap from src, as written by MarshalBytes.
// Bits at or past Size() are ignored.
func (b *Bitmap) UnmarshalBytes(src []byte) {
	b.numOnes = 0
	for i := range b.bitBlock {
		w := binary.LittleEndian.Uint64(src[i*8:])
		if last := len(b.bitBlock) - 1; i == last && b.size%64 != 0 {
			w &= (uint64(1) << (b.size % 64)) - 1
		}
		b.bitBlock[i] = w
		b.numOnes += uint32(bits.OnesCount64(w))
	}
}

// SizeBytes returns the encoded size of the bitmap.
func (b *Bitmap) SizeBytes() int {
	return len(b.bitBlock) * 8
}

func (b *Bitmap) checkRange(begin, end uint32) {
	if begin > end || end > b.size {
		panic(fmt.Sprintf("bit range [%d, %d) out of bitmap bounds [0, %d)", begin, end, b.size))
	}
}

// applyRange calls fn on every word overlapping [begin, end) with the mask of
// bits of that word inside the range.
func (b *Bitmap) applyRange(begin, end uint32, fn func(w *uint64, mask uint64)) {
	for begin < end {
		i := begin / 64
		lo := begin % 64
		hi := uint32(64)
		if (i+1)*64 > end {
			hi = end - i*64
		}
		mask := ^uint64(0) << lo
		if hi < 64 {
			mask &= (uint64(1) << hi) - 1
		}
		fn(&b.bitBlock[i], mask)
		begin = i*64 + hi
	}
}

// countOnes counts 1 bits within [begin, end).
func (b *Bitmap) countOnes(begin, end uint32) uint32 {
	var ones uint32
	b.applyRange(begin, end, func(w *uint64, mask uint64) {
		ones += uint32(bits.OnesCount64(*w & mask))
	})
	return ones
}
