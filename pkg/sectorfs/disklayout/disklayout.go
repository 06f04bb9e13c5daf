// Copyright 2026 The gVisor Authors.
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

// Package disklayout provides the sectorfs on-disk structures.
//
// Every structure occupies exactly one sector and is stored as a sequence of
// little-endian 32-bit words. Sector 0 holds the superblock. A sector pointer
// with value 0 is unallocated since no file data may ever live in sector 0.
package disklayout

import (
	"encoding/binary"
	"fmt"
)

const (
	// SectorSize is the size of a device sector in bytes.
	SectorSize = 512

	// PointersPerBlock is the number of sector pointers held by an index
	// block.
	PointersPerBlock = SectorSize / 4

	// NumDirect is the number of direct sector pointers in an inode record.
	// The nine header words plus the direct array fill one sector.
	NumDirect = PointersPerBlock - inodeHeaderWords

	// MaxDataSectors is the largest number of data sectors a single inode can
	// address: direct, then single indirect, then double indirect.
	MaxDataSectors = NumDirect + PointersPerBlock + PointersPerBlock*PointersPerBlock

	// MaxFileSize is the largest file length in bytes.
	MaxFileSize = MaxDataSectors * SectorSize

	// NoSector is the pointer value of an unallocated slot.
	NoSector = 0
)

// Structure is implemented by every on-disk structure.
type Structure interface {
	// SizeBytes returns the encoded size, which is always SectorSize.
	SizeBytes() int

	// MarshalBytes encodes the structure into dst.
	MarshalBytes(dst []byte)

	// UnmarshalBytes decodes the structure from src.
	UnmarshalBytes(src []byte)
}

// Compiles only if the on-disk types implement Structure.
var (
	_ Structure = (*Inode)(nil)
	_ Structure = (*IndexBlock)(nil)
	_ Structure = (*SuperBlock)(nil)
)

func init() {
	for _, s := range []Structure{&Inode{}, &IndexBlock{}, &SuperBlock{}} {
		if got := binary.Size(s); got != SectorSize {
			panic(fmt.Sprintf("%T encodes to %d bytes, must be %d", s, got, SectorSize))
		}
	}
}

// marshal encodes the fixed-size value v into dst.
func marshal(dst []byte, v any) {
	if _, err := binary.Encode(dst[:SectorSize], binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("encoding %T: %v", v, err))
	}
}

// unmarshal decodes src into the fixed-size value v.
func unmarshal(src []byte, v any) {
	if _, err := binary.Decode(src[:SectorSize], binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("decoding %T: %v", v, err))
	}
}
