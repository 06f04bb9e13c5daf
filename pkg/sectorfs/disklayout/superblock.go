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

package disklayout

const (
	// SuperBlockMagic identifies a formatted volume ("SFS1").
	SuperBlockMagic = 0x53465331

	// SuperBlockSector is where the superblock lives.
	SuperBlockSector = 0

	// FreeMapStart is the first sector of the persisted free map.
	FreeMapStart = 1
)

// SuperBlock describes the volume layout. It is written once by Format and
// rewritten only if the root directory moves.
type SuperBlock struct {
	Magic uint32

	// Sectors is the total number of sectors on the device at format time.
	Sectors uint32

	// FreeMapStart and FreeMapSectors locate the persisted free map.
	FreeMapStart   uint32
	FreeMapSectors uint32

	// RootInode is the inode sector of the root directory.
	RootInode uint32

	_ [PointersPerBlock - 5]uint32
}

// SizeBytes implements Structure.SizeBytes.
func (*SuperBlock) SizeBytes() int { return SectorSize }

// MarshalBytes implements Structure.MarshalBytes.
func (sb *SuperBlock) MarshalBytes(dst []byte) { marshal(dst, sb) }

// UnmarshalBytes implements Structure.UnmarshalBytes.
func (sb *SuperBlock) UnmarshalBytes(src []byte) { unmarshal(src, sb) }

// Valid returns true if the superblock carries the volume magic.
func (sb *SuperBlock) Valid() bool { return sb.Magic == SuperBlockMagic }

// FreeMapSectorsFor returns the number of sectors needed to persist a free
// map covering the given number of sectors.
func FreeMapSectorsFor(sectors uint32) uint32 {
	const bitsPerSector = SectorSize * 8
	return (sectors + bitsPerSector - 1) / bitsPerSector
}
