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
	// InodeMagic identifies a sector holding an inode record ("INOD").
	InodeMagic = 0x494e4f44

	// inodeHeaderWords is the number of 32-bit words preceding the direct
	// pointer array.
	inodeHeaderWords = 9
)

// Inode is the on-disk inode record.
//
// DirectCount, IndirectCount and DoubleIndirectCount count data sectors in
// each tier. Index blocks are not included in these counts.
type Inode struct {
	// Length is the file length in bytes.
	Length int32

	// IsDirRaw is 1 for directories, 0 otherwise.
	IsDirRaw uint32

	// Parent is the inode sector of the containing directory.
	Parent uint32

	Magic uint32

	DirectCount         uint32
	IndirectCount       uint32
	DoubleIndirectCount uint32

	// IndirectPtr is the sector of the single indirect index block.
	IndirectPtr uint32

	// DoubleIndirectPtr is the sector of the top-level double indirect
	// index block. Its entries point to second-level index blocks.
	DoubleIndirectPtr uint32

	Direct [NumDirect]uint32
}

// NewInode returns a record for an empty file or directory.
func NewInode(isDir bool, parent uint32) Inode {
	in := Inode{
		Parent: parent,
		Magic:  InodeMagic,
	}
	if isDir {
		in.IsDirRaw = 1
	}
	return in
}

// SizeBytes implements Structure.SizeBytes.
func (*Inode) SizeBytes() int { return SectorSize }

// MarshalBytes implements Structure.MarshalBytes.
func (in *Inode) MarshalBytes(dst []byte) { marshal(dst, in) }

// UnmarshalBytes implements Structure.UnmarshalBytes.
func (in *Inode) UnmarshalBytes(src []byte) { unmarshal(src, in) }

// IsDir returns true if the record describes a directory.
func (in *Inode) IsDir() bool { return in.IsDirRaw != 0 }

// Valid returns true if the record carries the inode magic.
func (in *Inode) Valid() bool { return in.Magic == InodeMagic }

// DataSectors returns the number of data sectors allocated to the inode.
func (in *Inode) DataSectors() uint32 {
	return in.DirectCount + in.IndirectCount + in.DoubleIndirectCount
}

// IndexSectors returns the number of index blocks allocated to the inode.
func (in *Inode) IndexSectors() uint32 {
	var n uint32
	if in.IndirectPtr != NoSector {
		n++
	}
	if in.DoubleIndirectPtr != NoSector {
		n += 1 + SecondLevelBlocks(in.DoubleIndirectCount)
	}
	return n
}

// SecondLevelBlocks returns the number of second-level index blocks needed to
// address count data sectors in the double indirect tier.
func SecondLevelBlocks(count uint32) uint32 {
	return (count + PointersPerBlock - 1) / PointersPerBlock
}
