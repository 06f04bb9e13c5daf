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

// IndexBlock is a sector full of sector pointers. NoSector marks an unused
// slot.
type IndexBlock [PointersPerBlock]uint32

// SizeBytes implements Structure.SizeBytes.
func (*IndexBlock) SizeBytes() int { return SectorSize }

// MarshalBytes implements Structure.MarshalBytes.
func (b *IndexBlock) MarshalBytes(dst []byte) { marshal(dst, b) }

// UnmarshalBytes implements Structure.UnmarshalBytes.
func (b *IndexBlock) UnmarshalBytes(src []byte) { unmarshal(src, b) }
