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

package sectorfs

import (
	"fmt"
	"sync"

	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

const ptrsPerBlock = disklayout.PointersPerBlock

// blockMap caches the index blocks of an inode: the single indirect block,
// the top double indirect block, and the most recently used second-level
// block. A nil entry has not been read yet.
//
// Readers of the owning inode hold Inode.mu for reading only, so the cache
// has its own lock.
type blockMap struct {
	mu sync.Mutex

	indirect  *disklayout.IndexBlock
	double    *disklayout.IndexBlock
	second    *disklayout.IndexBlock
	secondIdx uint32
}

// invalidate drops every cached block.
func (m *blockMap) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indirect, m.double, m.second = nil, nil, nil
}

// readIndex reads the index block stored in sector.
func (in *Inode) readIndex(sector uint32) (*disklayout.IndexBlock, error) {
	if sector == disklayout.NoSector {
		return nil, fmt.Errorf("inode %d: unallocated index block: %w", in.sector, ErrCorrupt)
	}
	buf := make([]byte, disklayout.SectorSize)
	if err := in.fs.dev.ReadSector(sector, buf); err != nil {
		return nil, fmt.Errorf("inode %d: reading index block %d: %w", in.sector, sector, err)
	}
	b := new(disklayout.IndexBlock)
	b.UnmarshalBytes(buf)
	return b, nil
}

// writeIndex writes an index block to sector.
func (in *Inode) writeIndex(sector uint32, b *disklayout.IndexBlock) error {
	buf := make([]byte, disklayout.SectorSize)
	b.MarshalBytes(buf)
	if err := in.fs.dev.WriteSector(sector, buf); err != nil {
		return fmt.Errorf("inode %d: writing index block %d: %w", in.sector, sector, err)
	}
	return nil
}

// indirectLocked returns the single indirect block.
//
// Preconditions:
//   - in.mu is locked.
//   - in.blocks.mu is locked.
//   - in.disk.IndirectPtr is allocated.
func (in *Inode) indirectLocked() (*disklayout.IndexBlock, error) {
	m := &in.blocks
	if m.indirect == nil {
		b, err := in.readIndex(in.disk.IndirectPtr)
		if err != nil {
			return nil, err
		}
		m.indirect = b
	}
	return m.indirect, nil
}

// doubleLocked returns the top double indirect block.
//
// Preconditions: Same as indirectLocked, for in.disk.DoubleIndirectPtr.
func (in *Inode) doubleLocked() (*disklayout.IndexBlock, error) {
	m := &in.blocks
	if m.double == nil {
		b, err := in.readIndex(in.disk.DoubleIndirectPtr)
		if err != nil {
			return nil, err
		}
		m.double = b
	}
	return m.double, nil
}

// secondLocked returns the idx-th second-level block of the double indirect
// tier.
//
// Preconditions: Same as doubleLocked, and idx addresses an allocated block.
func (in *Inode) secondLocked(idx uint32) (*disklayout.IndexBlock, error) {
	m := &in.blocks
	if m.second != nil && m.secondIdx == idx {
		return m.second, nil
	}
	top, err := in.doubleLocked()
	if err != nil {
		return nil, err
	}
	b, err := in.readIndex(top[idx])
	if err != nil {
		return nil, err
	}
	m.second, m.secondIdx = b, idx
	return b, nil
}

// dataSectorLocked returns the device sector holding the blk-th data sector
// of the file.
//
// Precondition: in.mu is locked for reading or writing.
func (in *Inode) dataSectorLocked(blk uint32) (uint32, error) {
	if blk >= disklayout.MaxDataSectors {
		return 0, fmt.Errorf("inode %d: block %d: %w", in.sector, blk, ErrCapacityExceeded)
	}
	if blk >= in.disk.DataSectors() {
		return 0, fmt.Errorf("inode %d: block %d of %d: %w", in.sector, blk, in.disk.DataSectors(), ErrNotMapped)
	}
	var (
		sector uint32
		err    error
	)
	switch {
	case blk < disklayout.NumDirect:
		sector = in.disk.Direct[blk]
	case blk < disklayout.NumDirect+ptrsPerBlock:
		in.blocks.mu.Lock()
		var b *disklayout.IndexBlock
		if b, err = in.indirectLocked(); err == nil {
			sector = b[blk-disklayout.NumDirect]
		}
		in.blocks.mu.Unlock()
	default:
		k := blk - disklayout.NumDirect - ptrsPerBlock
		in.blocks.mu.Lock()
		var b *disklayout.IndexBlock
		if b, err = in.secondLocked(k / ptrsPerBlock); err == nil {
			sector = b[k%ptrsPerBlock]
		}
		in.blocks.mu.Unlock()
	}
	if err != nil {
		return 0, err
	}
	if sector == disklayout.NoSector {
		return 0, fmt.Errorf("inode %d: block %d maps to sector 0: %w", in.sector, blk, ErrCorrupt)
	}
	return sector, nil
}

// SectorAt returns the device sector backing byte offset off.
func (in *Inode) SectorAt(off int64) (uint32, error) {
	if off < 0 {
		return 0, fmt.Errorf("offset %d: %w", off, ErrInvalid)
	}
	if off >= disklayout.MaxFileSize {
		return 0, fmt.Errorf("inode %d: offset %d: %w", in.sector, off, ErrCapacityExceeded)
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.dataSectorLocked(uint32(off / disklayout.SectorSize))
}

// allocatedSectorsLocked returns every data and index sector owned by the
// inode, not including the record sector.
//
// Precondition: in.mu is locked.
func (in *Inode) allocatedSectorsLocked() ([]uint32, error) {
	d := &in.disk
	sectors := make([]uint32, 0, d.DataSectors()+d.IndexSectors())
	sectors = append(sectors, d.Direct[:d.DirectCount]...)

	in.blocks.mu.Lock()
	defer in.blocks.mu.Unlock()
	if d.IndirectPtr != disklayout.NoSector {
		b, err := in.indirectLocked()
		if err != nil {
			return nil, err
		}
		sectors = append(sectors, b[:d.IndirectCount]...)
		sectors = append(sectors, d.IndirectPtr)
	}
	if d.DoubleIndirectPtr != disklayout.NoSector {
		top, err := in.doubleLocked()
		if err != nil {
			return nil, err
		}
		remaining := d.DoubleIndirectCount
		for idx := uint32(0); remaining > 0; idx++ {
			b, err := in.secondLocked(idx)
			if err != nil {
				return nil, err
			}
			n := min(remaining, ptrsPerBlock)
			sectors = append(sectors, b[:n]...)
			sectors = append(sectors, top[idx])
			remaining -= n
		}
		sectors = append(sectors, d.DoubleIndirectPtr)
	}
	for _, s := range sectors {
		if s == disklayout.NoSector {
			return nil, fmt.Errorf("inode %d: unallocated pointer within counts: %w", in.sector, ErrCorrupt)
		}
	}
	return sectors, nil
}

// AllocatedSectors returns every data and index sector owned by the inode.
func (in *Inode) AllocatedSectors() ([]uint32, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.allocatedSectorsLocked()
}
