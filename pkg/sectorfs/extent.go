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

	"gvisor.dev/sectorfs/pkg/blockdev"
	"gvisor.dev/sectorfs/pkg/cleanup"
	"gvisor.dev/sectorfs/pkg/log"
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// sectorsFor returns the number of sectors needed to hold length bytes.
func sectorsFor(length int64) uint32 {
	return uint32((length + disklayout.SectorSize - 1) / disklayout.SectorSize)
}

// growth describes how new data sectors are split across the tiers.
type growth struct {
	direct   uint32
	indirect uint32
	double   uint32
}

// planGrowth splits n new data sectors across the tiers of d, filling each
// tier before the next.
func planGrowth(d *disklayout.Inode, n uint32) growth {
	var g growth
	g.direct = min(n, disklayout.NumDirect-d.DirectCount)
	n -= g.direct
	g.indirect = min(n, ptrsPerBlock-d.IndirectCount)
	g.double = n - g.indirect
	return g
}

// growLocked appends n zero-filled data sectors to the inode. It allocates
// every data and index sector it needs before writing anything, and releases
// them all if any allocation or write fails, leaving the inode unchanged.
// The file length is not changed.
//
// Precondition: in.mu is locked for writing.
func (in *Inode) growLocked(n uint32) error {
	if n == 0 {
		return nil
	}
	d := &in.disk
	if uint64(d.DataSectors())+uint64(n) > disklayout.MaxDataSectors {
		return fmt.Errorf("growing inode %d from %d by %d sectors: %w", in.sector, d.DataSectors(), n, ErrCapacityExceeded)
	}
	g := planGrowth(d, n)

	m := &in.blocks
	m.mu.Lock()
	defer m.mu.Unlock()

	// Work on copies of the index blocks that gain entries. They replace
	// the cached blocks only once everything is on disk.
	var indirect, double disklayout.IndexBlock
	if g.indirect > 0 && d.IndirectPtr != disklayout.NoSector {
		b, err := in.indirectLocked()
		if err != nil {
			return err
		}
		indirect = *b
	}
	if g.double > 0 && d.DoubleIndirectPtr != disklayout.NoSector {
		b, err := in.doubleLocked()
		if err != nil {
			return err
		}
		double = *b
	}
	// Second-level blocks [firstSecond, endSecond) gain entries; those below
	// haveSecond already exist.
	firstSecond := d.DoubleIndirectCount / ptrsPerBlock
	haveSecond := disklayout.SecondLevelBlocks(d.DoubleIndirectCount)
	endSecond := disklayout.SecondLevelBlocks(d.DoubleIndirectCount + g.double)
	var seconds []disklayout.IndexBlock
	if g.double > 0 {
		seconds = make([]disklayout.IndexBlock, endSecond-firstSecond)
		if firstSecond < haveSecond {
			b, err := in.secondLocked(firstSecond)
			if err != nil {
				return err
			}
			seconds[0] = *b
		}
	}

	cu := cleanup.Make(func() {})
	defer cu.Clean()
	alloc := func() (uint32, error) {
		s, err := in.fs.freeMap.Allocate(1)
		if err != nil {
			return 0, fmt.Errorf("growing inode %d by %d sectors: %w", in.sector, n, err)
		}
		cu.Add(func() { in.fs.freeMap.Release(s, 1) })
		return s, nil
	}

	indirectPtr := d.IndirectPtr
	if g.indirect > 0 && indirectPtr == disklayout.NoSector {
		s, err := alloc()
		if err != nil {
			return err
		}
		indirectPtr = s
	}
	doublePtr := d.DoubleIndirectPtr
	if g.double > 0 && doublePtr == disklayout.NoSector {
		s, err := alloc()
		if err != nil {
			return err
		}
		doublePtr = s
	}
	for idx := haveSecond; idx < endSecond; idx++ {
		s, err := alloc()
		if err != nil {
			return err
		}
		double[idx] = s
	}
	data := make([]uint32, n)
	for i := range data {
		s, err := alloc()
		if err != nil {
			return err
		}
		data[i] = s
	}

	// Everything is allocated. Zero the data, then link it in.
	for _, s := range data {
		if err := blockdev.Zero(in.fs.dev, s); err != nil {
			return fmt.Errorf("inode %d: zeroing sector %d: %w", in.sector, s, err)
		}
	}
	direct := d.Direct
	next := data
	for i := uint32(0); i < g.direct; i++ {
		direct[d.DirectCount+i] = next[0]
		next = next[1:]
	}
	for i := uint32(0); i < g.indirect; i++ {
		indirect[d.IndirectCount+i] = next[0]
		next = next[1:]
	}
	for i := uint32(0); i < g.double; i++ {
		c := d.DoubleIndirectCount + i
		seconds[c/ptrsPerBlock-firstSecond][c%ptrsPerBlock] = next[0]
		next = next[1:]
	}

	if g.indirect > 0 {
		if err := in.writeIndex(indirectPtr, &indirect); err != nil {
			return err
		}
	}
	for j := range seconds {
		if err := in.writeIndex(double[firstSecond+uint32(j)], &seconds[j]); err != nil {
			return err
		}
	}
	if endSecond > haveSecond {
		if err := in.writeIndex(doublePtr, &double); err != nil {
			return err
		}
	}

	// Commit.
	d.Direct = direct
	d.DirectCount += g.direct
	d.IndirectCount += g.indirect
	d.DoubleIndirectCount += g.double
	d.IndirectPtr = indirectPtr
	d.DoubleIndirectPtr = doublePtr
	if g.indirect > 0 {
		m.indirect = &indirect
	}
	if g.double > 0 {
		m.double = &double
		last := len(seconds) - 1
		m.second, m.secondIdx = &seconds[last], firstSecond+uint32(last)
	}
	in.dirty = true
	cu.Release()

	if log.IsLogging(log.Debug) {
		log.Debugf("Inode %d grew by %d sectors: direct +%d, indirect +%d, double indirect +%d", in.sector, n, g.direct, g.indirect, g.double)
	}
	return nil
}

// Extend grows the file to length bytes. The new range reads as zeroes.
// Extend never shrinks a file.
func (in *Inode) Extend(length int64) error {
	if length < 0 {
		return fmt.Errorf("extending inode %d to %d: %w", in.sector, length, ErrInvalid)
	}
	if length > disklayout.MaxFileSize {
		return fmt.Errorf("extending inode %d to %d: %w", in.sector, length, ErrCapacityExceeded)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.extendLocked(length)
}

// extendLocked is Extend with in.mu held for writing.
func (in *Inode) extendLocked(length int64) error {
	if length <= int64(in.disk.Length) {
		return nil
	}
	if need := sectorsFor(length); need > in.disk.DataSectors() {
		if err := in.growLocked(need - in.disk.DataSectors()); err != nil {
			return err
		}
	}
	in.disk.Length = int32(length)
	in.dirty = true
	return nil
}
