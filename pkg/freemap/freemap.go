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

// Package freemap implements the free-space map of a sectorfs volume.
//
// The map holds one bit per device sector. It is kept in memory and written
// back to a fixed run of sectors starting at disklayout.FreeMapStart. The
// superblock sector and the map's own sectors are always marked in use.
package freemap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gvisor.dev/sectorfs/pkg/bitmap"
	"gvisor.dev/sectorfs/pkg/blockdev"
	"gvisor.dev/sectorfs/pkg/log"
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// ErrNoSpace is returned when no run of free sectors is long enough.
var ErrNoSpace = errors.New("no free sectors")

// exhaustedLog throttles allocation failure warnings, which tend to arrive
// in bursts once a volume fills up.
var exhaustedLog = log.BasicRateLimitedLogger(10 * time.Second)

// Map is a sector allocator.
type Map struct {
	dev blockdev.Device

	// start and sectors locate the persisted map. Immutable.
	start   uint32
	sectors uint32

	// mu protects the fields below.
	mu sync.Mutex

	bits bitmap.Bitmap

	// dirty is true if bits changed since the last Flush.
	dirty bool
}

func newMap(dev blockdev.Device) (*Map, error) {
	n := dev.Sectors()
	sectors := disklayout.FreeMapSectorsFor(n)
	if disklayout.FreeMapStart+sectors >= n {
		return nil, fmt.Errorf("device of %d sectors is too small for a free map of %d sectors", n, sectors)
	}
	return &Map{
		dev:     dev,
		start:   disklayout.FreeMapStart,
		sectors: sectors,
		bits:    bitmap.New(n),
	}, nil
}

// Create returns an empty free map for dev with the reserved sectors marked
// in use. The map is not written until Flush.
func Create(dev blockdev.Device) (*Map, error) {
	m, err := newMap(dev)
	if err != nil {
		return nil, err
	}
	m.bits.Add(disklayout.SuperBlockSector)
	m.bits.SetRange(m.start, m.start+m.sectors)
	m.dirty = true
	return m, nil
}

// Load reads a free map previously written by Flush.
func Load(dev blockdev.Device) (*Map, error) {
	m, err := newMap(dev)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int(m.sectors)*disklayout.SectorSize)
	for i := uint32(0); i < m.sectors; i++ {
		off := int(i) * disklayout.SectorSize
		if err := dev.ReadSector(m.start+i, buf[off:off+disklayout.SectorSize]); err != nil {
			return nil, fmt.Errorf("reading free map sector %d: %w", m.start+i, err)
		}
	}
	m.bits.UnmarshalBytes(buf)
	if !m.bits.IsSet(disklayout.SuperBlockSector) || !m.bits.AllSet(m.start, m.start+m.sectors) {
		return nil, fmt.Errorf("free map does not reserve its own sectors")
	}
	log.Debugf("Loaded free map: %d of %d sectors free", m.Free(), m.Size())
	return m, nil
}

// Location returns the first sector and the length of the persisted map.
func (m *Map) Location() (start, sectors uint32) {
	return m.start, m.sectors
}

// Allocate marks the lowest run of count consecutive free sectors as used and
// returns its first sector.
func (m *Map) Allocate(count uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sector, err := m.bits.FirstZeroRun(0, count)
	if err != nil {
		exhaustedLog.Warningf("Free map: cannot allocate %d sectors, %d of %d free", count, m.bits.Size()-m.bits.GetNumOnes(), m.bits.Size())
		return 0, fmt.Errorf("allocating %d sectors: %w", count, ErrNoSpace)
	}
	m.bits.SetRange(sector, sector+count)
	m.dirty = true
	return sector, nil
}

// Release marks count sectors starting at sector as free.
//
// Precondition: every sector in the range is allocated and not reserved.
func (m *Map) Release(sector, count uint32) {
	if count == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The superblock and the map itself form the prefix [0, start+sectors).
	if sector < m.start+m.sectors {
		panic(fmt.Sprintf("releasing reserved sectors [%d, %d)", sector, sector+count))
	}
	if !m.bits.AllSet(sector, sector+count) {
		panic(fmt.Sprintf("releasing sectors [%d, %d) that are not all allocated", sector, sector+count))
	}
	m.bits.ClearRange(sector, sector+count)
	m.dirty = true
}

// IsAllocated returns true if sector is in use.
func (m *Map) IsAllocated(sector uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bits.IsSet(sector)
}

// Free returns the number of free sectors.
func (m *Map) Free() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bits.Size() - m.bits.GetNumOnes()
}

// Size returns the number of sectors covered by the map.
func (m *Map) Size() uint32 {
	return m.dev.Sectors()
}

// Flush writes the map to its reserved sectors if it changed.
func (m *Map) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	buf := make([]byte, int(m.sectors)*disklayout.SectorSize)
	m.bits.MarshalBytes(buf)
	for i := uint32(0); i < m.sectors; i++ {
		off := int(i) * disklayout.SectorSize
		if err := m.dev.WriteSector(m.start+i, buf[off:off+disklayout.SectorSize]); err != nil {
			return fmt.Errorf("writing free map sector %d: %w", m.start+i, err)
		}
	}
	m.dirty = false
	return nil
}
