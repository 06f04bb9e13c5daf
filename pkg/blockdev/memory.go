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

package blockdev

import (
	"sync"
)

// Memory is a Device backed by a byte slice.
type Memory struct {
	// mu protects the fields below.
	mu sync.RWMutex

	data   []byte
	closed bool

	// reads and writes count completed sector transfers.
	reads  uint64
	writes uint64

	// failWrites, if non-nil, is returned by every WriteSector.
	failWrites error
}

// Compiles only if Memory implements Device.
var _ Device = (*Memory)(nil)

// NewMemory returns a zeroed in-memory device of the given number of sectors.
func NewMemory(sectors uint32) *Memory {
	return &Memory{data: make([]byte, int(sectors)*SectorSize)}
}

// ReadSector implements Device.ReadSector.
func (m *Memory) ReadSector(sector uint32, buf []byte) error {
	if err := checkTransfer(m, sector, buf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	off := int(sector) * SectorSize
	copy(buf, m.data[off:off+SectorSize])
	m.reads++
	return nil
}

// WriteSector implements Device.WriteSector.
func (m *Memory) WriteSector(sector uint32, buf []byte) error {
	if err := checkTransfer(m, sector, buf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failWrites != nil {
		return m.failWrites
	}
	off := int(sector) * SectorSize
	copy(m.data[off:off+SectorSize], buf)
	m.writes++
	return nil
}

// Sectors implements Device.Sectors.
func (m *Memory) Sectors() uint32 {
	return uint32(len(m.data) / SectorSize)
}

// Sync implements Device.Sync.
func (m *Memory) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Device.Close.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen makes a closed Memory device usable again with its contents intact.
func (m *Memory) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

// Stats returns the number of sector reads and writes performed so far.
func (m *Memory) Stats() (reads, writes uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads, m.writes
}

// FailWrites makes every subsequent WriteSector return err. A nil err
// restores normal operation.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}
