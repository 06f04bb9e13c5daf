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

package freemap

import (
	"errors"
	"testing"

	"gvisor.dev/sectorfs/pkg/blockdev"
)

func TestCreateReserves(t *testing.T) {
	dev := blockdev.NewMemory(5000)
	m, err := Create(dev)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	start, sectors := m.Location()
	if start != 1 || sectors != 2 {
		t.Errorf("Location() = %d, %d, want 1, 2", start, sectors)
	}
	for _, s := range []uint32{0, 1, 2} {
		if !m.IsAllocated(s) {
			t.Errorf("reserved sector %d is free", s)
		}
	}
	if got, want := m.Free(), uint32(5000-3); got != want {
		t.Errorf("Free() = %d, want %d", got, want)
	}
}

func TestAllocateRelease(t *testing.T) {
	m, err := Create(blockdev.NewMemory(64))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	free := m.Free()

	a, err := m.Allocate(1)
	if err != nil || a != 2 {
		t.Fatalf("Allocate(1) = %d, %v, want 2, nil", a, err)
	}
	b, err := m.Allocate(4)
	if err != nil || b != 3 {
		t.Fatalf("Allocate(4) = %d, %v, want 3, nil", b, err)
	}
	m.Release(a, 1)

	// First fit reuses the hole when it is large enough.
	c, err := m.Allocate(1)
	if err != nil || c != a {
		t.Errorf("Allocate(1) after release = %d, %v, want %d", c, err, a)
	}
	m.Release(c, 1)
	m.Release(b, 4)
	if m.Free() != free {
		t.Errorf("Free() = %d after releasing everything, want %d", m.Free(), free)
	}
}

func TestExhaustion(t *testing.T) {
	m, err := Create(blockdev.NewMemory(16))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	free := m.Free()
	if _, err := m.Allocate(free + 1); !errors.Is(err, ErrNoSpace) {
		t.Errorf("Allocate(%d) = %v, want %v", free+1, err, ErrNoSpace)
	}
	for i := uint32(0); i < free; i++ {
		if _, err := m.Allocate(1); err != nil {
			t.Fatalf("Allocate(1) #%d failed: %v", i, err)
		}
	}
	if _, err := m.Allocate(1); !errors.Is(err, ErrNoSpace) {
		t.Errorf("Allocate(1) on full map = %v, want %v", err, ErrNoSpace)
	}
	if m.Free() != 0 {
		t.Errorf("Free() = %d, want 0", m.Free())
	}
}

func TestFlushLoad(t *testing.T) {
	dev := blockdev.NewMemory(9000)
	m, err := Create(dev)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s, err := m.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	_, writes := dev.Stats()
	if err := m.Flush(); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	if _, again := dev.Stats(); again != writes {
		t.Errorf("clean Flush wrote %d sectors", again-writes)
	}

	loaded, err := Load(dev)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Free() != m.Free() {
		t.Errorf("loaded Free() = %d, want %d", loaded.Free(), m.Free())
	}
	if !loaded.IsAllocated(s) || !loaded.IsAllocated(s+99) || loaded.IsAllocated(s+100) {
		t.Errorf("loaded map lost the allocated run [%d, %d)", s, s+100)
	}
}

func TestLoadUnformatted(t *testing.T) {
	if _, err := Load(blockdev.NewMemory(64)); err == nil {
		t.Errorf("Load of a zeroed device succeeded")
	}
}

func TestReleaseInvariants(t *testing.T) {
	for _, tc := range []struct {
		name    string
		release func(m *Map)
	}{
		{"reserved", func(m *Map) { m.Release(0, 1) }},
		{"free map sector", func(m *Map) { m.Release(1, 1) }},
		{"double free", func(m *Map) { m.Release(40, 1) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Create(blockdev.NewMemory(64))
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			defer func() {
				if recover() == nil {
					t.Errorf("Release did not panic")
				}
			}()
			tc.release(m)
		})
	}
}

func TestTooSmall(t *testing.T) {
	if _, err := Create(blockdev.NewMemory(2)); err == nil {
		t.Errorf("Create on a 2-sector device succeeded")
	}
}
