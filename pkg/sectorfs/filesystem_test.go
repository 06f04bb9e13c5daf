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
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sectorfs/pkg/blockdev"
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

const (
	// D and P are short names for the tier sizes used throughout the tests.
	D = disklayout.NumDirect
	P = disklayout.PointersPerBlock

	// testSectors is large enough for a few files reaching into the double
	// indirect tier.
	testSectors = 4096
)

// newTestFS formats a memory device of the given size.
func newTestFS(t *testing.T, sectors uint32) (*Filesystem, *blockdev.Memory) {
	t.Helper()
	dev := blockdev.NewMemory(sectors)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	return fs, dev
}

// createOpen creates an inode of the given length and opens it.
func createOpen(t *testing.T, fs *Filesystem, length int64) *Inode {
	t.Helper()
	sector, err := fs.CreateInode(length, false /* isDir */, fs.Root())
	if err != nil {
		t.Fatalf("CreateInode(%d) failed: %v", length, err)
	}
	in, err := fs.Open(sector)
	if err != nil {
		t.Fatalf("Open(%d) failed: %v", sector, err)
	}
	return in
}

// pattern returns n pseudo-random bytes.
func pattern(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// gatedDevice is a memory device that can hold one sector write until the
// test lets it through.
type gatedDevice struct {
	*blockdev.Memory

	mu      sync.Mutex
	armed   bool
	sector  uint32
	entered chan struct{}
	release chan struct{}
}

func newGatedDevice(sectors uint32) *gatedDevice {
	return &gatedDevice{Memory: blockdev.NewMemory(sectors)}
}

// gate blocks the next write of sector. entered is closed once that write is
// waiting, and it proceeds after release is called.
func (g *gatedDevice) gate(sector uint32) (entered <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	g.sector = sector
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	ch := g.release
	return g.entered, func() { close(ch) }
}

// WriteSector implements blockdev.Device.WriteSector.
func (g *gatedDevice) WriteSector(sector uint32, buf []byte) error {
	g.mu.Lock()
	var wait chan struct{}
	if g.armed && sector == g.sector {
		g.armed = false
		close(g.entered)
		wait = g.release
	}
	g.mu.Unlock()
	if wait != nil {
		<-wait
	}
	return g.Memory.WriteSector(sector, buf)
}

func mustClose(t *testing.T, in *Inode) {
	t.Helper()
	if err := in.Close(); err != nil {
		t.Fatalf("Close of inode %d failed: %v", in.Inumber(), err)
	}
}

func TestFormat(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	root, err := fs.Open(fs.Root())
	if err != nil {
		t.Fatalf("Open(root) failed: %v", err)
	}
	defer mustClose(t, root)

	if !root.IsDir() {
		t.Errorf("root is not a directory")
	}
	if root.Parent() != root.Inumber() {
		t.Errorf("root parent = %d, want itself (%d)", root.Parent(), root.Inumber())
	}
	if root.Length() != 0 {
		t.Errorf("root length = %d, want 0", root.Length())
	}
	// Superblock, one free map sector and the root record.
	if got, want := fs.FreeSectors(), uint32(testSectors-3); got != want {
		t.Errorf("FreeSectors() = %d, want %d", got, want)
	}
}

func TestMountRoundTrip(t *testing.T) {
	fs, dev := newTestFS(t, testSectors)
	in := createOpen(t, fs, 0)
	data := pattern(3*disklayout.SectorSize+17, 1)
	if n, err := in.WriteAt(data, 100); err != nil || n != len(data) {
		t.Fatalf("WriteAt = %d, %v, want %d, nil", n, err, len(data))
	}
	in.SetParent(fs.Root())
	sector, want := in.Inumber(), in.Record()
	mustClose(t, in)
	free := fs.FreeSectors()
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mounted, err := Mount(dev)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if mounted.FreeSectors() != free {
		t.Errorf("FreeSectors() after mount = %d, want %d", mounted.FreeSectors(), free)
	}
	in, err = mounted.Open(sector)
	if err != nil {
		t.Fatalf("Open(%d) after mount failed: %v", sector, err)
	}
	defer mustClose(t, in)
	if diff := cmp.Diff(want, in.Record()); diff != "" {
		t.Errorf("record changed across mount (-want +got):\n%s", diff)
	}
	got := make([]byte, len(data))
	if _, err := in.ReadAt(got, 100); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("data changed across mount")
	}
}

func TestMountErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		corrupt func(dev *blockdev.Memory)
	}{
		{
			name:    "unformatted",
			corrupt: func(dev *blockdev.Memory) { blockdev.Zero(dev, disklayout.SuperBlockSector) },
		},
		{
			name:    "free map cleared",
			corrupt: func(dev *blockdev.Memory) { blockdev.Zero(dev, disklayout.FreeMapStart) },
		},
		{
			name: "root not a directory",
			corrupt: func(dev *blockdev.Memory) {
				root := disklayout.FreeMapStart + disklayout.FreeMapSectorsFor(dev.Sectors())
				buf := make([]byte, disklayout.SectorSize)
				dev.ReadSector(root, buf)
				var rec disklayout.Inode
				rec.UnmarshalBytes(buf)
				rec.IsDirRaw = 0
				rec.MarshalBytes(buf)
				dev.WriteSector(root, buf)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs, dev := newTestFS(t, 256)
			if err := fs.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			tc.corrupt(dev)
			if _, err := Mount(dev); err == nil {
				t.Errorf("Mount succeeded on a corrupted volume")
			}
		})
	}
}

func TestOpenBadMagic(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	// Sector 100 was never written and holds zeroes.
	if _, err := fs.Open(100); !errors.Is(err, ErrBadMagic) {
		t.Errorf("Open of a zeroed sector = %v, want %v", err, ErrBadMagic)
	}
	if fs.OpenInodes() != 0 {
		t.Errorf("failed Open left %d inodes in the table", fs.OpenInodes())
	}
	if _, err := fs.Open(0); !errors.Is(err, ErrInvalid) {
		t.Errorf("Open(0) = %v, want %v", err, ErrInvalid)
	}
}

func TestCreateErrors(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	in := createOpen(t, fs, 0)
	defer mustClose(t, in)

	free := fs.FreeSectors()
	for _, tc := range []struct {
		name   string
		sector uint32
		length int64
		want   error
	}{
		{"open inode", in.Inumber(), 0, ErrInUse},
		{"negative length", 200, -1, ErrInvalid},
		{"too large", 200, disklayout.MaxFileSize + 1, ErrCapacityExceeded},
		{"sector zero", 0, 0, ErrInvalid},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := fs.Create(tc.sector, tc.length, false, fs.Root()); !errors.Is(err, tc.want) {
				t.Errorf("Create(%d, %d) = %v, want %v", tc.sector, tc.length, err, tc.want)
			}
		})
	}
	if fs.FreeSectors() != free {
		t.Errorf("failed creates changed FreeSectors() from %d to %d", free, fs.FreeSectors())
	}
}

func TestCreateInodeNoSpace(t *testing.T) {
	fs, _ := newTestFS(t, 64)
	free := fs.FreeSectors()
	// The inode sector, the data and one indirect block cannot all fit.
	length := int64(free) * disklayout.SectorSize
	if _, err := fs.CreateInode(length, false, fs.Root()); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("CreateInode(%d) = %v, want %v", length, err, ErrNoSpace)
	}
	if fs.FreeSectors() != free {
		t.Errorf("FreeSectors() = %d after failed create, want %d", fs.FreeSectors(), free)
	}
}

func TestCloseFlushesOpenInodes(t *testing.T) {
	fs, dev := newTestFS(t, 256)
	in := createOpen(t, fs, 0)
	if _, err := in.WriteAt([]byte("still open"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	sector := in.Inumber()
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mounted, err := Mount(dev)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	reopened, err := mounted.Open(sector)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer mustClose(t, reopened)
	if got := reopened.Length(); got != int64(len("still open")) {
		t.Errorf("Length() = %d, want %d", got, len("still open"))
	}
}
