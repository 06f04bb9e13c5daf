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
	"io"
	"math/rand"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

func TestWriteGrowsFile(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	in := createOpen(t, fs, 0)
	defer mustClose(t, in)

	data := pattern(600, 5)
	if n, err := in.WriteAt(data, 0); n != 600 || err != nil {
		t.Fatalf("WriteAt = %d, %v, want 600, nil", n, err)
	}
	rec := in.Record()
	if rec.Length != 600 || rec.DirectCount != 2 || rec.IndirectCount != 0 {
		t.Errorf("record = length %d, direct %d, indirect %d; want 600, 2, 0", rec.Length, rec.DirectCount, rec.IndirectCount)
	}
	got := make([]byte, 600)
	if n, err := in.ReadAt(got, 0); n != 600 || err != nil {
		t.Fatalf("ReadAt = %d, %v, want 600, nil", n, err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadAt returned different bytes than written")
	}
}

func TestReadAtBounds(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	in := createOpen(t, fs, 1000)
	defer mustClose(t, in)

	for _, tc := range []struct {
		name    string
		off     int64
		size    int
		wantN   int
		wantErr error
	}{
		{name: "whole file", off: 0, size: 1000, wantN: 1000},
		{name: "last byte", off: 999, size: 1, wantN: 1},
		{name: "empty at end", off: 1000, size: 0, wantN: 0},
		{name: "at end", off: 1000, size: 1, wantErr: io.EOF},
		{name: "straddles end", off: 990, size: 20, wantErr: io.EOF},
		{name: "far past end", off: 1 << 20, size: 10, wantErr: io.EOF},
		{name: "negative offset", off: -1, size: 1, wantErr: ErrInvalid},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n, err := in.ReadAt(make([]byte, tc.size), tc.off)
			if n != tc.wantN || !errors.Is(err, tc.wantErr) {
				t.Errorf("ReadAt(%d bytes at %d) = %d, %v, want %d, %v", tc.size, tc.off, n, err, tc.wantN, tc.wantErr)
			}
		})
	}
}

func TestWriteAtInvalid(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	in := createOpen(t, fs, 0)
	defer mustClose(t, in)

	if n, err := in.WriteAt([]byte("x"), -1); n != 0 || !errors.Is(err, ErrInvalid) {
		t.Errorf("WriteAt at -1 = %d, %v, want 0, %v", n, err, ErrInvalid)
	}
	if n, err := in.WriteAt(nil, 4096); n != 0 || err != nil {
		t.Errorf("empty WriteAt = %d, %v, want 0, nil", n, err)
	}
	if got := in.Length(); got != 0 {
		t.Errorf("empty WriteAt changed Length() to %d", got)
	}
}

// TestReadWriteModel checks random unaligned writes against a byte slice.
func TestReadWriteModel(t *testing.T) {
	const (
		ops     = 300
		maxOff  = 200 << 10
		maxSize = 3000
	)
	fs, _ := newTestFS(t, testSectors)
	in := createOpen(t, fs, 0)
	defer mustClose(t, in)

	rng := rand.New(rand.NewSource(6))
	var model []byte
	for i := 0; i < ops; i++ {
		off := rng.Int63n(maxOff)
		data := pattern(rng.Intn(maxSize)+1, int64(i))
		if end := int(off) + len(data); end > len(model) {
			model = append(model, make([]byte, end-len(model))...)
		}
		copy(model[off:], data)
		if n, err := in.WriteAt(data, off); err != nil || n != len(data) {
			t.Fatalf("op %d: WriteAt(%d bytes at %d) = %d, %v", i, len(data), off, n, err)
		}

		roff := rng.Int63n(int64(len(model)))
		rlen := rng.Intn(len(model) - int(roff) + 1)
		got := make([]byte, rlen)
		if _, err := in.ReadAt(got, roff); err != nil {
			t.Fatalf("op %d: ReadAt(%d bytes at %d) failed: %v", i, rlen, roff, err)
		}
		if !bytes.Equal(got, model[roff:roff+int64(rlen)]) {
			t.Fatalf("op %d: ReadAt(%d bytes at %d) mismatch", i, rlen, roff)
		}
	}

	if got := in.Length(); got != int64(len(model)) {
		t.Fatalf("Length() = %d, want %d", got, len(model))
	}
	got := make([]byte, len(model))
	if _, err := in.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, model) {
		t.Errorf("final contents mismatch")
	}
}

func TestWritePastEndZeroFills(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	in := createOpen(t, fs, 0)
	defer mustClose(t, in)

	if _, err := in.WriteAt([]byte("head"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	const tailOff = 70 * disklayout.SectorSize
	if _, err := in.WriteAt([]byte("tail"), tailOff+3); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	want := make([]byte, tailOff+7)
	copy(want, "head")
	copy(want[tailOff+3:], "tail")
	got := make([]byte, len(want))
	if _, err := in.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("gap between writes does not read as zeroes")
	}
}

func TestSectorAt(t *testing.T) {
	const sectors = D + P + 2
	fs, _ := newTestFS(t, testSectors)
	in := createOpen(t, fs, sectors*disklayout.SectorSize)
	defer mustClose(t, in)

	// Data sectors in file order, with each index block after its entries.
	allocated, err := in.AllocatedSectors()
	if err != nil {
		t.Fatalf("AllocatedSectors failed: %v", err)
	}
	for _, tc := range []struct {
		name    string
		off     int64
		want    uint32
		wantErr error
	}{
		{name: "first byte", off: 0, want: allocated[0]},
		{name: "inside last direct", off: D*disklayout.SectorSize - 1, want: allocated[D-1]},
		{name: "first indirect", off: D * disklayout.SectorSize, want: allocated[D]},
		{name: "last indirect", off: (D+P)*disklayout.SectorSize - 1, want: allocated[D+P-1]},
		{name: "first double indirect", off: (D + P) * disklayout.SectorSize, want: allocated[D+P+1]},
		{name: "second double indirect", off: (D+P+1)*disklayout.SectorSize + 100, want: allocated[D+P+2]},
		{name: "unmapped", off: sectors * disklayout.SectorSize, wantErr: ErrNotMapped},
		{name: "beyond capacity", off: disklayout.MaxFileSize, wantErr: ErrCapacityExceeded},
		{name: "negative", off: -1, wantErr: ErrInvalid},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := in.SectorAt(tc.off)
			if !errors.Is(err, tc.wantErr) || got != tc.want {
				t.Errorf("SectorAt(%d) = %d, %v, want %d, %v", tc.off, got, err, tc.want, tc.wantErr)
			}
		})
	}
}

func TestSectorIO(t *testing.T) {
	fs, dev := newTestFS(t, testSectors)
	in := createOpen(t, fs, 4*disklayout.SectorSize)
	defer mustClose(t, in)

	for _, tc := range []struct {
		name       string
		op         func() error
		wantReads  uint64
		wantWrites uint64
	}{
		{
			name: "aligned write",
			op: func() error {
				_, err := in.WriteAt(make([]byte, disklayout.SectorSize), disklayout.SectorSize)
				return err
			},
			wantWrites: 1,
		},
		{
			name: "partial write",
			op: func() error {
				_, err := in.WriteAt(make([]byte, 100), 1100)
				return err
			},
			wantReads:  1,
			wantWrites: 1,
		},
		{
			name: "write straddling sectors",
			op: func() error {
				_, err := in.WriteAt(make([]byte, disklayout.SectorSize), 256)
				return err
			},
			wantReads:  2,
			wantWrites: 2,
		},
		{
			name: "aligned read",
			op: func() error {
				_, err := in.ReadAt(make([]byte, 2*disklayout.SectorSize), 0)
				return err
			},
			wantReads: 2,
		},
		{
			name: "partial read",
			op: func() error {
				_, err := in.ReadAt(make([]byte, 10), 1500)
				return err
			},
			wantReads: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reads, writes := dev.Stats()
			if err := tc.op(); err != nil {
				t.Fatalf("op failed: %v", err)
			}
			r, w := dev.Stats()
			if r-reads != tc.wantReads || w-writes != tc.wantWrites {
				t.Errorf("op did %d reads and %d writes, want %d and %d", r-reads, w-writes, tc.wantReads, tc.wantWrites)
			}
		})
	}
}

func TestConcurrentWriters(t *testing.T) {
	const (
		writers = 32
		chunk   = 1500
	)
	fs, _ := newTestFS(t, testSectors)
	in := createOpen(t, fs, 0)
	defer mustClose(t, in)

	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := in.WriteAt(bytes.Repeat([]byte{byte(i + 1)}, chunk), int64(i)*chunk)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if got := in.Length(); got != writers*chunk {
		t.Fatalf("Length() = %d, want %d", got, writers*chunk)
	}

	var readers errgroup.Group
	for i := 0; i < writers; i++ {
		readers.Go(func() error {
			got := make([]byte, chunk)
			if _, err := in.ReadAt(got, int64(i)*chunk); err != nil {
				return err
			}
			if want := bytes.Repeat([]byte{byte(i + 1)}, chunk); !bytes.Equal(got, want) {
				return errors.New("chunk mismatch")
			}
			return nil
		})
	}
	if err := readers.Wait(); err != nil {
		t.Errorf("concurrent read: %v", err)
	}
}

func TestDenyWriteWaitsForWriters(t *testing.T) {
	dev := newGatedDevice(testSectors)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	in := createOpen(t, fs, disklayout.SectorSize)
	defer mustClose(t, in)
	sector, err := in.SectorAt(0)
	if err != nil {
		t.Fatalf("SectorAt failed: %v", err)
	}

	entered, release := dev.gate(sector)
	var writer errgroup.Group
	writer.Go(func() error {
		_, err := in.WriteAt(pattern(disklayout.SectorSize, 4), 0)
		return err
	})
	<-entered

	denied := make(chan struct{})
	go func() {
		in.DenyWrite()
		close(denied)
	}()
	select {
	case <-denied:
		t.Errorf("DenyWrite returned while a write was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	if err := writer.Wait(); err != nil {
		t.Fatalf("WriteAt started before DenyWrite failed: %v", err)
	}
	<-denied
	if n, err := in.WriteAt([]byte("x"), 0); n != 0 || !errors.Is(err, ErrWriteDenied) {
		t.Errorf("WriteAt after DenyWrite = %d, %v, want 0, %v", n, err, ErrWriteDenied)
	}
	in.AllowWrite()
}
