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
	"fmt"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/sectorfs/pkg/fd"
	"gvisor.dev/sectorfs/pkg/log"
)

// File is a Device backed by a host image file.
//
// The image is locked exclusively while open so that two processes never
// mount the same volume.
type File struct {
	path    string
	fd      *fd.FD
	lock    *flock.Flock
	sectors uint32
	closed  atomic.Bool
}

// Compiles only if File implements Device.
var _ Device = (*File)(nil)

// CreateFile creates (or truncates) an image file of the given number of
// sectors and opens it.
func CreateFile(path string, sectors uint32) (*File, error) {
	if sectors == 0 {
		return nil, fmt.Errorf("image %q: zero sectors", path)
	}
	f, err := openFile(path, unix.O_RDWR|unix.O_CREAT)
	if err != nil {
		return nil, err
	}
	if err := f.fd.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating image %q: %w", path, err)
	}
	if err := f.fd.Truncate(int64(sectors) * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing image %q: %w", path, err)
	}
	f.sectors = sectors
	log.Infof("Created image %q with %d sectors", path, sectors)
	return f, nil
}

// OpenFile opens an existing image file. Trailing bytes that do not fill a
// whole sector are ignored.
func OpenFile(path string) (*File, error) {
	f, err := openFile(path, unix.O_RDWR)
	if err != nil {
		return nil, err
	}
	size, err := f.fd.Size()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image %q: %w", path, err)
	}
	if size%SectorSize != 0 {
		log.Warningf("Image %q size %d is not a multiple of %d, ignoring the tail", path, size, SectorSize)
	}
	f.sectors = uint32(size / SectorSize)
	log.Debugf("Opened image %q with %d sectors", path, f.sectors)
	return f, nil
}

func openFile(path string, flags int) (*File, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking image %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("image %q is in use by another process", path)
	}
	f, err := fd.Open(path, flags, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening image %q: %w", path, err)
	}
	return &File{path: path, fd: f, lock: lock}, nil
}

// ReadSector implements Device.ReadSector.
func (f *File) ReadSector(sector uint32, buf []byte) error {
	if err := checkTransfer(f, sector, buf); err != nil {
		return err
	}
	if f.closed.Load() {
		return ErrClosed
	}
	if _, err := f.fd.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("reading sector %d of %q: %w", sector, f.path, err)
	}
	return nil
}

// WriteSector implements Device.WriteSector.
func (f *File) WriteSector(sector uint32, buf []byte) error {
	if err := checkTransfer(f, sector, buf); err != nil {
		return err
	}
	if f.closed.Load() {
		return ErrClosed
	}
	if _, err := f.fd.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("writing sector %d of %q: %w", sector, f.path, err)
	}
	return nil
}

// Sectors implements Device.Sectors.
func (f *File) Sectors() uint32 {
	return f.sectors
}

// Sync implements Device.Sync.
func (f *File) Sync() error {
	if f.closed.Load() {
		return ErrClosed
	}
	if err := f.fd.Sync(); err != nil {
		return fmt.Errorf("syncing %q: %w", f.path, err)
	}
	return nil
}

// Close implements Device.Close.
func (f *File) Close() error {
	if f.closed.Swap(true) {
		return ErrClosed
	}
	err := f.fd.Close()
	if uerr := f.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
