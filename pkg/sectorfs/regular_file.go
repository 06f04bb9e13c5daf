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
	"io"

	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// Compiles only if Inode implements io.ReaderAt and io.WriterAt.
var (
	_ io.ReaderAt = (*Inode)(nil)
	_ io.WriterAt = (*Inode)(nil)
)

// ReadAt implements io.ReaderAt.ReadAt.
//
// A read that does not lie entirely within the file reads nothing and
// returns io.EOF. A short read is always accompanied by an error.
func (in *Inode) ReadAt(dst []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("reading inode %d at %d: %w", in.sector, off, ErrInvalid)
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	if off+int64(len(dst)) > int64(in.disk.Length) {
		return 0, io.EOF
	}

	var bounce []byte
	read := 0
	for read < len(dst) {
		sector, err := in.dataSectorLocked(uint32(off / disklayout.SectorSize))
		if err != nil {
			return read, err
		}
		sectorOff := int(off % disklayout.SectorSize)
		chunk := min(len(dst)-read, disklayout.SectorSize-sectorOff)

		if chunk == disklayout.SectorSize {
			// Full sector: read straight into the caller's buffer.
			if err := in.fs.dev.ReadSector(sector, dst[read:read+chunk]); err != nil {
				return read, fmt.Errorf("reading inode %d: %w", in.sector, err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, disklayout.SectorSize)
			}
			if err := in.fs.dev.ReadSector(sector, bounce); err != nil {
				return read, fmt.Errorf("reading inode %d: %w", in.sector, err)
			}
			copy(dst[read:read+chunk], bounce[sectorOff:])
		}
		read += chunk
		off += int64(chunk)
	}
	return read, nil
}

// WriteAt implements io.WriterAt.WriteAt.
//
// WriteAt grows the file as needed. It writes nothing and returns
// ErrWriteDenied while writes are denied.
func (in *Inode) WriteAt(src []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("writing inode %d at %d: %w", in.sector, off, ErrInvalid)
	}

	// DenyWrite takes in.mu, so a denial cannot land mid-write.
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.WriteDenied() {
		return 0, fmt.Errorf("writing inode %d: %w", in.sector, ErrWriteDenied)
	}
	if len(src) == 0 {
		return 0, nil
	}
	end := off + int64(len(src))
	if end > disklayout.MaxFileSize {
		return 0, fmt.Errorf("writing inode %d up to %d: %w", in.sector, end, ErrCapacityExceeded)
	}
	// The new length is visible before any data is copied.
	if err := in.extendLocked(end); err != nil {
		return 0, err
	}

	var bounce []byte
	written := 0
	for written < len(src) {
		sector, err := in.dataSectorLocked(uint32(off / disklayout.SectorSize))
		if err != nil {
			return written, err
		}
		sectorOff := int(off % disklayout.SectorSize)
		chunk := min(len(src)-written, disklayout.SectorSize-sectorOff)

		if chunk == disklayout.SectorSize {
			// Full sector: write straight from the caller's buffer.
			if err := in.fs.dev.WriteSector(sector, src[written:written+chunk]); err != nil {
				return written, fmt.Errorf("writing inode %d: %w", in.sector, err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, disklayout.SectorSize)
			}
			// The sector holds data outside the chunk; keep it.
			if err := in.fs.dev.ReadSector(sector, bounce); err != nil {
				return written, fmt.Errorf("writing inode %d: %w", in.sector, err)
			}
			copy(bounce[sectorOff:], src[written:written+chunk])
			if err := in.fs.dev.WriteSector(sector, bounce); err != nil {
				return written, fmt.Errorf("writing inode %d: %w", in.sector, err)
			}
		}
		written += chunk
		off += int64(chunk)
	}
	return written, nil
}
