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
	"sync/atomic"

	"gvisor.dev/sectorfs/pkg/log"
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// inodeState tracks deferred deletion.
type inodeState int

const (
	// active inodes are written back on last close.
	active inodeState = iota

	// pendingDeletion inodes release all their sectors on last close.
	pendingDeletion
)

// Inode is an open inode. There is at most one Inode per sector in a
// Filesystem; every Open of the same sector returns the same Inode.
type Inode struct {
	// fs is the owning filesystem. Immutable.
	fs *Filesystem

	// sector holds the inode record and is the inode number. Immutable.
	sector uint32

	// refs is the number of open references. Protected by fs.mu.
	refs int64

	// state is Protected by fs.mu.
	state inodeState

	// denyWrites counts outstanding DenyWrite calls. Updated under fs.mu,
	// read atomically by writers.
	denyWrites atomic.Int32

	// mu protects disk and dirty. Readers hold it for reading; writes,
	// growth and record updates hold it for writing.
	mu sync.RWMutex

	// disk is the in-memory copy of the on-disk record.
	disk disklayout.Inode

	// dirty is true if disk differs from the record on disk.
	dirty bool

	// blocks caches index blocks.
	blocks blockMap
}

func newInode(fs *Filesystem, sector uint32, disk disklayout.Inode) *Inode {
	return &Inode{
		fs:     fs,
		sector: sector,
		disk:   disk,
	}
}

// incRefLocked adds a reference.
//
// Precondition: Must have locked fs.mu.
func (in *Inode) incRefLocked() {
	if in.refs <= 0 {
		panic(fmt.Sprintf("sectorfs: inode %d referenced after final close", in.sector))
	}
	in.refs++
}

// Reopen adds a reference to in and returns it.
func (in *Inode) Reopen() *Inode {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	in.incRefLocked()
	return in
}

// Close drops a reference. When the last reference is dropped, the inode
// leaves the open inode table and is either written back or, if removed,
// has all of its sectors released.
func (in *Inode) Close() error {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	return in.decRefLocked()
}

// decRefLocked drops a reference and tears the inode down at zero.
//
// Precondition: Must have locked fs.mu.
func (in *Inode) decRefLocked() error {
	in.refs--
	if in.refs > 0 {
		if int64(in.denyWrites.Load()) > in.refs {
			panic(fmt.Sprintf("sectorfs: inode %d has %d write denials but %d references", in.sector, in.denyWrites.Load(), in.refs))
		}
		return nil
	}
	if in.refs < 0 {
		panic(fmt.Sprintf("sectorfs: inode %d closed without holding a reference", in.sector))
	}
	if d := in.denyWrites.Load(); d != 0 {
		panic(fmt.Sprintf("sectorfs: inode %d closed with %d write denials outstanding", in.sector, d))
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	var err error
	if in.state == pendingDeletion {
		if err = in.releaseBlocksLocked(true /* inodeSector */); err == nil {
			// The record sector is free and may already be reused.
			in.dirty = false
		}
	} else {
		err = in.writeRecordLocked()
	}
	if err != nil {
		// Stay in the table without references. The next Open or Sync
		// retries the teardown.
		log.Warningf("Inode %d kept in memory after failed teardown: %v", in.sector, err)
		return err
	}
	in.fs.inodes.Delete(in)
	return nil
}

// revive gives an inode left in the table by a failed teardown its first
// reference again.
//
// Precondition: Must have locked fs.mu, and in.refs == 0.
func (in *Inode) revive() {
	in.refs = 1
}

// Remove marks the inode for deletion once its last reference is closed.
// Removing an inode twice has no further effect.
func (in *Inode) Remove() {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	in.state = pendingDeletion
}

// Removed returns true if Remove was called.
func (in *Inode) Removed() bool {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	return in.state == pendingDeletion
}

// OpenCount returns the number of open references.
func (in *Inode) OpenCount() int64 {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	return in.refs
}

// Inumber returns the inode number, which is the sector of its record.
func (in *Inode) Inumber() uint32 {
	return in.sector
}

// Length returns the file length in bytes.
func (in *Inode) Length() int64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return int64(in.disk.Length)
}

// IsDir returns true if the inode is a directory.
func (in *Inode) IsDir() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.disk.IsDir()
}

// Parent returns the inode number of the containing directory.
func (in *Inode) Parent() uint32 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.disk.Parent
}

// SetParent records a new containing directory.
func (in *Inode) SetParent(parent uint32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.disk.Parent != parent {
		in.disk.Parent = parent
		in.dirty = true
	}
}

// Record returns a copy of the inode record as it will be written to disk.
func (in *Inode) Record() disklayout.Inode {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.disk
}

// DenyWrite makes writes to the inode fail until a matching AllowWrite. It is
// used for files backing running programs.
func (in *Inode) DenyWrite() {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	// Wait for writes in progress.
	in.mu.Lock()
	defer in.mu.Unlock()
	if d := in.denyWrites.Add(1); int64(d) > in.refs {
		panic(fmt.Sprintf("sectorfs: inode %d has %d write denials but %d references", in.sector, d, in.refs))
	}
}

// AllowWrite reverses one DenyWrite.
//
// Precondition: DenyWrite was called more times than AllowWrite.
func (in *Inode) AllowWrite() {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	if in.denyWrites.Add(-1) < 0 {
		panic(fmt.Sprintf("sectorfs: inode %d: AllowWrite without DenyWrite", in.sector))
	}
}

// WriteDenied returns true if writes are currently denied.
func (in *Inode) WriteDenied() bool {
	return in.denyWrites.Load() > 0
}

// writeRecordLocked writes the record back if it changed.
//
// Precondition: Must have locked in.mu for writing.
func (in *Inode) writeRecordLocked() error {
	if !in.dirty {
		return nil
	}
	buf := make([]byte, disklayout.SectorSize)
	in.disk.MarshalBytes(buf)
	if err := in.fs.dev.WriteSector(in.sector, buf); err != nil {
		return fmt.Errorf("writing inode %d: %w", in.sector, err)
	}
	in.dirty = false
	return nil
}

// releaseBlocksLocked returns every data and index sector of the inode, and
// if inodeSector is set the record sector too, to the free map. All index
// blocks are read before anything is released, so an I/O error releases
// nothing.
//
// Precondition: Must have locked in.mu for writing.
func (in *Inode) releaseBlocksLocked(inodeSector bool) error {
	sectors, err := in.allocatedSectorsLocked()
	if err != nil {
		return fmt.Errorf("releasing inode %d: %w", in.sector, err)
	}
	if inodeSector {
		sectors = append(sectors, in.sector)
	}
	for _, s := range sectors {
		in.fs.freeMap.Release(s, 1)
	}
	in.blocks.invalidate()
	log.Debugf("Released %d sectors of inode %d", len(sectors), in.sector)
	return nil
}
