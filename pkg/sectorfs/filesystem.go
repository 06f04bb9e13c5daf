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

// Package sectorfs implements the inode layer of a single-volume file system.
//
// An inode occupies one sector and maps the byte range of a file onto data
// sectors through direct, single indirect and double indirect pointers.
// Files grow on write. Open inodes are shared by sector number and reference
// counted; a removed inode keeps its sectors until its last reference is
// closed.
//
// Lock order:
//
//	Filesystem.mu
//	  Inode.mu
//	    blockMap.mu
//	      freemap.Map.mu
package sectorfs

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"gvisor.dev/sectorfs/pkg/blockdev"
	"gvisor.dev/sectorfs/pkg/freemap"
	"gvisor.dev/sectorfs/pkg/log"
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// inodeTableDegree is the btree degree of the open inode table.
const inodeTableDegree = 8

// Filesystem is a mounted sectorfs volume.
//
// Filesystem does not own its device: Close flushes metadata but leaves the
// device open.
type Filesystem struct {
	// dev is the underlying block device. It is safe for concurrent use.
	dev blockdev.Device

	// freeMap allocates sectors. It has its own lock.
	freeMap *freemap.Map

	// sb is the superblock. Immutable after Format or Mount.
	sb disklayout.SuperBlock

	// mu protects the fields below, and the refs, state and denyWrites
	// fields of every open Inode.
	mu sync.Mutex

	// inodes holds every open inode, ordered by sector. An inode is removed
	// once its reference count drops to zero.
	inodes *btree.BTreeG[*Inode]

	// closed is set by Close.
	closed bool
}

func inodeLess(a, b *Inode) bool {
	return a.sector < b.sector
}

func newFilesystem(dev blockdev.Device, fm *freemap.Map, sb disklayout.SuperBlock) *Filesystem {
	return &Filesystem{
		dev:     dev,
		freeMap: fm,
		sb:      sb,
		inodes:  btree.NewG(inodeTableDegree, inodeLess),
	}
}

// Format writes an empty volume to dev and mounts it. The volume holds a
// superblock, the free map and an empty root directory that is its own
// parent.
func Format(dev blockdev.Device) (*Filesystem, error) {
	fm, err := freemap.Create(dev)
	if err != nil {
		return nil, fmt.Errorf("formatting: %w", err)
	}
	start, sectors := fm.Location()
	sb := disklayout.SuperBlock{
		Magic:          disklayout.SuperBlockMagic,
		Sectors:        dev.Sectors(),
		FreeMapStart:   start,
		FreeMapSectors: sectors,
	}
	fs := newFilesystem(dev, fm, sb)

	root, err := fm.Allocate(1)
	if err != nil {
		return nil, fmt.Errorf("allocating root directory: %w", err)
	}
	if err := fs.Create(root, 0, true /* isDir */, root); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	fs.sb.RootInode = root

	buf := make([]byte, disklayout.SectorSize)
	fs.sb.MarshalBytes(buf)
	if err := dev.WriteSector(disklayout.SuperBlockSector, buf); err != nil {
		return nil, fmt.Errorf("writing superblock: %w", err)
	}
	if err := fs.Sync(); err != nil {
		return nil, err
	}
	log.Infof("Formatted volume: %d sectors, free map at [%d, %d), root directory at sector %d", sb.Sectors, start, start+sectors, root)
	return fs, nil
}

// Mount reads the superblock and free map of a volume created by Format.
func Mount(dev blockdev.Device) (*Filesystem, error) {
	buf := make([]byte, disklayout.SectorSize)
	if err := dev.ReadSector(disklayout.SuperBlockSector, buf); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	var sb disklayout.SuperBlock
	sb.UnmarshalBytes(buf)
	if !sb.Valid() {
		return nil, fmt.Errorf("superblock magic %#x: %w", sb.Magic, ErrCorrupt)
	}
	if sb.Sectors != dev.Sectors() {
		return nil, fmt.Errorf("superblock describes %d sectors, device has %d: %w", sb.Sectors, dev.Sectors(), ErrCorrupt)
	}
	fm, err := freemap.Load(dev)
	if err != nil {
		return nil, fmt.Errorf("mounting: %w", err)
	}
	if start, sectors := fm.Location(); start != sb.FreeMapStart || sectors != sb.FreeMapSectors {
		return nil, fmt.Errorf("free map at [%d, +%d), superblock says [%d, +%d): %w", start, sectors, sb.FreeMapStart, sb.FreeMapSectors, ErrCorrupt)
	}
	if sb.RootInode == disklayout.NoSector || !fm.IsAllocated(sb.RootInode) {
		return nil, fmt.Errorf("root directory sector %d not allocated: %w", sb.RootInode, ErrCorrupt)
	}
	fs := newFilesystem(dev, fm, sb)

	// Validate the root directory record.
	root, err := fs.Open(sb.RootInode)
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	if !root.IsDir() {
		if err := root.Close(); err != nil {
			log.Warningf("Closing root inode %d of rejected volume: %v", sb.RootInode, err)
		}
		return nil, fmt.Errorf("root inode %d is not a directory: %w", sb.RootInode, ErrCorrupt)
	}
	if err := root.Close(); err != nil {
		return nil, err
	}
	log.Infof("Mounted volume: %d sectors, %d free", sb.Sectors, fm.Free())
	return fs, nil
}

// Root returns the inode sector of the root directory.
func (fs *Filesystem) Root() uint32 {
	return fs.sb.RootInode
}

// FreeSectors returns the number of unallocated sectors.
func (fs *Filesystem) FreeSectors() uint32 {
	return fs.freeMap.Free()
}

// Sectors returns the size of the volume in sectors.
func (fs *Filesystem) Sectors() uint32 {
	return fs.sb.Sectors
}

// OpenInodes returns the number of inodes in the open inode table, including
// inodes whose final write-back failed and awaits a retry.
func (fs *Filesystem) OpenInodes() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.inodes.Len()
}

// lookupLocked returns the open inode for sector, or nil.
//
// Precondition: fs.mu must be locked.
func (fs *Filesystem) lookupLocked(sector uint32) *Inode {
	in, ok := fs.inodes.Get(&Inode{sector: sector})
	if !ok {
		return nil
	}
	return in
}

func (fs *Filesystem) checkSector(sector uint32) error {
	if sector == disklayout.NoSector || sector >= fs.sb.Sectors {
		return fmt.Errorf("inode sector %d outside volume of %d sectors: %w", sector, fs.sb.Sectors, ErrInvalid)
	}
	return nil
}

// Create writes a new inode record to sector, with length bytes of
// zero-filled data allocated. The sector itself must already be allocated by
// the caller. Create fails without leaking sectors.
func (fs *Filesystem) Create(sector uint32, length int64, isDir bool, parent uint32) error {
	if err := fs.checkSector(sector); err != nil {
		return err
	}
	if length < 0 {
		return fmt.Errorf("creating inode %d with length %d: %w", sector, length, ErrInvalid)
	}
	if length > disklayout.MaxFileSize {
		return fmt.Errorf("creating inode %d with length %d: %w", sector, length, ErrCapacityExceeded)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lookupLocked(sector) != nil {
		return fmt.Errorf("creating inode %d: %w", sector, ErrInUse)
	}

	in := newInode(fs, sector, disklayout.NewInode(isDir, parent))
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.growLocked(sectorsFor(length)); err != nil {
		return fmt.Errorf("creating inode %d: %w", sector, err)
	}
	in.disk.Length = int32(length)
	in.dirty = true
	if err := in.writeRecordLocked(); err != nil {
		if rerr := in.releaseBlocksLocked(false /* inodeSector */); rerr != nil {
			log.Warningf("Leaking sectors of inode %d after failed create: %v", sector, rerr)
		}
		return err
	}
	log.Debugf("Created inode %d: length %d, dir %t, parent %d", sector, length, isDir, parent)
	return nil
}

// CreateInode allocates a sector and creates an inode in it, returning the
// new inode number.
func (fs *Filesystem) CreateInode(length int64, isDir bool, parent uint32) (uint32, error) {
	sector, err := fs.freeMap.Allocate(1)
	if err != nil {
		return 0, fmt.Errorf("allocating inode sector: %w", err)
	}
	if err := fs.Create(sector, length, isDir, parent); err != nil {
		fs.freeMap.Release(sector, 1)
		return 0, err
	}
	return sector, nil
}

// Open returns the inode stored in sector. If the inode is already open, the
// existing handle is returned with an extra reference.
func (fs *Filesystem) Open(sector uint32) (*Inode, error) {
	if err := fs.checkSector(sector); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		panic("sectorfs: Open after Close")
	}
	if in := fs.lookupLocked(sector); in != nil {
		if in.refs == 0 {
			in.revive()
		} else {
			in.incRefLocked()
		}
		return in, nil
	}

	buf := make([]byte, disklayout.SectorSize)
	if err := fs.dev.ReadSector(sector, buf); err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", sector, err)
	}
	var disk disklayout.Inode
	disk.UnmarshalBytes(buf)
	if err := checkRecord(&disk); err != nil {
		return nil, fmt.Errorf("inode %d: %w", sector, err)
	}

	in := newInode(fs, sector, disk)
	in.refs = 1
	fs.inodes.ReplaceOrInsert(in)
	return in, nil
}

// checkRecord validates an inode record read from disk.
func checkRecord(d *disklayout.Inode) error {
	if !d.Valid() {
		return fmt.Errorf("magic %#x: %w", d.Magic, ErrBadMagic)
	}
	const p = disklayout.PointersPerBlock
	switch {
	case d.DirectCount > disklayout.NumDirect,
		d.IndirectCount > p,
		d.DoubleIndirectCount > p*p,
		d.IndirectCount > 0 && d.DirectCount != disklayout.NumDirect,
		d.DoubleIndirectCount > 0 && d.IndirectCount != p,
		(d.IndirectCount > 0) != (d.IndirectPtr != disklayout.NoSector),
		(d.DoubleIndirectCount > 0) != (d.DoubleIndirectPtr != disklayout.NoSector):
		return fmt.Errorf("tier counts %d/%d/%d: %w", d.DirectCount, d.IndirectCount, d.DoubleIndirectCount, ErrCorrupt)
	case d.Length < 0 || int64(d.Length) > int64(d.DataSectors())*disklayout.SectorSize:
		return fmt.Errorf("length %d with %d sectors: %w", d.Length, d.DataSectors(), ErrCorrupt)
	}
	return nil
}

// Sync writes back every modified open inode record, in sector order, then
// the free map, and flushes the device. Inodes are held open while their
// records are written, so a concurrent final Close defers its teardown to
// Sync.
func (fs *Filesystem) Sync() error {
	fs.mu.Lock()
	var open []*Inode
	fs.inodes.Ascend(func(in *Inode) bool {
		if in.refs == 0 {
			in.revive()
		} else {
			in.incRefLocked()
		}
		open = append(open, in)
		return true
	})
	fs.mu.Unlock()

	var err error
	for _, in := range open {
		in.mu.Lock()
		if err == nil {
			err = in.writeRecordLocked()
		}
		in.mu.Unlock()
	}

	fs.mu.Lock()
	for _, in := range open {
		if derr := in.decRefLocked(); err == nil {
			err = derr
		}
	}
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	if err := fs.freeMap.Flush(); err != nil {
		return err
	}
	return fs.dev.Sync()
}

// Close syncs the volume. Inodes still open are written back but stay
// allocated, even if removed.
func (fs *Filesystem) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.inodes.Ascend(func(in *Inode) bool {
		if in.refs > 0 {
			log.Warningf("Inode %d still open at unmount with %d references", in.sector, in.refs)
		}
		return true
	})
	fs.closed = true
	fs.mu.Unlock()
	return fs.Sync()
}
