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
	"sync"
)

// File is an open file description: an Inode reference plus a position.
type File struct {
	inode *Inode

	// mu protects the fields below.
	mu sync.Mutex

	off int64

	// denied is true if this File holds a write denial on inode.
	denied bool

	closed bool
}

// Compiles only if File implements io.ReadWriteSeeker and io.Closer.
var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

// NewFile returns a File positioned at offset 0. It takes ownership of the
// caller's reference on in.
func NewFile(in *Inode) *File {
	return &File{inode: in}
}

// OpenFile opens the inode in sector and wraps it in a File.
func (fs *Filesystem) OpenFile(sector uint32) (*File, error) {
	in, err := fs.Open(sector)
	if err != nil {
		return nil, err
	}
	return NewFile(in), nil
}

// Inode returns the underlying inode.
func (f *File) Inode() *Inode {
	return f.inode
}

// Reopen returns a new File for the same inode, positioned at offset 0.
func (f *File) Reopen() *File {
	return NewFile(f.inode.Reopen())
}

// Read implements io.Reader.Read. Unlike Inode.ReadAt, it returns the bytes
// up to the end of the file and io.EOF only when nothing is left.
func (f *File) Read(dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	remaining := f.inode.Length() - f.off
	if remaining <= 0 {
		if len(dst) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if int64(len(dst)) > remaining {
		dst = dst[:remaining]
	}
	n, err := f.inode.ReadAt(dst, f.off)
	f.off += int64(n)
	return n, err
}

// Write implements io.Writer.Write.
func (f *File) Write(src []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.inode.WriteAt(src, f.off)
	f.off += int64(n)
	return n, err
}

// Seek implements io.Seeker.Seek.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.off
	case io.SeekEnd:
		offset += f.inode.Length()
	default:
		return f.off, fmt.Errorf("seek whence %d: %w", whence, ErrInvalid)
	}
	if offset < 0 {
		return f.off, fmt.Errorf("seek to %d: %w", offset, ErrInvalid)
	}
	f.off = offset
	return offset, nil
}

// Tell returns the current position.
func (f *File) Tell() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.off
}

// DenyWrite denies writes to the inode until AllowWrite or Close. Repeated
// calls on the same File have no further effect.
func (f *File) DenyWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.denied {
		f.denied = true
		f.inode.DenyWrite()
	}
}

// AllowWrite drops the write denial held by this File, if any.
func (f *File) AllowWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		f.denied = false
		f.inode.AllowWrite()
	}
}

// Close implements io.Closer.Close. It drops any write denial held by the
// File and closes its inode reference.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("file already closed: %w", ErrInvalid)
	}
	f.closed = true
	if f.denied {
		f.denied = false
		f.inode.AllowWrite()
	}
	return f.inode.Close()
}
