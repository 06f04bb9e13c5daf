// Copyright 2018 The gVisor Authors.
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

// Package fd provides positional I/O on host file descriptors.
package fd

import (
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ReadWriter implements io.ReaderAt and io.WriterAt for fd. It does not take
// ownership of fd.
type ReadWriter struct {
	// fd is accessed atomically so FD.Close can swap it.
	fd atomic.Int64
}

var _ io.ReaderAt = (*ReadWriter)(nil)
var _ io.WriterAt = (*ReadWriter)(nil)

func fixCount(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}
	return n, err
}

// ReadAt implements io.ReaderAt.
//
// ReadAt retries on EINTR and always returns a non-nil error when
// c < len(b).
func (r *ReadWriter) ReadAt(b []byte, off int64) (c int, err error) {
	for len(b) > 0 {
		var m int
		m, err = fixCount(unix.Pread(int(r.fd.Load()), b, off))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return c, err
		}
		if m == 0 {
			return c, io.EOF
		}
		c += m
		b = b[m:]
		off += int64(m)
	}
	return c, nil
}

// WriteAt implements io.WriterAt.
//
// WriteAt retries on EINTR and on short writes.
func (r *ReadWriter) WriteAt(b []byte, off int64) (c int, err error) {
	for len(b) > 0 {
		var m int
		m, err = fixCount(unix.Pwrite(int(r.fd.Load()), b, off))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return c, err
		}
		if m == 0 {
			// There is no way to guarantee that a subsequent pwrite will make
			// forward progress so just panic.
			panic(fmt.Sprintf("pwrite returned %d with no error", m))
		}
		c += m
		b = b[m:]
		off += int64(m)
	}
	return c, nil
}

// FD owns a host file descriptor.
//
// Like os.File, FD adds a finalizer to close the backing FD.
type FD struct {
	ReadWriter
}

// New creates a new FD.
//
// New takes ownership of fd.
func New(fd int) *FD {
	f := &FD{}
	f.fd.Store(int64(fd))
	if fd >= 0 {
		runtime.SetFinalizer(f, (*FD).Close)
	}
	return f
}

// Open is equivalent to open(2).
func Open(path string, openmode int, perm uint32) (*FD, error) {
	f, err := unix.Open(path, openmode|unix.O_LARGEFILE|unix.O_CLOEXEC, perm)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// Sync flushes file data to stable storage.
func (f *FD) Sync() error {
	for {
		err := unix.Fdatasync(f.FD())
		if err != unix.EINTR {
			return err
		}
	}
}

// Size returns the current size of the file in bytes.
func (f *FD) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.FD(), &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}

// Truncate sets the size of the file.
func (f *FD) Truncate(size int64) error {
	return unix.Ftruncate(f.FD(), size)
}

// Close closes the file descriptor contained in the FD.
//
// Close is safe to call multiple times, but will return an error after the
// first call.
func (f *FD) Close() error {
	runtime.SetFinalizer(f, nil)
	return unix.Close(int(f.fd.Swap(-1)))
}

// FD returns the file descriptor owned by FD. FD retains ownership.
func (f *FD) FD() int {
	return int(f.fd.Load())
}
