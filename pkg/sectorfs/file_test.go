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
	"testing"
)

func openTestFile(t *testing.T, fs *Filesystem) *File {
	t.Helper()
	sector, err := fs.CreateInode(0, false, fs.Root())
	if err != nil {
		t.Fatalf("CreateInode failed: %v", err)
	}
	f, err := fs.OpenFile(sector)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	return f
}

func TestFileReadWriteSeek(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	f := openTestFile(t, fs)
	defer f.Close()

	for _, s := range []string{"hello, ", "world"} {
		if _, err := io.WriteString(f, s); err != nil {
			t.Fatalf("Write(%q) failed: %v", s, err)
		}
	}
	if got := f.Tell(); got != 12 {
		t.Errorf("Tell() = %d, want 12", got)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "hello, world" {
		t.Errorf("ReadAll = %q, want %q", got, "hello, world")
	}
	if n, err := f.Read(make([]byte, 4)); n != 0 || err != io.EOF {
		t.Errorf("Read at end = %d, %v, want 0, EOF", n, err)
	}

	for _, tc := range []struct {
		name    string
		offset  int64
		whence  int
		want    int64
		wantErr error
	}{
		{name: "from end", offset: -5, whence: io.SeekEnd, want: 7},
		{name: "from current", offset: 2, whence: io.SeekCurrent, want: 9},
		{name: "past end", offset: 100, whence: io.SeekStart, want: 100},
		{name: "negative", offset: -1, whence: io.SeekStart, want: 100, wantErr: ErrInvalid},
		{name: "bad whence", offset: 0, whence: 42, want: 100, wantErr: ErrInvalid},
	} {
		pos, err := f.Seek(tc.offset, tc.whence)
		if pos != tc.want || !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: Seek(%d, %d) = %d, %v, want %d, %v", tc.name, tc.offset, tc.whence, pos, err, tc.want, tc.wantErr)
		}
	}
}

func TestFileShortRead(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	f := openTestFile(t, fs)
	defer f.Close()

	data := pattern(1000, 7)
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := f.Seek(-10, io.SeekEnd); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	buf := make([]byte, 100)
	n, err := f.Read(buf)
	if n != 10 || err != nil {
		t.Fatalf("Read near end = %d, %v, want 10, nil", n, err)
	}
	if !bytes.Equal(buf[:n], data[990:]) {
		t.Errorf("Read near end returned the wrong bytes")
	}

	var out bytes.Buffer
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if _, err := io.Copy(&out, f); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Copy returned different bytes than written")
	}
}

func TestFileDenyWrite(t *testing.T) {
	fs, _ := newTestFS(t, testSectors)
	f := openTestFile(t, fs)
	g := f.Reopen()
	defer g.Close()

	f.DenyWrite()
	f.DenyWrite()
	if _, err := g.Write([]byte("x")); !errors.Is(err, ErrWriteDenied) {
		t.Errorf("Write while denied = %v, want %v", err, ErrWriteDenied)
	}
	if g.Tell() != 0 {
		t.Errorf("denied Write moved the offset to %d", g.Tell())
	}

	// Closing the denying File lifts its denial.
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := g.Write([]byte("x")); err != nil {
		t.Errorf("Write after denying File closed = %v, want nil", err)
	}
	if err := f.Close(); !errors.Is(err, ErrInvalid) {
		t.Errorf("second Close = %v, want %v", err, ErrInvalid)
	}

	g.DenyWrite()
	g.AllowWrite()
	g.AllowWrite()
	if g.Inode().WriteDenied() {
		t.Errorf("WriteDenied() = true after AllowWrite")
	}
}
