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
	"errors"

	"gvisor.dev/sectorfs/pkg/freemap"
)

var (
	// ErrCapacityExceeded is returned when an offset or length lies beyond
	// the largest file an inode can address.
	ErrCapacityExceeded = errors.New("file capacity exceeded")

	// ErrNoSpace is returned when the free map cannot satisfy an allocation.
	ErrNoSpace = freemap.ErrNoSpace

	// ErrWriteDenied is returned by writes to an inode with writes denied.
	ErrWriteDenied = errors.New("writes to inode are denied")

	// ErrNotMapped is returned when translating an offset past the last
	// allocated sector.
	ErrNotMapped = errors.New("offset not backed by an allocated sector")

	// ErrBadMagic is returned when a sector does not hold an inode record.
	ErrBadMagic = errors.New("sector does not hold an inode")

	// ErrCorrupt is returned when on-disk metadata is inconsistent.
	ErrCorrupt = errors.New("corrupt filesystem metadata")

	// ErrInUse is returned when creating an inode over one that is open.
	ErrInUse = errors.New("inode sector is in use")

	// ErrInvalid is returned for negative offsets or lengths.
	ErrInvalid = errors.New("invalid argument")
)
