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

// Package blockdev provides sector-addressed block devices.
//
// All transfers are exactly one sector long. Devices are safe for concurrent
// use; callers serialize access to any given sector themselves.
package blockdev

import (
	"errors"
	"fmt"

	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// SectorSize is the transfer unit of every Device.
const SectorSize = disklayout.SectorSize

var (
	// ErrOutOfRange is returned for a sector at or beyond the device size.
	ErrOutOfRange = errors.New("sector out of device range")

	// ErrBufferSize is returned when a transfer buffer is not one sector.
	ErrBufferSize = errors.New("buffer is not one sector long")

	// ErrClosed is returned for I/O on a closed device.
	ErrClosed = errors.New("device closed")
)

// Device is a block device.
type Device interface {
	// ReadSector reads sector into buf, which must be SectorSize bytes.
	ReadSector(sector uint32, buf []byte) error

	// WriteSector writes buf, which must be SectorSize bytes, to sector.
	WriteSector(sector uint32, buf []byte) error

	// Sectors returns the number of sectors on the device.
	Sectors() uint32

	// Sync flushes written sectors to stable storage.
	Sync() error

	// Close releases the device. Further I/O fails with ErrClosed.
	Close() error
}

// checkTransfer validates the arguments of a single sector transfer.
func checkTransfer(dev Device, sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("%w: got %d bytes", ErrBufferSize, len(buf))
	}
	if sector >= dev.Sectors() {
		return fmt.Errorf("%w: sector %d, device has %d", ErrOutOfRange, sector, dev.Sectors())
	}
	return nil
}

// Zero writes zeroes to sector.
func Zero(dev Device, sector uint32) error {
	var zeroes [SectorSize]byte
	return dev.WriteSector(sector, zeroes[:])
}
