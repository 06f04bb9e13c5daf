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

// Package cmd holds implementations of the sectorfs commands.
package cmd

import (
	"fmt"
	"strconv"

	"gvisor.dev/sectorfs/cmd/sectorfs/config"
	"gvisor.dev/sectorfs/pkg/blockdev"
	"gvisor.dev/sectorfs/pkg/cleanup"
	"gvisor.dev/sectorfs/pkg/sectorfs"
)

// volume is a mounted image file.
type volume struct {
	dev *blockdev.File
	fs  *sectorfs.Filesystem
}

// mountVolume opens and mounts the image named by conf.
func mountVolume(conf *config.Config) (*volume, error) {
	dev, err := blockdev.OpenFile(conf.Image)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { dev.Close() })
	defer cu.Clean()

	fs, err := sectorfs.Mount(dev)
	if err != nil {
		return nil, fmt.Errorf("mounting %q: %w", conf.Image, err)
	}
	cu.Release()
	return &volume{dev: dev, fs: fs}, nil
}

// Close unmounts the volume and closes the image file.
func (v *volume) Close() error {
	err := v.fs.Close()
	if cerr := v.dev.Close(); err == nil {
		err = cerr
	}
	return err
}

// parseInumber parses an inode number argument.
func parseInumber(arg string) (uint32, error) {
	n, err := strconv.ParseUint(arg, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid inode number %q: %w", arg, err)
	}
	return uint32(n), nil
}

// withVolume mounts the image named by conf, runs fn, and unmounts it. An
// error from fn takes precedence over an error unmounting.
func withVolume(conf *config.Config, fn func(v *volume) error) error {
	v, err := mountVolume(conf)
	if err != nil {
		return err
	}
	err = fn(v)
	if cerr := v.Close(); err == nil {
		err = cerr
	}
	return err
}
