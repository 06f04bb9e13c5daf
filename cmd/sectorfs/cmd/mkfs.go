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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/sectorfs/cmd/sectorfs/cmd/util"
	"gvisor.dev/sectorfs/cmd/sectorfs/config"
	"gvisor.dev/sectorfs/pkg/blockdev"
	"gvisor.dev/sectorfs/pkg/cleanup"
	"gvisor.dev/sectorfs/pkg/sectorfs"
)

// Mkfs implements subcommands.Command for the "mkfs" command.
type Mkfs struct {
	sectors uint
	force   bool
}

// Name implements subcommands.Command.Name.
func (*Mkfs) Name() string {
	return "mkfs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkfs) Synopsis() string {
	return "create an image file holding an empty volume"
}

// Usage implements subcommands.Command.Usage.
func (*Mkfs) Usage() string {
	return `mkfs [flags] - create the image named by --image.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkfs) SetFlags(f *flag.FlagSet) {
	f.UintVar(&m.sectors, "sectors", 8192, "size of the volume in 512-byte sectors.")
	f.BoolVar(&m.force, "force", false, "overwrite an existing image.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkfs) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := m.run(conf, os.Stdout); err != nil {
		return util.Errorf("mkfs failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (m *Mkfs) run(conf *config.Config, out io.Writer) error {
	if m.sectors == 0 || m.sectors > math.MaxUint32 {
		return fmt.Errorf("invalid volume size of %d sectors", m.sectors)
	}
	if !m.force {
		if _, err := os.Stat(conf.Image); err == nil {
			return fmt.Errorf("image %q already exists, use -force to overwrite it", conf.Image)
		}
	}

	dev, err := blockdev.CreateFile(conf.Image, uint32(m.sectors))
	if err != nil {
		return err
	}
	cu := cleanup.Make(func() { dev.Close() })
	defer cu.Clean()

	fs, err := sectorfs.Format(dev)
	if err != nil {
		return err
	}
	free := fs.FreeSectors()
	if err := fs.Close(); err != nil {
		return err
	}
	cu.Release()
	if err := dev.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d sectors, %d free, root directory at inode %d\n", conf.Image, fs.Sectors(), free, fs.Root())
	return nil
}
