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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/sectorfs/cmd/sectorfs/cmd/util"
	"gvisor.dev/sectorfs/cmd/sectorfs/config"
)

// Create implements subcommands.Command for the "create" command.
type Create struct {
	size   int64
	dir    bool
	parent uint
}

// Name implements subcommands.Command.Name.
func (*Create) Name() string {
	return "create"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Create) Synopsis() string {
	return "allocate a new inode and print its number"
}

// Usage implements subcommands.Command.Usage.
func (*Create) Usage() string {
	return `create [flags] - create an inode with -size zeroed bytes.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Create) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.size, "size", 0, "initial length in bytes.")
	f.BoolVar(&c.dir, "dir", false, "mark the inode as a directory.")
	f.UintVar(&c.parent, "parent", 0, "inode number of the containing directory. Defaults to the root directory.")
}

// Execute implements subcommands.Command.Execute.
func (c *Create) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := c.run(conf, os.Stdout); err != nil {
		return util.Errorf("create failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (c *Create) run(conf *config.Config, out io.Writer) error {
	return withVolume(conf, func(v *volume) error {
		parent := uint32(c.parent)
		if parent == 0 {
			parent = v.fs.Root()
		}
		dir, err := v.fs.Open(parent)
		if err != nil {
			return fmt.Errorf("opening parent: %w", err)
		}
		isDir := dir.IsDir()
		if err := dir.Close(); err != nil {
			return err
		}
		if !isDir {
			return fmt.Errorf("parent inode %d is not a directory", parent)
		}

		inum, err := v.fs.CreateInode(c.size, c.dir, parent)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\n", inum)
		return nil
	})
}
