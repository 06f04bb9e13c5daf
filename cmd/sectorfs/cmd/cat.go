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
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/sectorfs/cmd/sectorfs/cmd/util"
	"gvisor.dev/sectorfs/cmd/sectorfs/config"
)

// Cat implements subcommands.Command for the "cat" command.
type Cat struct {
	offset int64
	length int64
}

// Name implements subcommands.Command.Name.
func (*Cat) Name() string {
	return "cat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Cat) Synopsis() string {
	return "print the contents of an inode"
}

// Usage implements subcommands.Command.Usage.
func (*Cat) Usage() string {
	return `cat [flags] <inode> - write the inode's data to stdout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Cat) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.offset, "offset", 0, "byte offset to start reading at.")
	f.Int64Var(&c.length, "length", -1, "number of bytes to print; negative prints up to the end.")
}

// Execute implements subcommands.Command.Execute.
func (c *Cat) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := c.run(conf, os.Stdout, f.Arg(0)); err != nil {
		return util.Errorf("cat failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (c *Cat) run(conf *config.Config, out io.Writer, arg string) error {
	inum, err := parseInumber(arg)
	if err != nil {
		return err
	}
	return withVolume(conf, func(v *volume) error {
		f, err := v.fs.OpenFile(inum)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
			return err
		}
		var r io.Reader = f
		if c.length >= 0 {
			r = io.LimitReader(f, c.length)
		}
		if _, err := io.Copy(out, r); err != nil {
			return err
		}
		return f.Close()
	})
}
