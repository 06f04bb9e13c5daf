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

// Rm implements subcommands.Command for the "rm" command.
type Rm struct{}

// Name implements subcommands.Command.Name.
func (*Rm) Name() string {
	return "rm"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Rm) Synopsis() string {
	return "delete inodes and free their sectors"
}

// Usage implements subcommands.Command.Usage.
func (*Rm) Usage() string {
	return `rm <inode>... - delete each inode.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Rm) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (r *Rm) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := r.run(conf, os.Stdout, f.Args()); err != nil {
		return util.Errorf("rm failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (*Rm) run(conf *config.Config, out io.Writer, args []string) error {
	return withVolume(conf, func(v *volume) error {
		for _, arg := range args {
			inum, err := parseInumber(arg)
			if err != nil {
				return err
			}
			if inum == v.fs.Root() {
				return fmt.Errorf("refusing to remove the root directory")
			}
			in, err := v.fs.Open(inum)
			if err != nil {
				return err
			}
			free := v.fs.FreeSectors()
			in.Remove()
			if err := in.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "removed inode %d, freed %d sectors\n", inum, v.fs.FreeSectors()-free)
		}
		return nil
	})
}
