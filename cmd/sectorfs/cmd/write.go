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
	"gvisor.dev/sectorfs/pkg/log"
)

// Write implements subcommands.Command for the "write" command.
type Write struct {
	offset int64
	input  string
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string {
	return "write"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string {
	return "write data into an inode, growing it as needed"
}

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write [flags] <inode> - copy -input (default stdin) into the inode.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&w.offset, "offset", 0, "byte offset to start writing at.")
	f.StringVar(&w.input, "input", "-", "file to read data from; '-' reads stdin.")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var in io.Reader = os.Stdin
	if w.input != "-" {
		file, err := os.Open(w.input)
		if err != nil {
			return util.Errorf("opening input: %v", err)
		}
		defer file.Close()
		in = file
	}
	if err := w.run(conf, in, os.Stdout, f.Arg(0)); err != nil {
		return util.Errorf("write failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (w *Write) run(conf *config.Config, in io.Reader, out io.Writer, arg string) error {
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
		if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
			return err
		}
		n, err := io.Copy(f, in)
		if err != nil {
			return fmt.Errorf("after %d bytes: %w", n, err)
		}
		log.Infof("Wrote %d bytes to inode %d at offset %d", n, inum, w.offset)
		fmt.Fprintf(out, "wrote %d bytes, length %d\n", n, f.Inode().Length())
		return f.Close()
	})
}
