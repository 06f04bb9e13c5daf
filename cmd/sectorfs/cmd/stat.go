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
	"golang.org/x/sync/errgroup"
	"gvisor.dev/sectorfs/cmd/sectorfs/cmd/util"
	"gvisor.dev/sectorfs/cmd/sectorfs/config"
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// Stat implements subcommands.Command for the "stat" command.
type Stat struct {
	sectors bool
}

// Name implements subcommands.Command.Name.
func (*Stat) Name() string {
	return "stat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stat) Synopsis() string {
	return "print inode records"
}

// Usage implements subcommands.Command.Usage.
func (*Stat) Usage() string {
	return `stat [flags] <inode>... - print the on-disk record of each inode.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stat) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.sectors, "sectors", false, "also list every data and index sector owned by the inode.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stat) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := s.run(conf, os.Stdout, f.Args()); err != nil {
		return util.Errorf("stat failed: %v", err)
	}
	return subcommands.ExitSuccess
}

// inodeStat is what stat reports about one inode.
type inodeStat struct {
	inum    uint32
	record  disklayout.Inode
	sectors []uint32
}

func (s *Stat) run(conf *config.Config, out io.Writer, args []string) error {
	inums := make([]uint32, len(args))
	for i, arg := range args {
		inum, err := parseInumber(arg)
		if err != nil {
			return err
		}
		inums[i] = inum
	}

	return withVolume(conf, func(v *volume) error {
		// Inodes are independent; read them in parallel.
		stats := make([]inodeStat, len(inums))
		var g errgroup.Group
		for i, inum := range inums {
			g.Go(func() error {
				in, err := v.fs.Open(inum)
				if err != nil {
					return err
				}
				defer in.Close()
				st := inodeStat{inum: inum, record: in.Record()}
				if s.sectors {
					if st.sectors, err = in.AllocatedSectors(); err != nil {
						return err
					}
				}
				stats[i] = st
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, st := range stats {
			printStat(out, st)
		}
		return nil
	})
}

func printStat(out io.Writer, st inodeStat) {
	r := &st.record
	kind := "file"
	if r.IsDir() {
		kind = "directory"
	}
	fmt.Fprintf(out, "inode %d: %s, %d bytes, parent %d\n", st.inum, kind, r.Length, r.Parent)
	fmt.Fprintf(out, "  data sectors: %d (direct %d, indirect %d, double indirect %d)\n", r.DataSectors(), r.DirectCount, r.IndirectCount, r.DoubleIndirectCount)
	fmt.Fprintf(out, "  index sectors: %d (indirect %d, double indirect %d)\n", r.IndexSectors(), r.IndirectPtr, r.DoubleIndirectPtr)
	if st.sectors != nil {
		fmt.Fprintf(out, "  sectors: %v\n", st.sectors)
	}
}
