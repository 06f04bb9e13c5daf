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
	"gvisor.dev/sectorfs/pkg/sectorfs/disklayout"
)

// Df implements subcommands.Command for the "df" command.
type Df struct{}

// Name implements subcommands.Command.Name.
func (*Df) Name() string {
	return "df"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Df) Synopsis() string {
	return "report volume space usage"
}

// Usage implements subcommands.Command.Usage.
func (*Df) Usage() string {
	return `df - print total, used and free sectors.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Df) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (d *Df) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := d.run(conf, os.Stdout); err != nil {
		return util.Errorf("df failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (*Df) run(conf *config.Config, out io.Writer) error {
	return withVolume(conf, func(v *volume) error {
		total, free := v.fs.Sectors(), v.fs.FreeSectors()
		fmt.Fprintf(out, "%-8s %10s %10s %10s\n", "", "total", "used", "free")
		fmt.Fprintf(out, "%-8s %10d %10d %10d\n", "sectors", total, total-free, free)
		fmt.Fprintf(out, "%-8s %10d %10d %10d\n", "bytes", int64(total)*disklayout.SectorSize, int64(total-free)*disklayout.SectorSize, int64(free)*disklayout.SectorSize)
		return nil
	})
}
