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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// configFileFlag names the TOML file that supplies defaults for Config. It is
// not a Config field itself.
const configFileFlag = "config"

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String(configFileFlag, "", "TOML file with settings. Flags given on the command line take precedence.")
	flagSet.String("image", "sectorfs.img", "path of the volume image file.")

	// Debugging flags.
	flagSet.String("log", "", "file path where error messages are written, in addition to stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, json-k8s or logrus.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("debug-log-format", "text", "log format: text (default), json, json-k8s or logrus.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags. If --config names a file, its settings replace the flag defaults,
// and flags set explicitly on the command line replace the file's settings.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	if err := conf.setFromFlags(flagSet, flagSet.VisitAll); err != nil {
		return nil, err
	}

	if path := flagSet.Lookup(configFileFlag).Value.String(); path != "" {
		if err := conf.loadFile(path); err != nil {
			return nil, err
		}
		if err := conf.setFromFlags(flagSet, flagSet.Visit); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFromFlags copies into c the value of every flag passed to visit that has
// a matching field.
func (c *Config) setFromFlags(flagSet *flag.FlagSet, visit func(func(*flag.Flag))) error {
	fields := make(map[string]int)
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		if flagSet.Lookup(name) == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		fields[name] = i
	}

	var err error
	visit(func(fl *flag.Flag) {
		i, ok := fields[fl.Name]
		if !ok || err != nil {
			return
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			err = fmt.Errorf("flag %q does not implement flag.Getter", fl.Name)
			return
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()))
	})
	return err
}

// loadFile overwrites c with the settings in the TOML file at path. Keys
// that do not name a setting are an error.
func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("error reading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config file %q has unknown settings: %s", path, strings.Join(keys, ", "))
	}
	return nil
}
