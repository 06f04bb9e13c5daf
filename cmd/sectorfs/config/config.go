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

// Package config provides basic infrastructure to set configuration settings
// for sectorfs. Each setting that can be changed from the command line has a
// flag tag, and may also be set from a TOML file named by --config.
package config

import (
	"fmt"

	"gvisor.dev/sectorfs/pkg/log"
)

// Config holds configuration that is shared by all sectorfs commands.
type Config struct {
	// Image is the path of the volume image file.
	Image string `flag:"image" toml:"image"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. If it
	// ends with '/', a file is created in that directory for each command.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug_log_format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`
}

// logFormats are the accepted values of LogFormat and DebugLogFormat.
var logFormats = map[string]struct{}{
	"text":     {},
	"json":     {},
	"json-k8s": {},
	"logrus":   {},
}

func (c *Config) validate() error {
	if _, ok := logFormats[c.LogFormat]; !ok {
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', 'json-k8s' or 'logrus'", c.LogFormat)
	}
	if _, ok := logFormats[c.DebugLogFormat]; !ok {
		return fmt.Errorf("invalid debug log format %q, must be 'text', 'json', 'json-k8s' or 'logrus'", c.DebugLogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Image: %s", c.Image)
	log.Infof("Debug: %t", c.Debug)
	log.Debugf("Log: %q (%s), debug log: %q (%s), also to stderr: %t", c.LogFilename, c.LogFormat, c.DebugLog, c.DebugLogFormat, c.AlsoLogToStderr)
}
