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

// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/sectorfs/pkg/log"
)

// ErrorLogger is where error messages should be written to, in addition to
// stderr. It is set from the --log flag.
var ErrorLogger io.Writer

// jsonError is the format of error messages written to ErrorLogger.
type jsonError struct {
	Msg   string    `json:"msg"`
	Level string    `json:"level"`
	Time  time.Time `json:"time"`
}

// Writef writes a message to stderr and to ErrorLogger, if set.
func Writef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger != nil {
		_ = json.NewEncoder(ErrorLogger).Encode(jsonError{
			Msg:   msg,
			Level: "error",
			Time:  time.Now(),
		})
	}
}

// Errorf logs an error, writes it to stderr and returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	// If debug flags are set, log this error.
	log.Warningf(format, args...)
	Writef(format, args...)
	return subcommands.ExitFailure
}

// Fatalf logs an error, writes it to stderr, and exits with status 128.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	Writef(format, args...)
	os.Exit(128)
}
