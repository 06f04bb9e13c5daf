// Copyright 2022 The gVisor Authors.
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

package log

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited is a Logger that drops statements above a fixed rate and
// reports how many were dropped on the next statement that gets through.
type RateLimited struct {
	logger  Logger
	limit   *rate.Limiter
	dropped atomic.Uint64
}

// Compiles only if RateLimited implements Logger.
var _ Logger = (*RateLimited)(nil)

func (rl *RateLimited) emit(fn func(string, ...any), format string, v ...any) {
	if !rl.limit.Allow() {
		rl.dropped.Add(1)
		return
	}
	if n := rl.dropped.Swap(0); n > 0 {
		format += " (%d similar messages suppressed)"
		v = append(v, n)
	}
	fn(format, v...)
}

// Debugf implements Logger.Debugf.
func (rl *RateLimited) Debugf(format string, v ...any) {
	if rl.IsLogging(Debug) {
		rl.emit(rl.logger.Debugf, format, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *RateLimited) Infof(format string, v ...any) {
	if rl.IsLogging(Info) {
		rl.emit(rl.logger.Infof, format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *RateLimited) Warningf(format string, v ...any) {
	rl.emit(rl.logger.Warningf, format, v...)
}

// IsLogging implements Logger.IsLogging.
func (rl *RateLimited) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) *RateLimited {
	return RateLimitedLogger(globalLogger{}, every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) *RateLimited {
	return &RateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// globalLogger resolves the global logger on every call so that a later
// SetTarget is honored.
type globalLogger struct{}

func (globalLogger) Debugf(format string, v ...any)   { Log().DebugfAtDepth(3, format, v...) }
func (globalLogger) Infof(format string, v ...any)    { Log().InfofAtDepth(3, format, v...) }
func (globalLogger) Warningf(format string, v ...any) { Log().WarningfAtDepth(3, format, v...) }
func (globalLogger) IsLogging(level Level) bool       { return Log().IsLogging(level) }
