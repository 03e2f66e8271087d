// Copyright 2025 The Kerners Authors.
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
	"time"

	"golang.org/x/time/rate"

	"github.com/yangbeom/kerners/pkg/atomicbitops"
)

// rateLimited drops messages beyond the configured rate instead of blocking
// the caller. Suppressed messages are counted, and the count is reported
// ahead of the next message that gets through.
type rateLimited struct {
	logger  Logger
	lim     *rate.Limiter
	dropped atomicbitops.Uint32
}

// admit charges one message against the limiter.
func (rl *rateLimited) admit() bool {
	if !rl.lim.Allow() {
		rl.dropped.Add(1)
		return false
	}
	if n := rl.dropped.Swap(0); n > 0 {
		rl.logger.Warningf("suppressed %d rate-limited log messages", n)
	}
	return true
}

func (rl *rateLimited) Debugf(format string, v ...any) {
	if rl.admit() {
		rl.logger.Debugf(format, v...)
	}
}

func (rl *rateLimited) Infof(format string, v ...any) {
	if rl.admit() {
		rl.logger.Infof(format, v...)
	}
}

func (rl *rateLimited) Warningf(format string, v ...any) {
	if rl.admit() {
		rl.logger.Warningf(format, v...)
	}
}

func (rl *rateLimited) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that forwards to logger no more than
// once per the provided duration, dropping the excess.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimited{
		logger: logger,
		lim:    rate.NewLimiter(rate.Every(every), 1),
	}
}
