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

package platform

import (
	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/sync"
)

// icacheHook, when set, observes every FlushICache call. Tests use it to
// verify that patched code ranges are flushed before execution.
var (
	icacheMu   sync.SpinMutex
	icacheHook func(addr uint64, length int)
)

// SetICacheHook installs fn as the icache observer and returns the previous
// hook.
func SetICacheHook(fn func(addr uint64, length int)) func(addr uint64, length int) {
	icacheMu.Lock()
	defer icacheMu.Unlock()
	old := icacheHook
	icacheHook = fn
	return old
}

// FlushICache makes [addr, addr+length) coherent between the data and
// instruction caches. The host has no foreign instruction cache to maintain,
// so this only records and reports the range; on real hardware it is the
// dc cvau / ic ivau (fence.i on RISC-V) sequence.
func FlushICache(addr uint64, length int) {
	icacheMu.Lock()
	hook := icacheHook
	icacheMu.Unlock()
	if hook != nil {
		hook(addr, length)
	}
	log.Debugf("icache flush [%#x, %#x)", addr, addr+uint64(length))
}
