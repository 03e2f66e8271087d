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

package sync

import (
	"github.com/yangbeom/kerners/pkg/atomicbitops"
)

// spinLimit is the number of acquisition attempts an adaptive mutex makes
// before it starts yielding between attempts.
const spinLimit = 100

// Mutex is an adaptive mutex: contended acquirers spin briefly on the
// assumption that critical sections are short, then fall back to yielding.
//
// There is no wait queue; wakeup order under heavy contention is unspecified.
// A Mutex must not be copied after first use. The zero value is an unlocked
// Mutex.
type Mutex struct {
	locked atomicbitops.Uint32
}

// Lock acquires m.
func (m *Mutex) Lock() {
	for spins := 0; ; {
		if m.locked.CompareAndSwap(0, 1) {
			return
		}
		for m.locked.Load() != 0 {
			spins++
			if spins < spinLimit {
				continue
			}
			Goyield()
			spins = 0
		}
	}
}

// TryLock attempts to acquire m without spinning. It returns true on
// success.
func (m *Mutex) TryLock() bool {
	return m.locked.CompareAndSwap(0, 1)
}

// Unlock releases m. It must only be called while m is held.
func (m *Mutex) Unlock() {
	m.locked.Store(0)
}
