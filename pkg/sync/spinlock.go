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

// SpinMutex is a test-and-set spinlock.
//
// A SpinMutex must not be copied after first use. The zero value is an
// unlocked SpinMutex.
type SpinMutex struct {
	locked atomicbitops.Uint32
}

// Lock acquires m, spinning until it is available.
func (m *SpinMutex) Lock() {
	for !m.TryLock() {
		for m.locked.Load() != 0 {
			Goyield()
		}
	}
}

// TryLock attempts to acquire m in a single atomic operation. It returns
// true on success.
func (m *SpinMutex) TryLock() bool {
	return m.locked.CompareAndSwap(0, 1)
}

// Unlock releases m. It must only be called while m is held.
func (m *SpinMutex) Unlock() {
	m.locked.Store(0)
}

// IsLocked returns whether m is currently held. The answer may be stale by
// the time the caller observes it; it is intended for assertions and
// diagnostics only.
func (m *SpinMutex) IsLocked() bool {
	return m.locked.Load() != 0
}

// TicketMutex is a fair spinlock: acquirers are served strictly in arrival
// order.
//
// A TicketMutex must not be copied after first use. The zero value is an
// unlocked TicketMutex.
type TicketMutex struct {
	next  atomicbitops.Uint32
	owner atomicbitops.Uint32
}

// Lock acquires m, spinning until the caller's ticket comes up.
func (m *TicketMutex) Lock() {
	ticket := m.next.Add(1) - 1
	for m.owner.Load() != ticket {
		Goyield()
	}
}

// Unlock releases m, admitting the next ticket holder. It must only be
// called while m is held.
func (m *TicketMutex) Unlock() {
	m.owner.Add(1)
}
