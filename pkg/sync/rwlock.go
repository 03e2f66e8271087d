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

// writerLocked is the state value encoding an exclusively held RWMutex.
const writerLocked = -1

// RWMutex is a writer-priority readers-writer spinlock.
//
// state encodes the lock: 0 is free, -1 is an exclusive writer, and a
// positive value is the number of active readers. While a writer is waiting
// (writerWaiting set), new readers back off so the writer cannot starve.
//
// An RWMutex must not be copied after first use. The zero value is an
// unlocked RWMutex.
type RWMutex struct {
	state         atomicbitops.Int32
	writerWaiting atomicbitops.Bool
}

// RLock acquires m for reading. Multiple readers may hold m concurrently.
func (m *RWMutex) RLock() {
	for {
		if !m.writerWaiting.Load() {
			s := m.state.Load()
			if s >= 0 && m.state.CompareAndSwap(s, s+1) {
				return
			}
		}
		Goyield()
	}
}

// TryRLock attempts a single read acquisition. It fails if a writer holds m
// or is waiting for it.
func (m *RWMutex) TryRLock() bool {
	if m.writerWaiting.Load() {
		return false
	}
	s := m.state.Load()
	return s >= 0 && m.state.CompareAndSwap(s, s+1)
}

// RUnlock releases one read hold on m. It must only be called while m is
// read-held.
func (m *RWMutex) RUnlock() {
	m.state.Add(-1)
}

// Lock acquires m exclusively.
func (m *RWMutex) Lock() {
	m.writerWaiting.Store(true)
	for !m.state.CompareAndSwap(0, writerLocked) {
		Goyield()
	}
	m.writerWaiting.Store(false)
}

// TryLock attempts a single exclusive acquisition.
func (m *RWMutex) TryLock() bool {
	return m.state.CompareAndSwap(0, writerLocked)
}

// Unlock releases an exclusive hold on m. It must only be called while m is
// write-held.
func (m *RWMutex) Unlock() {
	m.state.Store(0)
}

// TryUpgrade attempts to convert a read hold into an exclusive hold. It
// succeeds only when the caller is the sole reader. On failure the caller
// still holds its read lock.
func (m *RWMutex) TryUpgrade() bool {
	return m.state.CompareAndSwap(1, writerLocked)
}

// Downgrade converts an exclusive hold into a read hold without letting any
// writer in between.
func (m *RWMutex) Downgrade() {
	m.state.Store(1)
}
