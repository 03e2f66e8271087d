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
	"sync/atomic"

	"github.com/yangbeom/kerners/pkg/atomicbitops"
)

// SRCUDomain tracks read-side critical sections across two epochs so that
// Synchronize can wait for every reader that might still observe a
// since-replaced value.
//
// The zero value is a valid domain with no active readers.
type SRCUDomain struct {
	// active selects which of counters new readers enter; only its low bit
	// is meaningful.
	active atomicbitops.Uint32

	// counters holds the number of in-flight readers per epoch.
	counters [2]atomicbitops.Int64

	// sync serializes Synchronize callers so the epoch flip and drain are
	// atomic with respect to each other.
	sync Mutex
}

// ReadLock enters a read-side critical section and returns a token that must
// be passed to the matching ReadUnlock.
func (d *SRCUDomain) ReadLock() uint32 {
	idx := d.active.Load() & 1
	d.counters[idx].Add(1)
	return idx
}

// ReadUnlock exits the read-side critical section identified by token.
func (d *SRCUDomain) ReadUnlock(token uint32) {
	d.counters[token&1].Add(-1)
}

// Synchronize blocks until every reader that entered before the call has
// exited. Readers that enter after the call may still be running when it
// returns.
func (d *SRCUDomain) Synchronize() {
	d.sync.Lock()
	old := d.active.Add(1) - 1
	for d.counters[old&1].Load() != 0 {
		Goyield()
	}
	d.sync.Unlock()
}

// RCU protects a pointer to an immutable value of type T. Readers access the
// current value without locks; writers install a replacement built from a
// copy and wait out a grace period before the old value may be retired.
type RCU[T any] struct {
	ptr atomic.Pointer[T]
	dom SRCUDomain
	upd SpinMutex
}

// NewRCU returns an RCU initially publishing v.
func NewRCU[T any](v *T) *RCU[T] {
	r := &RCU[T]{}
	r.ptr.Store(v)
	return r
}

// Read runs f against the current value inside a read-side critical section.
// f must not retain the pointer past its return.
func (r *RCU[T]) Read(f func(v *T)) {
	token := r.dom.ReadLock()
	f(r.ptr.Load())
	r.dom.ReadUnlock(token)
}

// Load returns the current value without entering a critical section. The
// caller gets no grace-period protection; use Read when the value's lifetime
// matters.
func (r *RCU[T]) Load() *T {
	return r.ptr.Load()
}

// Update atomically replaces the published value with f(old). f receives the
// current value and must return the replacement without mutating its
// argument. Update returns the replaced value after a full grace period, so
// the caller may reuse or retire it immediately.
func (r *RCU[T]) Update(f func(old *T) *T) *T {
	r.upd.Lock()
	old := r.ptr.Load()
	r.ptr.Store(f(old))
	r.upd.Unlock()
	r.dom.Synchronize()
	return old
}

// Set publishes v and waits out a grace period for the replaced value.
func (r *RCU[T]) Set(v *T) *T {
	return r.Update(func(*T) *T { return v })
}

// Synchronize waits until all readers that entered before the call have
// exited.
func (r *RCU[T]) Synchronize() {
	r.dom.Synchronize()
}
