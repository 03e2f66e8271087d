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

// Semaphore is a counting semaphore.
//
// The zero value is a semaphore with no permits; use NewSemaphore to start
// with a positive count.
type Semaphore struct {
	count atomicbitops.Int32
}

// NewSemaphore returns a semaphore holding permits initial permits.
func NewSemaphore(initial int32) *Semaphore {
	s := &Semaphore{}
	s.count.Store(initial)
	return s
}

// Binary returns a semaphore holding one permit, usable as a lock.
func Binary() *Semaphore {
	return NewSemaphore(1)
}

// Acquire takes one permit, spinning until one is available.
func (s *Semaphore) Acquire() {
	for {
		if s.TryAcquire() {
			return
		}
		for s.count.Load() <= 0 {
			Goyield()
		}
	}
}

// TryAcquire attempts to take one permit without waiting. It returns true on
// success.
func (s *Semaphore) TryAcquire() bool {
	for {
		c := s.count.Load()
		if c <= 0 {
			return false
		}
		if s.count.CompareAndSwap(c, c-1) {
			return true
		}
	}
}

// Release returns one permit, potentially admitting a spinning acquirer.
func (s *Semaphore) Release() {
	s.count.Add(1)
}

// Available returns the current number of available permits. The answer may
// be stale by the time the caller observes it.
func (s *Semaphore) Available() int32 {
	return s.count.Load()
}
