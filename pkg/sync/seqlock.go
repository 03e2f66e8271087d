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

// SeqCount is a synchronization primitive for optimistic reader/writer
// synchronization in cases where readers can work with stale data and
// therefore do not need to block writers.
//
// Compared to sync/atomic, SeqCount allows atomic reads of multiple values
// at the cost of requiring retry loops on the read side.
type SeqCount struct {
	// epoch is incremented by BeginWrite and EndWrite, such that epoch is odd
	// if a writer critical section is active, and a read from data protected
	// by this SeqCount is atomic iff epoch is the same even value before and
	// after the read.
	epoch atomicbitops.Uint32
}

// SeqCountEpoch tracks writer critical sections in a SeqCount.
type SeqCountEpoch uint32

// BeginRead indicates the beginning of a reader critical section. Reader
// critical sections DO NOT BLOCK writer critical sections, so operations in a
// reader critical section MAY RACE with writer critical sections. Races are
// detected by ReadOk at the end of the reader critical section.
func (s *SeqCount) BeginRead() SeqCountEpoch {
	if epoch := s.epoch.Load(); epoch&1 == 0 {
		return SeqCountEpoch(epoch)
	}
	return s.beginReadSlow()
}

func (s *SeqCount) beginReadSlow() SeqCountEpoch {
	for {
		Goyield()
		if epoch := s.epoch.Load(); epoch&1 == 0 {
			return SeqCountEpoch(epoch)
		}
	}
}

// ReadOk returns true if the reader critical section initiated by a previous
// call to BeginRead that returned epoch did not race with any writer critical
// sections.
func (s *SeqCount) ReadOk(epoch SeqCountEpoch) bool {
	return s.epoch.Load() == uint32(epoch)
}

// BeginWrite indicates the beginning of a writer critical section.
//
// SeqCount does not support concurrent writer critical sections; callers with
// concurrent writers must synchronize them using another synchronization
// primitive.
func (s *SeqCount) BeginWrite() {
	if epoch := s.epoch.Add(1); epoch&1 == 0 {
		panic("SeqCount.BeginWrite during writer critical section")
	}
}

// EndWrite ends the effect of a preceding BeginWrite.
func (s *SeqCount) EndWrite() {
	if epoch := s.epoch.Add(1); epoch&1 != 0 {
		panic("SeqCount.EndWrite outside writer critical section")
	}
}

// SeqLock protects a value of type T with a SeqCount and a writer spinlock:
// readers copy the value optimistically and retry if a write raced with the
// copy, writers serialize on the internal lock.
//
// T must not contain pointers to mutable state; readers observe torn copies
// mid-retry and must not dereference through them.
type SeqLock[T any] struct {
	seq    SeqCount
	writer SpinMutex
	value  T
}

// NewSeqLock returns a SeqLock initially holding value.
func NewSeqLock[T any](value T) *SeqLock[T] {
	return &SeqLock[T]{value: value}
}

// Read returns a consistent snapshot of the protected value.
func (l *SeqLock[T]) Read() T {
	for {
		epoch := l.seq.BeginRead()
		v := l.value
		if l.seq.ReadOk(epoch) {
			return v
		}
		Goyield()
	}
}

// Write replaces the protected value.
func (l *SeqLock[T]) Write(value T) {
	l.writer.Lock()
	l.seq.BeginWrite()
	l.value = value
	l.seq.EndWrite()
	l.writer.Unlock()
}

// Update applies f to the protected value under the writer lock.
func (l *SeqLock[T]) Update(f func(*T)) {
	l.writer.Lock()
	l.seq.BeginWrite()
	f(&l.value)
	l.seq.EndWrite()
	l.writer.Unlock()
}
