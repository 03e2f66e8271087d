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

package kernel

import (
	"github.com/yangbeom/kerners/pkg/kernel/percpu"
	"github.com/yangbeom/kerners/pkg/sync"
)

// IRQSpinMutex is a spinlock that masks the calling CPU's interrupts for the
// duration of the critical section, so tick- and IPI-driven scheduling cannot
// run on this CPU while the lock is held. Lock and Unlock must be called on
// the same CPU, which holding the lock itself guarantees: there is no
// preemption point inside a critical section.
type IRQSpinMutex struct {
	m sync.SpinMutex
}

// Lock masks interrupts on the calling CPU and acquires the lock.
func (m *IRQSpinMutex) Lock() {
	percpu.Current().DisableIRQ()
	m.m.Lock()
}

// Unlock releases the lock and unmasks interrupts.
func (m *IRQSpinMutex) Unlock() {
	m.m.Unlock()
	percpu.Current().RestoreIRQ()
}
