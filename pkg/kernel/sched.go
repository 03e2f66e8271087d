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
	"github.com/yangbeom/kerners/pkg/platform"
)

// Schedule selects the next thread for the calling CPU and switches to it.
//
// Selection is round-robin: scan forward from the slot after the current
// thread, wrapping once around the table, and take the first Ready thread
// whose affinity admits this CPU. With no candidate, a terminated current
// thread falls back to the CPU's idle thread and anything else keeps running.
func (k *Kernel) Schedule() {
	cpuID := platform.CurrentCPU()
	pc := percpu.Get(cpuID)

	currentIdx := int(pc.CurrentThread.Load())
	if uint32(currentIdx) == percpu.NoThread {
		// Scheduling has not started on this CPU.
		return
	}

	var oldCtx, newCtx *Context

	k.mu.Lock()
	if currentIdx >= len(k.threads) {
		k.mu.Unlock()
		return
	}
	current := k.threads[currentIdx]
	if current.state == Running {
		current.state = Ready
	}

	numThreads := len(k.threads)
	nextIdx := -1
	for offset := 1; offset <= numThreads; offset++ {
		idx := (currentIdx + offset) % numThreads
		t := k.threads[idx]
		if t.isIdle || t.state != Ready {
			continue
		}
		if t.affinity != AffinityAny && t.affinity != cpuID {
			continue
		}
		nextIdx = idx
		break
	}

	if nextIdx == -1 {
		if current.state == Terminated {
			idleIdx := int(pc.IdleThread.RacyLoad())
			if idleIdx >= len(k.threads) {
				k.mu.Unlock()
				return
			}
			nextIdx = idleIdx
		} else {
			// Nothing else to run; keep going.
			current.state = Running
			k.mu.Unlock()
			return
		}
	}

	if nextIdx == currentIdx {
		current.state = Running
		k.mu.Unlock()
		return
	}

	next := k.threads[nextIdx]
	next.state = Running
	oldCtx, newCtx = current.ctx, next.ctx
	pc.CurrentThread.Store(uint32(nextIdx))
	k.mu.Unlock()

	// The switch happens with the table unlocked: it does not return until
	// this thread is scheduled again, and other CPUs need the table in the
	// meantime.
	newCtx.cpu = cpuID
	k.switchContext(oldCtx, newCtx)
}
