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
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/yangbeom/kerners/pkg/sync"
)

// MaxCPUs bounds the number of simulated CPUs.
const MaxCPUs = 8

var (
	cpuMu sync.SpinMutex

	// cpuByTID maps host thread IDs to CPU numbers. A goroutine acting as a
	// CPU must be locked to its OS thread for the lifetime of the entry.
	cpuByTID = map[int]uint32{}

	// tidByCPU is the reverse mapping, for duplicate detection.
	tidByCPU = map[uint32]int{}
)

// RegisterCPU binds the calling OS thread to CPU id. The caller must have
// called runtime.LockOSThread first and must call UnregisterCPU from the same
// goroutine before unlocking.
func RegisterCPU(id uint32) error {
	if id >= MaxCPUs {
		return fmt.Errorf("cpu %d out of range (max %d)", id, MaxCPUs)
	}
	tid := unix.Gettid()
	cpuMu.Lock()
	defer cpuMu.Unlock()
	if other, ok := tidByCPU[id]; ok {
		return fmt.Errorf("cpu %d already registered to tid %d", id, other)
	}
	if other, ok := cpuByTID[tid]; ok {
		return fmt.Errorf("tid %d already registered as cpu %d", tid, other)
	}
	cpuByTID[tid] = id
	tidByCPU[id] = tid
	return nil
}

// UnregisterCPU releases the calling OS thread's CPU binding.
func UnregisterCPU() {
	tid := unix.Gettid()
	cpuMu.Lock()
	defer cpuMu.Unlock()
	if id, ok := cpuByTID[tid]; ok {
		delete(cpuByTID, tid)
		delete(tidByCPU, id)
	}
}

// BindCPU maps the calling OS thread to CPU id without claiming exclusive
// ownership of the CPU. Kernel threads bind the CPU they were scheduled on;
// at any instant only one of the threads mapped to a CPU is runnable, the
// rest are parked. The caller must be locked to its OS thread.
func BindCPU(id uint32) {
	tid := unix.Gettid()
	cpuMu.Lock()
	defer cpuMu.Unlock()
	cpuByTID[tid] = id
}

// UnbindCPU drops the calling OS thread's BindCPU mapping. Threads must
// unbind before their goroutine exits so the OS thread's next occupant does
// not inherit a stale CPU.
func UnbindCPU() {
	tid := unix.Gettid()
	cpuMu.Lock()
	defer cpuMu.Unlock()
	delete(cpuByTID, tid)
}

// CurrentCPU returns the CPU bound to the calling OS thread, or 0 if the
// thread is not a registered CPU. Callers that need a trustworthy answer must
// be running on a registered, locked thread.
func CurrentCPU() uint32 {
	tid := unix.Gettid()
	cpuMu.Lock()
	defer cpuMu.Unlock()
	return cpuByTID[tid]
}
