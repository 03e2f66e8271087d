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

// Package percpu manages per-CPU kernel state: the current and idle thread
// slots, online status, tick counters and the simulated interrupt mask.
package percpu

import (
	"github.com/yangbeom/kerners/pkg/atomicbitops"
	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/platform"
)

// MaxCPUs is the size of the static per-CPU array.
const MaxCPUs = platform.MaxCPUs

// NoThread is the sentinel value of a thread slot that names no thread.
const NoThread = ^uint32(0)

// Data is one CPU's private state. All fields are atomics because other CPUs
// inspect them (idle-kick scans, thread dumps) without taking locks.
type Data struct {
	// CPUID is the owning CPU's number.
	CPUID atomicbitops.Uint32

	// CurrentThread is the thread-table index of the running thread, or
	// NoThread before scheduling starts on this CPU.
	CurrentThread atomicbitops.Uint32

	// IdleThread is the thread-table index of this CPU's idle thread, or
	// NoThread before it exists.
	IdleThread atomicbitops.Uint32

	// TickCount counts timer ticks delivered to this CPU.
	TickCount atomicbitops.Uint64

	// irqDepth is the nesting depth of DisableIRQ on this CPU. Scheduling is
	// suppressed while it is nonzero.
	irqDepth atomicbitops.Int32

	online atomicbitops.Bool
}

func (d *Data) init(cpuID uint32) {
	d.CPUID.Store(cpuID)
	d.CurrentThread.Store(NoThread)
	d.IdleThread.Store(NoThread)
	d.TickCount.Store(0)
	d.irqDepth.Store(0)
	d.online.Store(false)
}

// SetOnline marks the CPU as booted.
func (d *Data) SetOnline() {
	d.online.Store(true)
}

// IsOnline returns whether the CPU has booted.
func (d *Data) IsOnline() bool {
	return d.online.Load()
}

// DisableIRQ raises the CPU's interrupt mask. Calls nest.
func (d *Data) DisableIRQ() {
	d.irqDepth.Add(1)
}

// RestoreIRQ undoes one DisableIRQ.
func (d *Data) RestoreIRQ() {
	if d.irqDepth.Add(-1) < 0 {
		panic("percpu: RestoreIRQ without DisableIRQ")
	}
}

// IRQOff returns whether interrupts are masked on this CPU.
func (d *Data) IRQOff() bool {
	return d.irqDepth.Load() > 0
}

var (
	perCPU [MaxCPUs]Data

	numOnline  atomicbitops.Uint32
	totalCount = atomicbitops.FromUint32(1)
)

// Init initializes the subsystem and brings the calling (primary) CPU
// online.
func Init(cpuCount uint32) {
	totalCount.Store(cpuCount)
	cpuID := platform.CurrentCPU()
	perCPU[cpuID].init(cpuID)
	perCPU[cpuID].SetOnline()
	numOnline.Store(1)
	log.Infof("percpu: initialized for %d cpus (primary cpu %d)", cpuCount, cpuID)
}

// InitSecondary brings a secondary CPU online. It must run on that CPU.
func InitSecondary(cpuID uint32) {
	if cpuID >= MaxCPUs {
		return
	}
	perCPU[cpuID].init(cpuID)
	perCPU[cpuID].SetOnline()
	numOnline.Add(1)
}

// Current returns the calling CPU's data.
func Current() *Data {
	return Get(platform.CurrentCPU())
}

// Get returns the given CPU's data, falling back to CPU 0 for out-of-range
// IDs.
func Get(cpuID uint32) *Data {
	if cpuID >= MaxCPUs {
		return &perCPU[0]
	}
	return &perCPU[cpuID]
}

// OnlineCount returns the number of booted CPUs.
func OnlineCount() uint32 {
	return numOnline.Load()
}

// TotalCount returns the configured CPU count.
func TotalCount() uint32 {
	return totalCount.Load()
}

// SetTotalCount updates the configured CPU count during SMP bring-up.
func SetTotalCount(count uint32) {
	totalCount.Store(count)
}
