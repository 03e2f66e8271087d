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

// Package kernel implements the thread table, the round-robin SMP scheduler
// and the per-CPU boot, tick and reschedule-interrupt paths.
//
// Preemption is cooperative on this platform: a running thread is descheduled
// at its own Yield and Exit calls, and timer ticks drive scheduling whenever
// a CPU is in its idle thread. On hardware the tick preempts arbitrary code.
package kernel

import (
	"time"

	"github.com/yangbeom/kerners/pkg/atomicbitops"
	"github.com/yangbeom/kerners/pkg/kernel/percpu"
	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/platform"
	"github.com/yangbeom/kerners/pkg/sync"
)

// tickLog limits per-tick diagnostics, which fire on every CPU at the timer
// frequency.
var tickLog = log.BasicRateLimitedLogger(time.Second)

// Kernel owns the thread table and drives scheduling for one machine.
type Kernel struct {
	// machine delivers ticks and accepts reschedule IPIs. nil in unit tests
	// that step the scheduler by hand.
	machine *platform.Machine

	// mu guards threads and every Thread.state. It is adaptive because
	// scheduling critical sections are short but Spawn's append can be not.
	mu sync.Mutex

	// threads is the global thread table. Entries are append-only.
	threads []*Thread

	// nextTID hands out thread IDs starting at 1; 0 is the primary idle
	// thread.
	nextTID atomicbitops.Uint64

	// switchContext performs the low-level context switch. Swapped out by
	// scheduling-policy tests that only want the selection decision.
	switchContext func(old, new *Context)
}

// New returns a kernel for the given machine. machine may be nil for tests
// that never start CPUs.
func New(machine *platform.Machine) *Kernel {
	k := &Kernel{
		machine:       machine,
		switchContext: contextSwitch,
	}
	k.nextTID.Store(1)
	return k
}

// Start boots every CPU and returns once the machine is online. The calling
// goroutine does not become a CPU; each CPU runs its own idle loop.
func (k *Kernel) Start() error {
	if k.machine == nil {
		panic("kernel: Start without a machine")
	}
	return k.machine.Start(k)
}

// Shutdown stops the machine. Threads parked mid-switch are abandoned.
func (k *Kernel) Shutdown() {
	if k.machine != nil {
		k.machine.Stop()
	}
}

// Boot implements platform.Handler.Boot. It runs on the booting CPU.
func (k *Kernel) Boot(cpu uint32) {
	if cpu == 0 {
		total := uint32(1)
		if k.machine != nil {
			total = uint32(k.machine.NumCPUs())
		}
		percpu.Init(total)
		log.Infof("proc: initializing process subsystem")
	} else {
		percpu.InitSecondary(cpu)
	}
	k.addIdleThread(cpu)
}

// Tick implements platform.Handler.Tick.
func (k *Kernel) Tick(cpu uint32) {
	pc := percpu.Get(cpu)
	ticks := pc.TickCount.Add(1)
	tickLog.Debugf("proc: cpu %d tick %d", cpu, ticks)
	if pc.IRQOff() {
		return
	}
	k.Schedule()
}

// Interrupt implements platform.Handler.Interrupt. Reschedule IPIs carry no
// payload; the whole effect is a scheduling pass.
func (k *Kernel) Interrupt(cpu uint32) {
	if percpu.Get(cpu).IRQOff() {
		return
	}
	k.Schedule()
}
