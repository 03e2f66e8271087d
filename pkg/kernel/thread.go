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
	"fmt"
	"runtime"

	"github.com/yangbeom/kerners/pkg/kernel/percpu"
	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/platform"
)

// TID identifies a thread for its whole life.
type TID = uint64

// AffinityAny marks a thread runnable on every CPU.
const AffinityAny = ^uint32(0)

// State is a thread's scheduling state.
type State int32

// Thread states.
const (
	// Ready threads are runnable and waiting for a CPU.
	Ready State = iota

	// Running threads occupy a CPU right now.
	Running

	// Blocked threads wait for an event and are skipped by the scheduler.
	Blocked

	// Terminated threads have exited. Their table entries are never
	// reclaimed; see DumpThreads.
	Terminated
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Thread is a thread control block.
type Thread struct {
	// TID is immutable after creation.
	TID TID

	// Name is immutable after creation.
	Name string

	// state is guarded by the kernel's thread table lock.
	state State

	// affinity is the only CPU this thread may run on, or AffinityAny.
	// Immutable after creation.
	affinity uint32

	// isIdle marks a CPU's idle thread. Idle threads never compete in the
	// round-robin scan; the scheduler falls back to them when a CPU has
	// nothing else to run.
	isIdle bool

	// ctx is the thread's execution state.
	ctx *Context
}

// Spawn creates a kernel thread running entry and makes it Ready. The thread
// exits when entry returns. An idle CPU is kicked so the new thread does not
// wait for the next tick on a busy CPU.
func (k *Kernel) Spawn(name string, entry func()) TID {
	return k.spawn(name, AffinityAny, entry)
}

// SpawnOn is Spawn with the thread pinned to the given CPU.
func (k *Kernel) SpawnOn(name string, cpu uint32, entry func()) TID {
	return k.spawn(name, cpu, entry)
}

func (k *Kernel) spawn(name string, affinity uint32, entry func()) TID {
	t := &Thread{
		TID:      k.nextTID.Add(1) - 1,
		Name:     name,
		state:    Ready,
		affinity: affinity,
	}
	t.ctx = newContext(func() {
		entry()
		k.Exit()
	})

	log.Infof("proc: spawning thread %q (tid=%d)", name, t.TID)
	k.mu.Lock()
	k.threads = append(k.threads, t)
	k.mu.Unlock()

	k.kickIdleCPU()
	return t.TID
}

// addIdleThread installs the idle thread for cpu, which is the code currently
// running on it, and points the CPU's current and idle slots at it.
func (k *Kernel) addIdleThread(cpu uint32) {
	var tid TID
	if cpu != 0 {
		// The primary idle thread is tid 0, outside the counter's range.
		tid = k.nextTID.Add(1) - 1
	}
	t := &Thread{
		TID:      tid,
		Name:     fmt.Sprintf("idle/%d", cpu),
		state:    Running,
		affinity: cpu,
		isIdle:   true,
		ctx:      newBootContext(),
	}
	t.ctx.cpu = cpu

	k.mu.Lock()
	idx := uint32(len(k.threads))
	k.threads = append(k.threads, t)
	k.mu.Unlock()

	pc := percpu.Get(cpu)
	pc.CurrentThread.Store(idx)
	pc.IdleThread.Store(idx)
}

// kickIdleCPU sends a reschedule IPI to one online CPU that is sitting in its
// idle thread, if any.
func (k *Kernel) kickIdleCPU() {
	if k.machine == nil {
		return
	}
	myCPU := platform.CurrentCPU()
	online := percpu.OnlineCount()
	for cpu := uint32(0); cpu < online; cpu++ {
		if cpu == myCPU {
			continue
		}
		pc := percpu.Get(cpu)
		current := pc.CurrentThread.RacyLoad()
		idle := pc.IdleThread.RacyLoad()
		if current == idle && idle != percpu.NoThread {
			k.machine.SendReschedule(cpu)
			break
		}
	}
}

// Yield gives up the CPU voluntarily.
func (k *Kernel) Yield() {
	k.Schedule()
}

// Exit terminates the calling thread. It does not return.
func (k *Kernel) Exit() {
	pc := percpu.Current()
	idx := pc.CurrentThread.Load()

	k.mu.Lock()
	if idx != percpu.NoThread && int(idx) < len(k.threads) {
		t := k.threads[idx]
		t.state = Terminated
		t.ctx.done = true
		log.Infof("proc: thread %d terminated", t.TID)
	}
	k.mu.Unlock()

	k.Schedule()

	// The switch away from a done context returns here instead of parking.
	platform.UnbindCPU()
	runtime.Goexit()
}

// CurrentTID returns the TID of the thread running on the calling CPU. ok is
// false before scheduling starts on this CPU.
func (k *Kernel) CurrentTID() (tid TID, ok bool) {
	idx := percpu.Current().CurrentThread.Load()
	if idx == percpu.NoThread {
		return 0, false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if int(idx) >= len(k.threads) {
		return 0, false
	}
	return k.threads[idx].TID, true
}

// ReadyCount returns the number of Ready threads.
func (k *Kernel) ReadyCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, t := range k.threads {
		if t.state == Ready {
			n++
		}
	}
	return n
}

// ActiveCount returns the number of threads that have not terminated.
func (k *Kernel) ActiveCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, t := range k.threads {
		if t.state != Terminated {
			n++
		}
	}
	return n
}

// ThreadInfo is a point-in-time description of one thread, for diagnostics.
type ThreadInfo struct {
	TID       TID
	Name      string
	State     State
	RunningOn int32 // CPU number, or -1
}

// Threads returns a snapshot of the thread table.
func (k *Kernel) Threads() []ThreadInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	online := percpu.OnlineCount()
	infos := make([]ThreadInfo, 0, len(k.threads))
	for i, t := range k.threads {
		running := int32(-1)
		for cpu := uint32(0); cpu < online; cpu++ {
			if percpu.Get(cpu).CurrentThread.RacyLoad() == uint32(i) {
				running = int32(cpu)
				break
			}
		}
		infos = append(infos, ThreadInfo{
			TID:       t.TID,
			Name:      t.Name,
			State:     t.state,
			RunningOn: running,
		})
	}
	return infos
}

// DumpThreads logs the thread table. Terminated threads show up here forever:
// table entries are never reclaimed.
func (k *Kernel) DumpThreads() {
	infos := k.Threads()
	log.Infof("proc: thread list (%d threads, %d cpus online):", len(infos), percpu.OnlineCount())
	for _, info := range infos {
		if info.RunningOn >= 0 {
			log.Infof("  tid=%d name=%q state=%v [cpu %d]", info.TID, info.Name, info.State, info.RunningOn)
		} else {
			log.Infof("  tid=%d name=%q state=%v", info.TID, info.Name, info.State)
		}
	}
}
