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
	"runtime"

	"github.com/yangbeom/kerners/pkg/platform"
)

// Context is a thread's execution state. On hardware this is the callee-saved
// register file and stack pointer; here each context is a goroutine parked on
// a channel, and switching contexts transfers the single run token of a CPU
// from one goroutine to another.
type Context struct {
	// park delivers the run token. Capacity 1 so a switch to a context that
	// has not parked yet (the window between the table lock release and the
	// old context's park) does not block the switcher.
	park chan struct{}

	// entry is the thread body, run on the context's own goroutine when it is
	// first switched to.
	entry func()

	// cpu is the CPU this context was last scheduled on. Written by the
	// scheduler before handing over the run token, read by the context's
	// goroutine after receiving it.
	cpu uint32

	// started is set by the first switch to this context. Guarded by being
	// touched only while the context is not runnable.
	started bool

	// done marks a context whose thread has terminated. A switch away from a
	// done context does not park; the caller finishes the goroutine.
	done bool
}

// newContext returns a context that will run entry when first scheduled.
func newContext(entry func()) *Context {
	return &Context{
		park:  make(chan struct{}, 1),
		entry: entry,
	}
}

// newBootContext returns a context representing code that is already running,
// so the first switch away from it parks instead of starting anything. CPU
// idle loops use this.
func newBootContext() *Context {
	return &Context{
		park:    make(chan struct{}, 1),
		started: true,
	}
}

// contextSwitch hands the CPU's run token from old to new. It is called with
// the thread table unlocked and returns when old is scheduled again, except
// for done contexts, where it returns immediately so the caller can finish
// the goroutine.
func contextSwitch(old, new *Context) {
	if !new.started {
		new.started = true
		go new.run()
	} else {
		new.park <- struct{}{}
	}
	if old.done {
		return
	}
	<-old.park
	platform.BindCPU(old.cpu)
}

// run is the goroutine body of a freshly started context.
func (c *Context) run() {
	runtime.LockOSThread()
	platform.BindCPU(c.cpu)
	c.entry()
	panic("kernel: thread entry returned without exiting")
}
