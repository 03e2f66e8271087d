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
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yangbeom/kerners/pkg/log"
)

// Handler receives machine events. All callbacks run on the goroutine of the
// CPU they name, which is locked to a registered OS thread.
type Handler interface {
	// Boot runs once per CPU before any ticks or interrupts are delivered.
	Boot(cpu uint32)

	// Tick is a timer interrupt.
	Tick(cpu uint32)

	// Interrupt is a cross-CPU reschedule interrupt.
	Interrupt(cpu uint32)
}

// Machine drives a set of simulated CPUs.
type Machine struct {
	numCPUs      int
	tickInterval time.Duration

	// ipi has one buffered channel per CPU; a pending entry is the analogue
	// of a latched interrupt, so repeated sends coalesce.
	ipi []chan struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMachine returns a stopped machine with numCPUs CPUs ticking every
// tickInterval.
func NewMachine(numCPUs int, tickInterval time.Duration) (*Machine, error) {
	if numCPUs <= 0 || numCPUs > MaxCPUs {
		return nil, fmt.Errorf("cpu count %d out of range [1, %d]", numCPUs, MaxCPUs)
	}
	if tickInterval <= 0 {
		return nil, fmt.Errorf("invalid tick interval %v", tickInterval)
	}
	m := &Machine{
		numCPUs:      numCPUs,
		tickInterval: tickInterval,
		ipi:          make([]chan struct{}, numCPUs),
		stop:         make(chan struct{}),
	}
	for i := range m.ipi {
		m.ipi[i] = make(chan struct{}, 1)
	}
	return m, nil
}

// NumCPUs returns the machine's CPU count.
func (m *Machine) NumCPUs() int {
	return m.numCPUs
}

// Start brings every CPU online and returns once all of them have booted.
// CPU 0 boots alone first; secondaries boot concurrently after it. Boot
// failures on any CPU abort the whole bring-up.
func (m *Machine) Start(h Handler) error {
	primaryReady := make(chan error, 1)
	m.wg.Add(1)
	go m.runCPU(0, h, primaryReady)
	if err := <-primaryReady; err != nil {
		m.Stop()
		return fmt.Errorf("cpu 0: %w", err)
	}

	var g errgroup.Group
	for i := 1; i < m.numCPUs; i++ {
		cpu := uint32(i)
		ready := make(chan error, 1)
		m.wg.Add(1)
		go m.runCPU(cpu, h, ready)
		g.Go(func() error {
			if err := <-ready; err != nil {
				return fmt.Errorf("cpu %d: %w", cpu, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.Stop()
		return err
	}
	log.Infof("machine online: %d cpus, tick %v", m.numCPUs, m.tickInterval)
	return nil
}

// SendReschedule posts a reschedule interrupt to the given CPU. Interrupts
// already pending are coalesced.
func (m *Machine) SendReschedule(cpu uint32) {
	if int(cpu) >= m.numCPUs {
		return
	}
	select {
	case m.ipi[cpu] <- struct{}{}:
	default:
	}
}

// Stop takes the machine offline and waits for every CPU loop to exit. It is
// idempotent.
func (m *Machine) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.wg.Wait()
}

func (m *Machine) runCPU(cpu uint32, h Handler, ready chan<- error) {
	defer m.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := RegisterCPU(cpu); err != nil {
		ready <- err
		return
	}
	defer UnregisterCPU()
	h.Boot(cpu)
	ready <- nil

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-m.ipi[cpu]:
			h.Interrupt(cpu)
		case <-ticker.C:
			h.Tick(cpu)
		}
	}
}
