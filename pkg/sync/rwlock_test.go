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
	"sync"
	"testing"
	"time"

	"github.com/yangbeom/kerners/pkg/atomicbitops"
)

func TestRWMutexConcurrentReaders(t *testing.T) {
	var (
		m       RWMutex
		inside  atomicbitops.Int32
		sawBoth atomicbitops.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RLock()
			inside.Add(1)
			deadline := time.Now().Add(time.Second)
			for inside.Load() < 2 && time.Now().Before(deadline) {
				Goyield()
			}
			if inside.Load() == 2 {
				sawBoth.Store(true)
			}
			inside.Add(-1)
			m.RUnlock()
		}()
	}
	wg.Wait()
	if !sawBoth.Load() {
		t.Error("two readers never held the lock concurrently")
	}
}

func TestRWMutexWriterExclusion(t *testing.T) {
	const (
		workers    = 4
		iterations = 500
	)
	var (
		m       RWMutex
		counter int
		wg      sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	if want := workers * iterations; counter != want {
		t.Errorf("counter = %d, want %d", counter, want)
	}
}

func TestRWMutexReadersBlockWriter(t *testing.T) {
	var (
		m        RWMutex
		acquired atomicbitops.Bool
	)
	m.RLock()
	go func() {
		m.Lock()
		acquired.Store(true)
		m.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)
	if acquired.Load() {
		t.Fatal("writer acquired lock while a reader held it")
	}
	m.RUnlock()
	deadline := time.Now().Add(time.Second)
	for !acquired.Load() && time.Now().Before(deadline) {
		Goyield()
	}
	if !acquired.Load() {
		t.Error("writer never acquired lock after last reader left")
	}
}

func TestRWMutexWaitingWriterBlocksNewReaders(t *testing.T) {
	var m RWMutex
	m.RLock()
	writerDone := make(chan struct{})
	go func() {
		m.Lock()
		m.Unlock()
		close(writerDone)
	}()
	// Wait for the writer to publish its intent.
	deadline := time.Now().Add(time.Second)
	for !m.writerWaiting.Load() && time.Now().Before(deadline) {
		Goyield()
	}
	if !m.writerWaiting.Load() {
		t.Fatal("writer never registered as waiting")
	}
	if m.TryRLock() {
		t.Error("TryRLock succeeded while a writer was waiting")
	}
	m.RUnlock()
	<-writerDone
	if !m.TryRLock() {
		t.Error("TryRLock failed after writer finished")
	}
	m.RUnlock()
}

func TestRWMutexTryUpgrade(t *testing.T) {
	var m RWMutex
	m.RLock()
	if !m.TryUpgrade() {
		t.Fatal("TryUpgrade failed for sole reader")
	}
	// Now write-held.
	if m.TryRLock() {
		t.Error("TryRLock succeeded while write-held")
	}
	m.Unlock()

	m.RLock()
	m.RLock()
	if m.TryUpgrade() {
		t.Fatal("TryUpgrade succeeded with two readers")
	}
	// The failed upgrade must leave both read holds intact.
	m.RUnlock()
	if !m.TryUpgrade() {
		t.Error("TryUpgrade failed after second reader left")
	}
	m.Unlock()
}

func TestRWMutexDowngrade(t *testing.T) {
	var m RWMutex
	m.Lock()
	m.Downgrade()
	if !m.TryRLock() {
		t.Error("TryRLock failed after Downgrade")
	}
	m.RUnlock()
	m.RUnlock()
}
