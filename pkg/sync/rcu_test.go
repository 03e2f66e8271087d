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

func TestRCUReadSeesCurrent(t *testing.T) {
	v := 42
	r := NewRCU(&v)
	var got int
	r.Read(func(p *int) { got = *p })
	if got != 42 {
		t.Errorf("Read saw %d, want 42", got)
	}
}

func TestRCUUpdateCloneModifySwap(t *testing.T) {
	type state struct {
		gen   int
		items []string
	}
	r := NewRCU(&state{gen: 1, items: []string{"a"}})
	old := r.Update(func(old *state) *state {
		next := &state{gen: old.gen + 1}
		next.items = append(append([]string(nil), old.items...), "b")
		return next
	})
	if old.gen != 1 {
		t.Errorf("Update returned gen %d, want 1", old.gen)
	}
	r.Read(func(s *state) {
		if s.gen != 2 || len(s.items) != 2 {
			t.Errorf("published state = %+v, want gen 2 with 2 items", s)
		}
	})
}

func TestSRCUSynchronizeWaitsForReader(t *testing.T) {
	var (
		d        SRCUDomain
		syncDone atomicbitops.Bool
	)
	token := d.ReadLock()
	go func() {
		d.Synchronize()
		syncDone.Store(true)
	}()
	time.Sleep(10 * time.Millisecond)
	if syncDone.Load() {
		t.Fatal("Synchronize returned while a reader was active")
	}
	d.ReadUnlock(token)
	deadline := time.Now().Add(time.Second)
	for !syncDone.Load() && time.Now().Before(deadline) {
		Goyield()
	}
	if !syncDone.Load() {
		t.Error("Synchronize never returned after reader exit")
	}
}

func TestSRCUSynchronizeIgnoresLateReaders(t *testing.T) {
	var d SRCUDomain
	// A reader entering after the flip lands in the new epoch and must not
	// hold up this Synchronize.
	d.Synchronize()
	token := d.ReadLock()
	done := make(chan struct{})
	go func() {
		d.Synchronize()
		close(done)
	}()
	// The second Synchronize flips again and must drain the epoch our
	// reader entered.
	select {
	case <-done:
		t.Fatal("Synchronize returned while the prior-epoch reader was active")
	case <-time.After(10 * time.Millisecond):
	}
	d.ReadUnlock(token)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Synchronize never returned after reader exit")
	}
}

func TestRCUConcurrentReadersAndUpdaters(t *testing.T) {
	type counterState struct {
		value uint64
	}
	r := NewRCU(&counterState{})
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				r.Read(func(s *counterState) {
					if s.value < last {
						t.Errorf("value went backwards: %d -> %d", last, s.value)
					}
					last = s.value
				})
			}
		}()
	}
	for i := 0; i < 100; i++ {
		r.Update(func(old *counterState) *counterState {
			return &counterState{value: old.value + 1}
		})
	}
	close(stop)
	wg.Wait()
	if got := r.Load().value; got != 100 {
		t.Errorf("final value = %d, want 100", got)
	}
}
