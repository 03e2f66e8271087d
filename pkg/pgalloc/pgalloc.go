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

// Package pgalloc implements a physical frame allocator over an anonymous
// memory arena. Frame addresses handed out are real host virtual addresses,
// so address arithmetic done against them (relocations in particular) is
// valid.
package pgalloc

import (
	"fmt"

	"github.com/yangbeom/kerners/pkg/memutil"
	"github.com/yangbeom/kerners/pkg/sync"
)

// PageSize is the frame size in bytes.
const PageSize = 4096

// Frame allocation errors.
var (
	// ErrNoFrames is returned by Alloc when the pool is exhausted.
	ErrNoFrames = fmt.Errorf("pgalloc: out of frames")

	// ErrBadFrame is returned by Free and Slice for addresses the pool does
	// not own.
	ErrBadFrame = fmt.Errorf("pgalloc: address not owned by pool")

	// ErrDoubleFree is returned by Free for frames that are already free.
	ErrDoubleFree = fmt.Errorf("pgalloc: frame already free")
)

// Pool is a fixed-size frame pool.
//
// Alloc always returns the lowest free frame, so a fresh pool yields
// ascending contiguous runs. A fair lock guards the allocator state; frame
// contents are not guarded, owners synchronize access themselves.
type Pool struct {
	mu sync.TicketMutex

	// arena backs every frame; frame i occupies
	// arena[i*PageSize:(i+1)*PageSize].
	arena []byte

	// base is the host address of arena's first byte.
	base uint64

	// allocated tracks frame state, one bool per frame.
	allocated []bool

	// freeFrames counts clear entries in allocated.
	freeFrames int

	// searchStart is the lowest index that might be free.
	searchStart int
}

// NewPool returns a pool of the given number of frames.
func NewPool(frames int) (*Pool, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("pgalloc: invalid pool size %d", frames)
	}
	arena, err := memutil.MapSlice(uintptr(frames) * PageSize)
	if err != nil {
		return nil, fmt.Errorf("pgalloc: mapping arena: %w", err)
	}
	return &Pool{
		arena:      arena,
		base:       uint64(memutil.SliceAddr(arena)),
		allocated:  make([]bool, frames),
		freeFrames: frames,
	}, nil
}

// Alloc returns the address of the lowest free frame, zeroed.
func (p *Pool) Alloc() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := p.searchStart; i < len(p.allocated); i++ {
		if p.allocated[i] {
			continue
		}
		p.allocated[i] = true
		p.freeFrames--
		p.searchStart = i + 1
		frame := p.arena[i*PageSize : (i+1)*PageSize]
		clear(frame)
		return p.base + uint64(i)*PageSize, nil
	}
	return 0, ErrNoFrames
}

// Free returns a frame to the pool.
func (p *Pool) Free(addr uint64) error {
	i, err := p.index(addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.allocated[i] {
		return ErrDoubleFree
	}
	p.allocated[i] = false
	p.freeFrames++
	if i < p.searchStart {
		p.searchStart = i
	}
	return nil
}

// Slice returns a view of n bytes of pool memory starting at addr. The range
// must lie entirely inside the arena; it may span frames.
func (p *Pool) Slice(addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("pgalloc: negative length %d", n)
	}
	if addr < p.base {
		return nil, ErrBadFrame
	}
	// Computed as offsets so that an addr near 2^64 cannot wrap the check.
	off := addr - p.base
	if off > uint64(len(p.arena)) || uint64(n) > uint64(len(p.arena))-off {
		return nil, ErrBadFrame
	}
	return p.arena[off : off+uint64(n)], nil
}

// Base returns the address of the first frame.
func (p *Pool) Base() uint64 {
	return p.base
}

// Size returns the arena size in bytes.
func (p *Pool) Size() uint64 {
	return uint64(len(p.arena))
}

// Contains returns whether addr falls inside the pool's arena.
func (p *Pool) Contains(addr uint64) bool {
	return addr >= p.base && addr < p.base+uint64(len(p.arena))
}

// FreeFrames returns the number of unallocated frames.
func (p *Pool) FreeFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeFrames
}

// TotalFrames returns the pool capacity.
func (p *Pool) TotalFrames() int {
	return len(p.allocated)
}

// Destroy unmaps the arena. The pool must not be used afterwards.
func (p *Pool) Destroy() error {
	arena := p.arena
	p.arena = nil
	p.allocated = nil
	return memutil.UnmapSlice(arena)
}

func (p *Pool) index(addr uint64) (int, error) {
	if addr < p.base || addr >= p.base+uint64(len(p.arena)) {
		return 0, ErrBadFrame
	}
	off := addr - p.base
	if off%PageSize != 0 {
		return 0, ErrBadFrame
	}
	return int(off / PageSize), nil
}
