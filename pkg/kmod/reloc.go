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

package kmod

import (
	"encoding/binary"
	"time"

	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/pgalloc"
	"github.com/yangbeom/kerners/pkg/platform"
)

// relocWarn limits relocation warnings, which a hostile image can trigger
// once per RELA entry.
var relocWarn = log.BasicRateLimitedLogger(time.Second)

// reloc is one relocation with its symbol already resolved: patch address P,
// symbol value S, addend A and the ELF relocation type.
type reloc struct {
	addr   uint64
	sym    int64
	addend int64
	typ    uint32
}

// relocator is an architecture's relocation engine. prepass observes every
// relocation before any patch is applied, so paired relocations may refer to
// each other regardless of their order in the RELA stream. apply patches one
// relocation, diverting out-of-range branches through plt.
type relocator interface {
	prepass(r reloc)
	apply(m mem, r reloc, plt *pltTable) error
}

// newRelocator returns the engine for arch.
func newRelocator(arch platform.Arch) relocator {
	if arch == platform.RISCV64 {
		return &riscvRelocator{hi20: make(map[uint64]int64)}
	}
	return arm64Relocator{}
}

// mem gives the relocation engines word access to module memory by absolute
// address. Addresses come from untrusted r_offset fields, so every access is
// bounds checked against the pool.
type mem struct {
	pool *pgalloc.Pool
}

func (m mem) word32(addr uint64) (uint32, error) {
	b, err := m.pool.Slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m mem) putWord32(addr uint64, v uint32) error {
	b, err := m.pool.Slice(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (m mem) putWord64(addr uint64, v uint64) error {
	b, err := m.pool.Slice(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// patchWord32 rewrites the instruction at addr as (insn & keep) | bits.
func (m mem) patchWord32(addr uint64, keep, bits uint32) error {
	insn, err := m.word32(addr)
	if err != nil {
		return err
	}
	return m.putWord32(addr, insn&keep|bits)
}
