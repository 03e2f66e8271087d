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
	"github.com/yangbeom/kerners/pkg/elf"
)

// riscvRelocator implements the RISC-V relocation engine.
//
// PCREL_HI20/PCREL_LO12 pairs split one pc-relative offset across two
// instructions; the LO12 relocation's symbol points at the HI20 instruction
// rather than the final target. prepass records every HI20's computed offset
// by patch address so LO12 entries find their pair even when the RELA stream
// orders them first.
type riscvRelocator struct {
	hi20 map[uint64]int64
}

func (rr *riscvRelocator) prepass(r reloc) {
	if r.typ == elf.R_RISCV_PCREL_HI20 {
		rr.hi20[r.addr] = r.sym + r.addend - int64(r.addr)
	}
}

// pairedOffset returns the offset computed by the HI20 instruction at
// hiAddr, which a PCREL_LO12 relocation's symbol points at.
func (rr *riscvRelocator) pairedOffset(hiAddr uint64, r reloc) int64 {
	if off, ok := rr.hi20[hiAddr]; ok {
		return off
	}
	relocWarn.Warningf("pc-relative lo12 without matching hi20 at %#x", hiAddr)
	return r.sym + r.addend - int64(hiAddr)
}

func (rr *riscvRelocator) apply(m mem, r reloc, plt *pltTable) error {
	s, a, p := r.sym, r.addend, int64(r.addr)

	switch r.typ {
	case elf.R_RISCV_NONE, elf.R_RISCV_RELAX:
		return nil

	case elf.R_RISCV_64:
		return m.putWord64(r.addr, uint64(s+a))

	case elf.R_RISCV_32:
		return m.putWord32(r.addr, uint32(s+a))

	case elf.R_RISCV_BRANCH:
		// Conditional branch, B-type, reach ±4KB.
		off := s + a - p
		if off > 0xfff || off < -0x1000 {
			return &UnsupportedRelocationError{Type: r.typ}
		}
		imm12 := (uint32(off>>12) & 0x1) << 31
		imm10_5 := (uint32(off>>5) & 0x3f) << 25
		imm4_1 := (uint32(off>>1) & 0xf) << 8
		imm11 := (uint32(off>>11) & 0x1) << 7
		return m.patchWord32(r.addr, 0x01fff07f, imm12|imm10_5|imm4_1|imm11)

	case elf.R_RISCV_JAL:
		// JAL, J-type, reach ±1MB.
		off := s + a - p
		if off > 0xfffff || off < -0x100000 {
			return &UnsupportedRelocationError{Type: r.typ}
		}
		imm20 := (uint32(off>>20) & 0x1) << 31
		imm10_1 := (uint32(off>>1) & 0x3ff) << 21
		imm11 := (uint32(off>>11) & 0x1) << 20
		imm19_12 := (uint32(off>>12) & 0xff) << 12
		return m.patchWord32(r.addr, 0xfff, imm20|imm10_1|imm11|imm19_12)

	case elf.R_RISCV_HI20:
		// LUI. The +0x800 rounds so a signed LO12 completes the value.
		v := uint32((s + a + 0x800) >> 12)
		return m.patchWord32(r.addr, 0xfff, v<<12)

	case elf.R_RISCV_LO12_I:
		v := uint32((s + a) & 0xfff)
		return m.patchWord32(r.addr, 0xfffff, v<<20)

	case elf.R_RISCV_LO12_S:
		v := uint32((s + a) & 0xfff)
		imm11_5 := ((v >> 5) & 0x7f) << 25
		imm4_0 := (v & 0x1f) << 7
		return m.patchWord32(r.addr, 0x01fff07f, imm11_5|imm4_0)

	case elf.R_RISCV_PCREL_HI20:
		// AUIPC half of a pc-relative pair; prepass already recorded the
		// offset for the LO12 side.
		off := s + a - p
		v := uint32((off + 0x800) >> 12)
		return m.patchWord32(r.addr, 0xfff, v<<12)

	case elf.R_RISCV_PCREL_LO12_I:
		lo := uint32(rr.pairedOffset(uint64(s), r) & 0xfff)
		return m.patchWord32(r.addr, 0xfffff, lo<<20)

	case elf.R_RISCV_PCREL_LO12_S:
		lo := uint32(rr.pairedOffset(uint64(s), r) & 0xfff)
		imm11_5 := ((lo >> 5) & 0x7f) << 25
		imm4_0 := (lo & 0x1f) << 7
		return m.patchWord32(r.addr, 0x01fff07f, imm11_5|imm4_0)

	case elf.R_RISCV_CALL, elf.R_RISCV_CALL_PLT:
		// AUIPC+JALR pair, reach ±2GB, beyond that via PLT stub.
		target := uint64(s + a)
		off := int64(target) - p
		if off > 0x7fffffff || off < -0x80000000 {
			stub, ok := plt.getOrCreate(target)
			if !ok {
				relocWarn.Warningf("module PLT table full")
				return &UnsupportedRelocationError{Type: r.typ}
			}
			off = int64(stub) - p
		}
		hi := uint32((off + 0x800) >> 12)
		lo := uint32(off & 0xfff)
		if err := m.patchWord32(r.addr, 0xfff, hi<<12); err != nil {
			return err
		}
		return m.patchWord32(r.addr+4, 0xfffff, lo<<20)

	default:
		relocWarn.Warningf("unsupported riscv relocation type %d", r.typ)
		return &UnsupportedRelocationError{Type: r.typ}
	}
}
