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

// arm64Relocator implements the AArch64 relocation engine.
type arm64Relocator struct{}

func (arm64Relocator) prepass(reloc) {}

func (arm64Relocator) apply(m mem, r reloc, plt *pltTable) error {
	s, a, p := r.sym, r.addend, int64(r.addr)

	switch r.typ {
	case elf.R_AARCH64_NONE:
		return nil

	case elf.R_AARCH64_ABS64:
		return m.putWord64(r.addr, uint64(s+a))

	case elf.R_AARCH64_ABS32:
		return m.putWord32(r.addr, uint32(s+a))

	case elf.R_AARCH64_PREL64:
		return m.putWord64(r.addr, uint64(s+a-p))

	case elf.R_AARCH64_PREL32:
		return m.putWord32(r.addr, uint32(s+a-p))

	case elf.R_AARCH64_CALL26, elf.R_AARCH64_JUMP26:
		// B/BL carry a 26-bit word offset, reach is ±128MB. Beyond that
		// the branch goes through a PLT stub.
		target := uint64(s + a)
		off := (int64(target) - p) >> 2
		if off > 0x1ffffff || off < -0x2000000 {
			stub, ok := plt.getOrCreate(target)
			if !ok {
				relocWarn.Warningf("module PLT table full")
				return &UnsupportedRelocationError{Type: r.typ}
			}
			off = (int64(stub) - p) >> 2
		}
		return m.patchWord32(r.addr, 0xfc000000, uint32(off)&0x03ffffff)

	case elf.R_AARCH64_ADR_PREL_PG_HI21:
		// ADRP: page offset between P and S+A, split into immlo:immhi.
		pageS := (s + a) &^ 0xfff
		pageP := p &^ 0xfff
		off := (pageS - pageP) >> 12
		if off > 0xfffff || off < -0x100000 {
			relocWarn.Warningf("ADRP page offset out of range: %#x", off)
			return &UnsupportedRelocationError{Type: r.typ}
		}
		immlo := (uint32(off) & 0x3) << 29
		immhi := (uint32(off>>2) & 0x7ffff) << 5
		return m.patchWord32(r.addr, 0x9f00001f, immlo|immhi)

	case elf.R_AARCH64_ADD_ABS_LO12_NC:
		v := uint32((s + a) & 0xfff)
		return m.patchWord32(r.addr, 0xffc003ff, v<<10)

	case elf.R_AARCH64_LDST64_ABS_LO12_NC:
		// The 12-bit immediate of a 64-bit load/store is scaled by 8.
		v := uint32(((s + a) & 0xfff) >> 3)
		return m.patchWord32(r.addr, 0xffc003ff, v<<10)

	default:
		relocWarn.Warningf("unsupported aarch64 relocation type %d", r.typ)
		return &UnsupportedRelocationError{Type: r.typ}
	}
}
