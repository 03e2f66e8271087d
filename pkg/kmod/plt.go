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

	"github.com/yangbeom/kerners/pkg/pgalloc"
	"github.com/yangbeom/kerners/pkg/platform"
)

// PLT stub sizes. Each stub loads a 64-bit target address stored alongside
// the code and branches to it, giving branch-type relocations full 64-bit
// reach.
//
// AArch64, 16 bytes:
//
//	ldr  x16, #8
//	br   x16
//	.quad target
//
// RISC-V, 32 bytes so the target quad stays 8-byte aligned past the code:
//
//	auipc t3, 0
//	ld    t3, 16(t3)
//	jr    t3
//	nop
//	.quad target
const (
	pltStubSizeARM64 = 16
	pltStubSizeRISCV = 32
)

// pltTable hands out branch stubs from one frame of module memory. Stubs
// are deduplicated by target, so a symbol referenced by many out-of-range
// branches costs one entry.
type pltTable struct {
	arch     platform.Arch
	base     uint64
	mem      []byte
	stubSize int
	byTarget map[uint64]uint64
	count    int
}

// newPLTTable returns a table over mem, one page mapped at base.
func newPLTTable(arch platform.Arch, base uint64, mem []byte) *pltTable {
	size := pltStubSizeARM64
	if arch == platform.RISCV64 {
		size = pltStubSizeRISCV
	}
	return &pltTable{
		arch:     arch,
		base:     base,
		mem:      mem,
		stubSize: size,
		byTarget: make(map[uint64]uint64),
	}
}

// maxEntries returns the table capacity.
func (p *pltTable) maxEntries() int {
	return pgalloc.PageSize / p.stubSize
}

// getOrCreate returns the stub address for target, writing a new stub if
// none exists. It reports false when the table is full.
func (p *pltTable) getOrCreate(target uint64) (uint64, bool) {
	if addr, ok := p.byTarget[target]; ok {
		return addr, true
	}
	if p.count >= p.maxEntries() {
		return 0, false
	}
	addr := p.base + uint64(p.count*p.stubSize)
	p.writeStub(p.mem[p.count*p.stubSize:], target)
	p.byTarget[target] = addr
	p.count++
	return addr, true
}

func (p *pltTable) writeStub(stub []byte, target uint64) {
	le := binary.LittleEndian
	switch p.arch {
	case platform.ARM64:
		le.PutUint32(stub[0:], 0x58000050) // ldr x16, #8
		le.PutUint32(stub[4:], 0xd61f0200) // br x16
		le.PutUint64(stub[8:], target)
	case platform.RISCV64:
		le.PutUint32(stub[0:], 0x00000e17)  // auipc t3, 0
		le.PutUint32(stub[4:], 0x010e3e03)  // ld t3, 16(t3)
		le.PutUint32(stub[8:], 0x000e0067)  // jr t3
		le.PutUint32(stub[12:], 0x00000013) // nop
		le.PutUint64(stub[16:], target)
	}
}
