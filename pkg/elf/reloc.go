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

package elf

// AArch64 relocation types.
const (
	R_AARCH64_NONE               uint32 = 0
	R_AARCH64_ABS64              uint32 = 257 // S + A
	R_AARCH64_ABS32              uint32 = 258 // S + A
	R_AARCH64_PREL64             uint32 = 260 // S + A - P
	R_AARCH64_PREL32             uint32 = 261 // S + A - P
	R_AARCH64_ADR_PREL_PG_HI21   uint32 = 275 // Page(S+A) - Page(P)
	R_AARCH64_ADD_ABS_LO12_NC    uint32 = 277 // S + A, low 12 bits
	R_AARCH64_JUMP26             uint32 = 282 // S + A - P (b)
	R_AARCH64_CALL26             uint32 = 283 // S + A - P (bl)
	R_AARCH64_LDST64_ABS_LO12_NC uint32 = 286 // S + A, low 12 bits, 8-byte scaled
)

// RISC-V relocation types.
const (
	R_RISCV_NONE         uint32 = 0
	R_RISCV_32           uint32 = 1  // S + A
	R_RISCV_64           uint32 = 2  // S + A
	R_RISCV_BRANCH       uint32 = 16 // S + A - P (B-type)
	R_RISCV_JAL          uint32 = 17 // S + A - P (J-type)
	R_RISCV_CALL         uint32 = 18 // S + A - P (auipc+jalr)
	R_RISCV_CALL_PLT     uint32 = 19 // S + A - P (auipc+jalr, PLT)
	R_RISCV_PCREL_HI20   uint32 = 23 // S + A - P, high 20 bits
	R_RISCV_PCREL_LO12_I uint32 = 24 // pairs with the hi20 at the symbol's address
	R_RISCV_PCREL_LO12_S uint32 = 25 // pairs with the hi20 at the symbol's address
	R_RISCV_HI20         uint32 = 26 // S + A, high 20 bits
	R_RISCV_LO12_I       uint32 = 27 // S + A, low 12 bits, I-type
	R_RISCV_LO12_S       uint32 = 28 // S + A, low 12 bits, S-type
	R_RISCV_RELAX        uint32 = 51 // linker relaxation hint, no-op
)
