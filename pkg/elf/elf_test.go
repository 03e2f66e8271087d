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

package elf_test

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yangbeom/kerners/pkg/elf"
	"github.com/yangbeom/kerners/pkg/elf/elftest"
)

func buildObject() ([]byte, int, uint32) {
	b := elftest.NewBuilder(elf.EM_AARCH64)
	text := b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 4, make([]byte, 16))
	sym := b.AddSymbol("target", elftest.Global, uint16(text), 8, 0)
	b.AddRela(text, 0, sym, elf.R_AARCH64_ABS64, 5)
	return b.Build(), text, sym
}

func TestParseValid(t *testing.T) {
	img, textIdx, _ := buildObject()
	f, err := elf.Parse(img, elf.EM_AARCH64)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Header.Type != elf.ET_REL {
		t.Errorf("Type = %d, want ET_REL", f.Header.Type)
	}
	if f.Header.Machine != elf.EM_AARCH64 {
		t.Errorf("Machine = %d, want EM_AARCH64", f.Header.Machine)
	}
	if got := f.SectionName(textIdx); got != ".text" {
		t.Errorf("SectionName(%d) = %q, want .text", textIdx, got)
	}
	if idx, err := f.FindSection(".text"); err != nil || idx != textIdx {
		t.Errorf("FindSection(.text) = %d, %v; want %d, nil", idx, err, textIdx)
	}
	if _, err := f.FindSection(".nonexistent"); err != elf.ErrSectionNotFound {
		t.Errorf("FindSection(missing): got %v, want ErrSectionNotFound", err)
	}
	if got := len(f.SectionData(textIdx)); got != 16 {
		t.Errorf("len(SectionData(.text)) = %d, want 16", got)
	}
}

func TestParseSymbols(t *testing.T) {
	img, textIdx, _ := buildObject()
	f, err := elf.Parse(img, elf.EM_AARCH64)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, syms, ok := f.SymbolTable()
	if !ok {
		t.Fatal("SymbolTable not found")
	}
	if len(syms) != 2 {
		t.Fatalf("len(syms) = %d, want 2 (null + target)", len(syms))
	}
	want := elf.Symbol{Name: syms[1].Name, Info: elftest.Global, Shndx: uint16(textIdx), Value: 8}
	if diff := cmp.Diff(want, syms[1]); diff != "" {
		t.Errorf("symbol mismatch (-want +got):\n%s", diff)
	}
	if got := f.SymbolName(syms[1]); got != "target" {
		t.Errorf("SymbolName = %q, want target", got)
	}
	sym, err := f.FindSymbol("target")
	if err != nil || sym.Value != 8 {
		t.Errorf("FindSymbol(target) = %+v, %v", sym, err)
	}
	if _, err := f.FindSymbol("missing"); err != elf.ErrSymbolNotFound {
		t.Errorf("FindSymbol(missing): got %v, want ErrSymbolNotFound", err)
	}
	if got := sym.Binding(); got != elf.STB_GLOBAL {
		t.Errorf("Binding() = %d, want STB_GLOBAL", got)
	}
}

func TestParseRelocations(t *testing.T) {
	img, textIdx, symIdx := buildObject()
	f, err := elf.Parse(img, elf.EM_AARCH64)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	relaSecs := f.RelaSections()
	if len(relaSecs) != 1 {
		t.Fatalf("len(RelaSections) = %d, want 1", len(relaSecs))
	}
	rs := relaSecs[0]
	if rs.Target != textIdx {
		t.Errorf("Target = %d, want %d", rs.Target, textIdx)
	}
	if len(rs.Relas) != 1 {
		t.Fatalf("len(Relas) = %d, want 1", len(rs.Relas))
	}
	r := rs.Relas[0]
	if r.Symbol() != symIdx || r.Type() != elf.R_AARCH64_ABS64 || r.Addend != 5 || r.Offset != 0 {
		t.Errorf("rela = {sym %d, type %d, addend %d, offset %d}, want {%d, %d, 5, 0}",
			r.Symbol(), r.Type(), r.Addend, r.Offset, symIdx, elf.R_AARCH64_ABS64)
	}
}

func TestParseErrors(t *testing.T) {
	img, _, _ := buildObject()

	for _, tc := range []struct {
		name   string
		mangle func([]byte) []byte
		want   error
	}{
		{"truncated", func(b []byte) []byte { return b[:32] }, elf.ErrTruncated},
		{"bad magic", func(b []byte) []byte { b[0] = 0x7e; return b }, elf.ErrBadMagic},
		{"32-bit", func(b []byte) []byte { b[4] = 1; return b }, elf.ErrNot64Bit},
		{"big endian", func(b []byte) []byte { b[5] = 2; return b }, elf.ErrBigEndian},
		{"bad section offset", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[40:], uint64(len(b))+1)
			return b
		}, elf.ErrBadSectionTable},
		{"bad section entsize", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[58:], 32)
			return b
		}, elf.ErrBadSectionTable},
		{"bad program table", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[32:], uint64(len(b))+1)
			binary.LittleEndian.PutUint16(b[54:], 56)
			binary.LittleEndian.PutUint16(b[56:], 4)
			return b
		}, elf.ErrBadProgramTable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mangled := tc.mangle(append([]byte(nil), img...))
			if _, err := elf.Parse(mangled, elf.EM_AARCH64); err != tc.want {
				t.Errorf("Parse: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseWrongMachine(t *testing.T) {
	img, _, _ := buildObject()
	if _, err := elf.Parse(img, elf.EM_RISCV); err != elf.ErrWrongMachine {
		t.Errorf("Parse(riscv expected): got %v, want ErrWrongMachine", err)
	}
	// EM_NONE accepts anything.
	if _, err := elf.Parse(img, elf.EM_NONE); err != nil {
		t.Errorf("Parse(any machine): %v", err)
	}
}

func TestNobitsSectionData(t *testing.T) {
	b := elftest.NewBuilder(elf.EM_RISCV)
	bss := b.AddSection(".bss", elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 8, make([]byte, 64))
	f, err := elf.Parse(b.Build(), elf.EM_RISCV)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := f.SectionData(bss); len(got) != 0 {
		t.Errorf("SectionData(.bss) returned %d bytes, want 0", len(got))
	}
	if got := f.Sections()[bss].Size; got != 64 {
		t.Errorf("bss Size = %d, want 64", got)
	}
}

func TestSectionMemorySize(t *testing.T) {
	b := elftest.NewBuilder(elf.EM_AARCH64)
	b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 4, make([]byte, 6))
	b.AddSection(".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 8, make([]byte, 16))
	b.AddSection(".comment", elf.SHT_PROGBITS, 0, 1, make([]byte, 100)) // not ALLOC
	f, err := elf.Parse(b.Build(), elf.EM_AARCH64)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// .text at 0 (+6), .data aligned to 8 (+16) = 24; .comment ignored.
	if got := f.SectionMemorySize(); got != 24 {
		t.Errorf("SectionMemorySize() = %d, want 24", got)
	}
}

func TestLoadSegments(t *testing.T) {
	// A hand-built minimal executable: header + two program headers.
	img := make([]byte, 64+2*56)
	copy(img, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le := binary.LittleEndian
	le.PutUint16(img[16:], elf.ET_EXEC)
	le.PutUint16(img[18:], uint16(elf.EM_RISCV))
	le.PutUint64(img[24:], 0x80000000) // entry
	le.PutUint64(img[32:], 64)         // phoff
	le.PutUint16(img[54:], 56)         // phentsize
	le.PutUint16(img[56:], 2)          // phnum

	ph := img[64:]
	le.PutUint32(ph[0:], elf.PT_LOAD)
	le.PutUint64(ph[16:], 0x80000000) // vaddr
	le.PutUint64(ph[40:], 0x1000)     // memsz
	ph = img[64+56:]
	le.PutUint32(ph[0:], elf.PT_NOTE)

	f, err := elf.Parse(img, elf.EM_RISCV)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Header.Type != elf.ET_EXEC {
		t.Errorf("Type = %d, want ET_EXEC", f.Header.Type)
	}
	segs := f.LoadSegments()
	if len(segs) != 1 {
		t.Fatalf("len(LoadSegments) = %d, want 1", len(segs))
	}
	if got := f.MemorySize(); got != 0x80001000 {
		t.Errorf("MemorySize() = %#x, want 0x80001000", got)
	}
}
