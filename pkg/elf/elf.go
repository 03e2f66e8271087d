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

// Package elf parses 64-bit little-endian ELF images without copying them:
// a File is a set of typed views over the caller's byte buffer. Unlike
// debug/elf it exposes the raw surface a relocating loader needs, section
// indexes, sh_info RELA pairing and file offsets for patching.
package elf

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// elfMagic is the four identification bytes every ELF file starts with.
var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// e_ident layout.
const (
	eiClass = 4
	eiData  = 5

	elfClass64  = 2
	elfDataLSB  = 1
	headerSize  = 64
	sectionSize = 64
	programSize = 56
	symbolSize  = 24
	relaSize    = 24
)

// Machine is an e_machine value.
type Machine uint16

// Machine types.
const (
	EM_NONE    Machine = 0
	EM_AARCH64 Machine = 183
	EM_RISCV   Machine = 243
)

// File types (e_type).
const (
	ET_NONE uint16 = 0
	ET_REL  uint16 = 1
	ET_EXEC uint16 = 2
	ET_DYN  uint16 = 3
	ET_CORE uint16 = 4
)

// Section types (sh_type).
const (
	SHT_NULL     uint32 = 0
	SHT_PROGBITS uint32 = 1
	SHT_SYMTAB   uint32 = 2
	SHT_STRTAB   uint32 = 3
	SHT_RELA     uint32 = 4
	SHT_HASH     uint32 = 5
	SHT_DYNAMIC  uint32 = 6
	SHT_NOTE     uint32 = 7
	SHT_NOBITS   uint32 = 8
	SHT_REL      uint32 = 9
	SHT_DYNSYM   uint32 = 11
)

// Section flags (sh_flags).
const (
	SHF_WRITE     uint64 = 0x1
	SHF_ALLOC     uint64 = 0x2
	SHF_EXECINSTR uint64 = 0x4
)

// Program header types (p_type).
const (
	PT_NULL    uint32 = 0
	PT_LOAD    uint32 = 1
	PT_DYNAMIC uint32 = 2
	PT_INTERP  uint32 = 3
	PT_NOTE    uint32 = 4
	PT_PHDR    uint32 = 6
)

// Special section indexes (st_shndx).
const (
	SHN_UNDEF  uint16 = 0
	SHN_ABS    uint16 = 0xfff1
	SHN_COMMON uint16 = 0xfff2
)

// Symbol bindings.
const (
	STB_LOCAL  uint8 = 0
	STB_GLOBAL uint8 = 1
	STB_WEAK   uint8 = 2
)

// Parse errors.
var (
	ErrTruncated       = errors.New("elf: buffer too small")
	ErrBadMagic        = errors.New("elf: bad magic")
	ErrNot64Bit        = errors.New("elf: not a 64-bit image")
	ErrBigEndian       = errors.New("elf: not little-endian")
	ErrWrongMachine    = errors.New("elf: unsupported machine")
	ErrBadSectionTable = errors.New("elf: invalid section header table")
	ErrBadProgramTable = errors.New("elf: invalid program header table")
	ErrSectionNotFound = errors.New("elf: section not found")
	ErrSymbolNotFound  = errors.New("elf: symbol not found")
)

// Header is the decoded ELF file header.
type Header struct {
	Type      uint16
	Machine   Machine
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// SectionHeader is one decoded section header table entry.
type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// ProgramHeader is one decoded program header table entry.
type ProgramHeader struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	Vaddr    uint64
	Paddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// Symbol is one decoded symbol table entry.
type Symbol struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// Binding returns the symbol binding (high nibble of st_info).
func (s Symbol) Binding() uint8 {
	return s.Info >> 4
}

// SymType returns the symbol type (low nibble of st_info).
func (s Symbol) SymType() uint8 {
	return s.Info & 0xf
}

// Rela is one decoded RELA relocation entry.
type Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// Symbol returns the relocation's symbol table index (high 32 bits of
// r_info).
func (r Rela) Symbol() uint32 {
	return uint32(r.Info >> 32)
}

// Type returns the relocation type (low 32 bits of r_info).
func (r Rela) Type() uint32 {
	return uint32(r.Info)
}

// RelaSection pairs a RELA section with the section its entries patch.
type RelaSection struct {
	// Index is the RELA section's own index.
	Index int

	// Target is the patched section's index (sh_info).
	Target int

	// Relas are the decoded entries.
	Relas []Rela
}

// File is a parsed ELF image. It retains the buffer passed to Parse; the
// caller must not mutate it.
type File struct {
	data []byte

	// Header is the decoded file header.
	Header Header

	sections []SectionHeader
	programs []ProgramHeader
	shstrtab []byte
}

// Parse validates and decodes an ELF image. machine, unless EM_NONE,
// restricts the accepted e_machine value.
func Parse(data []byte, machine Machine) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrTruncated
	}
	if !bytes.Equal(data[0:4], elfMagic[:]) {
		return nil, ErrBadMagic
	}
	if data[eiClass] != elfClass64 {
		return nil, ErrNot64Bit
	}
	if data[eiData] != elfDataLSB {
		return nil, ErrBigEndian
	}

	le := binary.LittleEndian
	f := &File{data: data}
	f.Header = Header{
		Type:      le.Uint16(data[16:]),
		Machine:   Machine(le.Uint16(data[18:])),
		Version:   le.Uint32(data[20:]),
		Entry:     le.Uint64(data[24:]),
		PhOff:     le.Uint64(data[32:]),
		ShOff:     le.Uint64(data[40:]),
		Flags:     le.Uint32(data[48:]),
		EhSize:    le.Uint16(data[52:]),
		PhEntSize: le.Uint16(data[54:]),
		PhNum:     le.Uint16(data[56:]),
		ShEntSize: le.Uint16(data[58:]),
		ShNum:     le.Uint16(data[60:]),
		ShStrNdx:  le.Uint16(data[62:]),
	}

	if machine != EM_NONE && f.Header.Machine != machine {
		return nil, ErrWrongMachine
	}

	shOff := f.Header.ShOff
	shNum := uint64(f.Header.ShNum)
	if shNum > 0 {
		if f.Header.ShEntSize != sectionSize {
			return nil, ErrBadSectionTable
		}
		end := shOff + shNum*sectionSize
		if end < shOff || end > uint64(len(data)) {
			return nil, ErrBadSectionTable
		}
		f.sections = make([]SectionHeader, shNum)
		for i := range f.sections {
			b := data[shOff+uint64(i)*sectionSize:]
			f.sections[i] = SectionHeader{
				Name:      le.Uint32(b[0:]),
				Type:      le.Uint32(b[4:]),
				Flags:     le.Uint64(b[8:]),
				Addr:      le.Uint64(b[16:]),
				Offset:    le.Uint64(b[24:]),
				Size:      le.Uint64(b[32:]),
				Link:      le.Uint32(b[40:]),
				Info:      le.Uint32(b[44:]),
				AddrAlign: le.Uint64(b[48:]),
				EntSize:   le.Uint64(b[56:]),
			}
		}
	}

	phOff := f.Header.PhOff
	phNum := uint64(f.Header.PhNum)
	if phOff != 0 && phNum != 0 {
		if f.Header.PhEntSize != programSize {
			return nil, ErrBadProgramTable
		}
		end := phOff + phNum*programSize
		if end < phOff || end > uint64(len(data)) {
			return nil, ErrBadProgramTable
		}
		f.programs = make([]ProgramHeader, phNum)
		for i := range f.programs {
			b := data[phOff+uint64(i)*programSize:]
			f.programs[i] = ProgramHeader{
				Type:     le.Uint32(b[0:]),
				Flags:    le.Uint32(b[4:]),
				Offset:   le.Uint64(b[8:]),
				Vaddr:    le.Uint64(b[16:]),
				Paddr:    le.Uint64(b[24:]),
				FileSize: le.Uint64(b[32:]),
				MemSize:  le.Uint64(b[40:]),
				Align:    le.Uint64(b[48:]),
			}
		}
	}

	// The section name table is best effort: a broken one degrades names to
	// "" rather than failing the parse.
	if idx := int(f.Header.ShStrNdx); idx < len(f.sections) {
		f.shstrtab = f.sectionBytes(&f.sections[idx])
	}

	return f, nil
}

// Sections returns the section header table.
func (f *File) Sections() []SectionHeader {
	return f.sections
}

// Programs returns the program header table, if present.
func (f *File) Programs() []ProgramHeader {
	return f.programs
}

// SectionName returns the name of section i, or "" if it has none.
func (f *File) SectionName(i int) string {
	if i < 0 || i >= len(f.sections) {
		return ""
	}
	return cString(f.shstrtab, f.sections[i].Name)
}

// FindSection returns the index of the first section named name.
func (f *File) FindSection(name string) (int, error) {
	for i := range f.sections {
		if f.SectionName(i) == name {
			return i, nil
		}
	}
	return 0, ErrSectionNotFound
}

// SectionData returns section i's file contents. NOBITS sections and ranges
// falling outside the buffer yield an empty slice.
func (f *File) SectionData(i int) []byte {
	if i < 0 || i >= len(f.sections) {
		return nil
	}
	return f.sectionBytes(&f.sections[i])
}

func (f *File) sectionBytes(sh *SectionHeader) []byte {
	if sh.Type == SHT_NOBITS {
		return nil
	}
	end := sh.Offset + sh.Size
	if end < sh.Offset || end > uint64(len(f.data)) {
		return nil
	}
	return f.data[sh.Offset:end]
}

// SymbolTable locates the SHT_SYMTAB section and decodes it. The returned
// index identifies the symtab section itself (its Link names the associated
// string table).
func (f *File) SymbolTable() (index int, syms []Symbol, ok bool) {
	for i := range f.sections {
		if f.sections[i].Type != SHT_SYMTAB {
			continue
		}
		return i, decodeSymbols(f.sectionBytes(&f.sections[i])), true
	}
	return 0, nil, false
}

func decodeSymbols(b []byte) []Symbol {
	le := binary.LittleEndian
	syms := make([]Symbol, len(b)/symbolSize)
	for i := range syms {
		e := b[i*symbolSize:]
		syms[i] = Symbol{
			Name:  le.Uint32(e[0:]),
			Info:  e[4],
			Other: e[5],
			Shndx: le.Uint16(e[6:]),
			Value: le.Uint64(e[8:]),
			Size:  le.Uint64(e[16:]),
		}
	}
	return syms
}

// SymbolName returns sym's name via the symbol table's linked string table.
func (f *File) SymbolName(sym Symbol) string {
	symtabIdx, _, ok := f.SymbolTable()
	if !ok {
		return ""
	}
	strtabIdx := int(f.sections[symtabIdx].Link)
	if strtabIdx >= len(f.sections) {
		return ""
	}
	return cString(f.sectionBytes(&f.sections[strtabIdx]), sym.Name)
}

// FindSymbol returns the first symbol named name.
func (f *File) FindSymbol(name string) (Symbol, error) {
	_, syms, ok := f.SymbolTable()
	if !ok {
		return Symbol{}, ErrSymbolNotFound
	}
	for _, sym := range syms {
		if f.SymbolName(sym) == name {
			return sym, nil
		}
	}
	return Symbol{}, ErrSymbolNotFound
}

// RelaSections decodes every SHT_RELA section, in file order.
func (f *File) RelaSections() []RelaSection {
	var out []RelaSection
	le := binary.LittleEndian
	for i := range f.sections {
		sh := &f.sections[i]
		if sh.Type != SHT_RELA {
			continue
		}
		b := f.sectionBytes(sh)
		relas := make([]Rela, len(b)/relaSize)
		for j := range relas {
			e := b[j*relaSize:]
			relas[j] = Rela{
				Offset: le.Uint64(e[0:]),
				Info:   le.Uint64(e[8:]),
				Addend: int64(le.Uint64(e[16:])),
			}
		}
		out = append(out, RelaSection{Index: i, Target: int(sh.Info), Relas: relas})
	}
	return out
}

// LoadSegments returns the PT_LOAD program headers, for linked executables.
func (f *File) LoadSegments() []ProgramHeader {
	var out []ProgramHeader
	for _, ph := range f.programs {
		if ph.Type == PT_LOAD {
			out = append(out, ph)
		}
	}
	return out
}

// MemorySize returns the top load address of the PT_LOAD segments, the image
// footprint of a linked executable.
func (f *File) MemorySize() uint64 {
	var max uint64
	for _, ph := range f.LoadSegments() {
		if end := ph.Vaddr + ph.MemSize; end > max {
			max = end
		}
	}
	return max
}

// SectionMemorySize returns the contiguous footprint of the SHF_ALLOC
// sections when laid out in file order, aligning each section's placement
// before adding its size, exactly mirroring how a loader places them.
func (f *File) SectionMemorySize() uint64 {
	var total uint64
	for i := range f.sections {
		sh := &f.sections[i]
		if sh.Flags&SHF_ALLOC == 0 {
			continue
		}
		total = alignUp(total, sh.AddrAlign)
		total += sh.Size
	}
	return total
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// cString returns the NUL-terminated string at offset in strtab.
func cString(strtab []byte, offset uint32) string {
	if uint64(offset) >= uint64(len(strtab)) {
		return ""
	}
	b := strtab[offset:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
