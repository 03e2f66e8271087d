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

// Package elftest builds small synthetic ELF64 relocatable objects for
// parser and loader tests.
package elftest

import (
	"encoding/binary"

	"github.com/yangbeom/kerners/pkg/elf"
)

type section struct {
	name    string
	typ     uint32
	flags   uint64
	align   uint64
	entSize uint64
	link    uint32
	info    uint32
	data    []byte
}

type symbol struct {
	name  string
	info  uint8
	shndx uint16
	value uint64
	size  uint64
}

type rela struct {
	target int
	offset uint64
	symIdx uint32
	typ    uint32
	addend int64
}

// Builder assembles an ET_REL object one section, symbol and relocation at a
// time. Section and symbol indexes returned by the Add methods are stable and
// valid in the built image.
type Builder struct {
	machine  elf.Machine
	fileType uint16
	sections []section
	symbols  []symbol
	relas    []rela
}

// NewBuilder returns a builder for a relocatable object targeting machine.
func NewBuilder(machine elf.Machine) *Builder {
	return &Builder{
		machine:  machine,
		fileType: elf.ET_REL,
	}
}

// SetFileType overrides the e_type written to the header.
func (b *Builder) SetFileType(t uint16) {
	b.fileType = t
}

// AddSection appends a section and returns its index. Index 0 is the
// implicit SHT_NULL section, so the first added section is index 1.
func (b *Builder) AddSection(name string, typ uint32, flags uint64, align uint64, data []byte) int {
	b.sections = append(b.sections, section{
		name:  name,
		typ:   typ,
		flags: flags,
		align: align,
		data:  data,
	})
	return len(b.sections)
}

// AddSymbol appends a symbol and returns its symbol table index. Index 0 is
// the implicit null symbol, so the first added symbol is index 1.
func (b *Builder) AddSymbol(name string, info uint8, shndx uint16, value, size uint64) uint32 {
	b.symbols = append(b.symbols, symbol{
		name:  name,
		info:  info,
		shndx: shndx,
		value: value,
		size:  size,
	})
	return uint32(len(b.symbols))
}

// Global is a convenience st_info value for a global notype symbol.
const Global = elf.STB_GLOBAL << 4

// AddRela appends a relocation against the section returned by AddSection.
func (b *Builder) AddRela(target int, offset uint64, symIdx uint32, typ uint32, addend int64) {
	b.relas = append(b.relas, rela{
		target: target,
		offset: offset,
		symIdx: symIdx,
		typ:    typ,
		addend: addend,
	})
}

// Build assembles the image. The builder stays usable; Build can be called
// again after further additions.
func (b *Builder) Build() []byte {
	le := binary.LittleEndian

	// Final section list: null, user sections, .symtab, .strtab, one
	// .rela.* per relocated target, .shstrtab.
	finals := []section{{typ: elf.SHT_NULL}}
	finals = append(finals, b.sections...)

	// Symbol string table.
	strtab := []byte{0}
	symNameOff := make([]uint32, len(b.symbols))
	for i, s := range b.symbols {
		symNameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.name...)
		strtab = append(strtab, 0)
	}

	// Symbol table, with the null symbol first.
	symtab := make([]byte, 24*(len(b.symbols)+1))
	for i, s := range b.symbols {
		e := symtab[24*(i+1):]
		le.PutUint32(e[0:], symNameOff[i])
		e[4] = s.info
		e[5] = 0
		le.PutUint16(e[6:], s.shndx)
		le.PutUint64(e[8:], s.value)
		le.PutUint64(e[16:], s.size)
	}

	symtabIdx := len(finals)
	strtabIdx := symtabIdx + 1
	finals = append(finals,
		section{
			name:    ".symtab",
			typ:     elf.SHT_SYMTAB,
			align:   8,
			entSize: 24,
			link:    uint32(strtabIdx),
			info:    1, // one local symbol: the null entry
			data:    symtab,
		},
		section{
			name:  ".strtab",
			typ:   elf.SHT_STRTAB,
			align: 1,
			data:  strtab,
		},
	)

	// Group relocations by target, preserving insertion order.
	var targets []int
	byTarget := map[int][]rela{}
	for _, r := range b.relas {
		if _, ok := byTarget[r.target]; !ok {
			targets = append(targets, r.target)
		}
		byTarget[r.target] = append(byTarget[r.target], r)
	}
	for _, target := range targets {
		rs := byTarget[target]
		data := make([]byte, 24*len(rs))
		for i, r := range rs {
			e := data[24*i:]
			le.PutUint64(e[0:], r.offset)
			le.PutUint64(e[8:], uint64(r.symIdx)<<32|uint64(r.typ))
			le.PutUint64(e[16:], uint64(r.addend))
		}
		name := ".rela" + b.targetName(target)
		finals = append(finals, section{
			name:    name,
			typ:     elf.SHT_RELA,
			align:   8,
			entSize: 24,
			link:    uint32(symtabIdx),
			info:    uint32(target),
			data:    data,
		})
	}

	// Section name table, named last so it can contain its own name.
	shstrtab := []byte{0}
	nameOff := make([]uint32, len(finals)+1)
	for i := 1; i < len(finals); i++ {
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, finals[i].name...)
		shstrtab = append(shstrtab, 0)
	}
	shstrtabIdx := len(finals)
	nameOff[shstrtabIdx] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)
	finals = append(finals, section{
		name:  ".shstrtab",
		typ:   elf.SHT_STRTAB,
		align: 1,
		data:  shstrtab,
	})

	// Lay out: header, section data, section header table.
	offset := uint64(64)
	dataOff := make([]uint64, len(finals))
	for i := range finals {
		s := &finals[i]
		if s.typ == elf.SHT_NULL || s.typ == elf.SHT_NOBITS || len(s.data) == 0 {
			dataOff[i] = 0
			continue
		}
		offset = alignUp(offset, 8)
		dataOff[i] = offset
		offset += uint64(len(s.data))
	}
	shOff := alignUp(offset, 8)
	total := shOff + uint64(len(finals))*64

	out := make([]byte, total)
	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(out[16:], b.fileType)
	le.PutUint16(out[18:], uint16(b.machine))
	le.PutUint32(out[20:], 1)
	le.PutUint64(out[40:], shOff)
	le.PutUint16(out[52:], 64)
	le.PutUint16(out[58:], 64)
	le.PutUint16(out[60:], uint16(len(finals)))
	le.PutUint16(out[62:], uint16(shstrtabIdx))

	for i := range finals {
		s := &finals[i]
		if dataOff[i] != 0 {
			copy(out[dataOff[i]:], s.data)
		}
		h := out[shOff+uint64(i)*64:]
		le.PutUint32(h[0:], nameOff[i])
		le.PutUint32(h[4:], s.typ)
		le.PutUint64(h[8:], s.flags)
		le.PutUint64(h[24:], dataOff[i])
		size := uint64(len(s.data))
		le.PutUint64(h[32:], size)
		le.PutUint32(h[40:], s.link)
		le.PutUint32(h[44:], s.info)
		le.PutUint64(h[48:], s.align)
		le.PutUint64(h[56:], s.entSize)
	}
	return out
}

func (b *Builder) targetName(target int) string {
	if target >= 1 && target <= len(b.sections) {
		return b.sections[target-1].name
	}
	return ""
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
