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
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yangbeom/kerners/pkg/atomicbitops"
	"github.com/yangbeom/kerners/pkg/elf"
	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/pgalloc"
	"github.com/yangbeom/kerners/pkg/platform"
	"github.com/yangbeom/kerners/pkg/sync"
)

// defaultVersion is recorded for modules that do not declare one.
const defaultVersion = "0.0.0"

// maxVersionLen bounds the module_version string read out of module memory.
const maxVersionLen = 32

// LoadedModule is one loaded module. Its memory stays mapped and its exports
// stay visible until the module is unloaded.
type LoadedModule struct {
	name    string
	version string
	base    uint64
	size    uint64

	// state is guarded by the owning Loader's mu.
	state State

	refs      atomicbitops.Int64
	unloading atomicbitops.Bool

	// initFn and exitFn are the module_init/module_exit addresses, 0 when
	// the module has none.
	initFn uint64
	exitFn uint64

	pages        []uint64
	sectionAddrs []uint64
	pltBase      uint64

	// exportMu guards exports.
	exportMu sync.SpinMutex
	exports  []Export
}

// Name returns the module name.
func (m *LoadedModule) Name() string {
	return m.name
}

// Version returns the module version.
func (m *LoadedModule) Version() string {
	return m.version
}

// Base returns the module's load address.
func (m *LoadedModule) Base() uint64 {
	return m.base
}

// Size returns the module's section footprint in bytes.
func (m *LoadedModule) Size() uint64 {
	return m.size
}

// Refs returns the current reference count.
func (m *LoadedModule) Refs() int64 {
	return m.refs.Load()
}

// IsUnloading returns whether an unload is in progress.
func (m *LoadedModule) IsUnloading() bool {
	return m.unloading.Load()
}

// Lookup returns the address of an exported symbol.
func (m *LoadedModule) Lookup(name string) (uint64, bool) {
	m.exportMu.Lock()
	defer m.exportMu.Unlock()
	for _, e := range m.exports {
		if e.Name == name {
			return e.Addr, true
		}
	}
	return 0, false
}

// Exports returns the module's exported symbols in export order.
func (m *LoadedModule) Exports() []Export {
	m.exportMu.Lock()
	defer m.exportMu.Unlock()
	out := make([]Export, len(m.exports))
	copy(out, m.exports)
	return out
}

func (m *LoadedModule) exportSymbol(name string, addr uint64) {
	m.exportMu.Lock()
	defer m.exportMu.Unlock()
	for i := range m.exports {
		if m.exports[i].Name == name {
			m.exports[i].Addr = addr
			return
		}
	}
	m.exports = append(m.exports, Export{Name: name, Addr: addr})
}

// tryGet takes a reference unless an unload is in progress. The count must
// go up before the flag is checked: a concurrent unloader then either sees
// the raised count, or this side sees the flag and backs out. Flag-first
// leaves a window where the module is torn down under a live reference.
func (m *LoadedModule) tryGet() bool {
	m.refs.Add(1)
	if m.unloading.Load() {
		m.refs.Add(-1)
		return false
	}
	return true
}

func (m *LoadedModule) put() {
	m.refs.Add(-1)
}

// callInit runs module_init. Init addresses inside loaded foreign text
// cannot execute on the host; they are recorded but skipped.
func (m *LoadedModule) callInit() error {
	if m.initFn == 0 {
		return nil
	}
	if !platform.IsCallable(m.initFn) {
		log.Debugf("module %q: init at %#x is not host-executable, skipping", m.name, m.initFn)
		return nil
	}
	rc, err := platform.Call(m.initFn)
	if err != nil {
		return err
	}
	if rc != 0 {
		return &InitError{Code: rc}
	}
	return nil
}

// callExit runs module_exit, best effort.
func (m *LoadedModule) callExit() {
	if m.exitFn == 0 || !platform.IsCallable(m.exitFn) {
		return
	}
	if _, err := platform.Call(m.exitFn); err != nil {
		log.Warningf("module %q: exit call: %v", m.name, err)
	}
}

// ModuleInfo is a point-in-time snapshot of a loaded module.
type ModuleInfo struct {
	Name      string
	Version   string
	Base      uint64
	Size      uint64
	State     State
	Refs      int64
	Unloading bool
	Exports   int
}

// ModuleRef is a held reference to a loaded module. While any reference is
// open the module cannot be unloaded. Close releases it; Close is
// idempotent.
type ModuleRef struct {
	l      *Loader
	name   string
	closed atomicbitops.Bool
}

// Name returns the referenced module's name.
func (r *ModuleRef) Name() string {
	return r.name
}

// Module returns the referenced module, or nil if it has disappeared.
func (r *ModuleRef) Module() *LoadedModule {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	m, _ := r.l.findLocked(r.name)
	return m
}

// Close releases the reference.
func (r *ModuleRef) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	if m, _ := r.l.findLocked(r.name); m != nil {
		m.put()
	}
}

// Loader loads and unloads kernel modules for one architecture, drawing
// module memory from a frame pool and resolving undefined symbols against a
// kernel symbol table.
type Loader struct {
	arch platform.Arch
	pool *pgalloc.Pool
	syms *SymbolTable

	mu      sync.RWMutex
	modules []*LoadedModule
}

// NewLoader returns a loader for arch backed by pool and syms.
func NewLoader(arch platform.Arch, pool *pgalloc.Pool, syms *SymbolTable) *Loader {
	return &Loader{
		arch: arch,
		pool: pool,
		syms: syms,
	}
}

// SymbolTable returns the loader's kernel symbol table.
func (l *Loader) SymbolTable() *SymbolTable {
	return l.syms
}

func machineFor(arch platform.Arch) elf.Machine {
	if arch == platform.RISCV64 {
		return elf.EM_RISCV
	}
	return elf.EM_AARCH64
}

// LoadObject loads a relocatable object as a module named name: it places
// the SHF_ALLOC sections into contiguous frames, applies relocations with a
// trailing PLT page for out-of-range branches, registers exported globals
// and runs module_init. Any failure rolls the allocation back.
func (l *Loader) LoadObject(data []byte, name string) (*LoadedModule, error) {
	log.Infof("loading module %q", name)

	l.mu.RLock()
	dup, _ := l.findLocked(name)
	l.mu.RUnlock()
	if dup != nil {
		return nil, ErrAlreadyLoaded
	}

	f, err := elf.Parse(data, machineFor(l.arch))
	if err != nil {
		return nil, fmt.Errorf("kmod: parsing %q: %w", name, err)
	}
	if f.Header.Type != elf.ET_REL {
		log.Warningf("module %q is not a relocatable object (type %d)", name, f.Header.Type)
		return nil, ErrInvalidFormat
	}

	memSize := f.SectionMemorySize()
	numPages := int((memSize + pgalloc.PageSize - 1) / pgalloc.PageSize)

	// One extra page holds the PLT.
	pages, base, err := l.allocContiguous(numPages + 1)
	if err != nil {
		return nil, err
	}
	pltBase := pages[len(pages)-1]
	log.Debugf("module %q: %d bytes in %d frames at %#x, PLT at %#x",
		name, memSize, numPages, base, pltBase)

	sectionAddrs, err := l.loadSections(f, base)
	if err != nil {
		l.freePages(pages)
		return nil, err
	}

	pltMem, err := l.pool.Slice(pltBase, pgalloc.PageSize)
	if err != nil {
		l.freePages(pages)
		return nil, err
	}
	plt := newPLTTable(l.arch, pltBase, pltMem)

	if err := l.applyRelocations(f, sectionAddrs, plt); err != nil {
		l.freePages(pages)
		return nil, err
	}
	log.Debugf("module %q: %d PLT entries", name, plt.count)

	// Patched text must be coherent before anything branches into it.
	platform.FlushICache(base, int(memSize))
	platform.FlushICache(pltBase, pgalloc.PageSize)

	mod := &LoadedModule{
		name:         name,
		version:      l.moduleVersion(f, sectionAddrs),
		base:         base,
		size:         memSize,
		state:        Live,
		initFn:       symbolAddr(f, sectionAddrs, "module_init"),
		exitFn:       symbolAddr(f, sectionAddrs, "module_exit"),
		pages:        pages,
		sectionAddrs: sectionAddrs,
		pltBase:      pltBase,
		exports:      collectExports(f, sectionAddrs),
	}
	if mod.initFn != 0 {
		log.Debugf("module %q: module_init at %#x", name, mod.initFn)
	}
	if mod.exitFn != 0 {
		log.Debugf("module %q: module_exit at %#x", name, mod.exitFn)
	}
	log.Debugf("module %q: %d exported symbols", name, len(mod.exports))

	if err := mod.callInit(); err != nil {
		l.freePages(pages)
		return nil, err
	}

	l.mu.Lock()
	if m, _ := l.findLocked(name); m != nil {
		l.mu.Unlock()
		mod.callExit()
		l.freePages(pages)
		return nil, ErrAlreadyLoaded
	}
	l.modules = append(l.modules, mod)
	l.mu.Unlock()

	log.Infof("module %q loaded at %#x", name, base)
	return mod, nil
}

// LoadBuiltin registers a module whose init and exit bodies are kernel Go
// functions, with no object file involved. It still draws a frame so the
// module has an address identity.
func (l *Loader) LoadBuiltin(name string, init, exit func() int32) (*LoadedModule, error) {
	l.mu.RLock()
	dup, _ := l.findLocked(name)
	l.mu.RUnlock()
	if dup != nil {
		return nil, ErrAlreadyLoaded
	}

	base, err := l.pool.Alloc()
	if err != nil {
		return nil, ErrOutOfMemory
	}
	mod := &LoadedModule{
		name:    name,
		version: defaultVersion,
		base:    base,
		size:    pgalloc.PageSize,
		state:   Live,
		pages:   []uint64{base},
	}
	if init != nil {
		mod.initFn = platform.RegisterFunc(init)
	}
	if exit != nil {
		mod.exitFn = platform.RegisterFunc(exit)
	}

	if err := mod.callInit(); err != nil {
		l.freePages(mod.pages)
		return nil, err
	}

	l.mu.Lock()
	if m, _ := l.findLocked(name); m != nil {
		l.mu.Unlock()
		mod.callExit()
		l.freePages(mod.pages)
		return nil, ErrAlreadyLoaded
	}
	l.modules = append(l.modules, mod)
	l.mu.Unlock()

	log.Infof("builtin module %q loaded", name)
	return mod, nil
}

// ExecImage is a linked executable staged into pool memory. Free releases
// its frames.
type ExecImage struct {
	// Entry is the ELF entry point.
	Entry uint64

	l     *Loader
	pages []uint64
}

// Free returns the image's frames to the pool.
func (img *ExecImage) Free() {
	img.l.freePages(img.pages)
	img.pages = nil
}

// LoadExecutable stages a linked ET_EXEC or ET_DYN image: each PT_LOAD
// segment's file contents are copied into freshly allocated frames. The
// image is already linked for its own addresses, so no relocation is
// applied.
func (l *Loader) LoadExecutable(data []byte) (*ExecImage, error) {
	f, err := elf.Parse(data, machineFor(l.arch))
	if err != nil {
		return nil, fmt.Errorf("kmod: parsing executable: %w", err)
	}
	switch f.Header.Type {
	case elf.ET_EXEC, elf.ET_DYN:
	default:
		log.Warningf("not an executable (type %d)", f.Header.Type)
		return nil, ErrInvalidFormat
	}

	img := &ExecImage{Entry: f.Header.Entry, l: l}
	for _, ph := range f.LoadSegments() {
		log.Debugf("LOAD segment: vaddr=%#x filesz=%d memsz=%d", ph.Vaddr, ph.FileSize, ph.MemSize)
		numPages := int((ph.MemSize + pgalloc.PageSize - 1) / pgalloc.PageSize)
		for i := 0; i < numPages; i++ {
			addr, err := l.pool.Alloc()
			if err != nil {
				img.Free()
				return nil, ErrOutOfMemory
			}
			img.pages = append(img.pages, addr)

			copyStart := uint64(i) * pgalloc.PageSize
			if copyStart >= ph.FileSize {
				continue
			}
			copyEnd := copyStart + pgalloc.PageSize
			if copyEnd > ph.FileSize {
				copyEnd = ph.FileSize
			}
			fileOff := ph.Offset + copyStart
			if fileOff+copyEnd-copyStart > uint64(len(data)) {
				img.Free()
				return nil, ErrInvalidFormat
			}
			dst, err := l.pool.Slice(addr, int(copyEnd-copyStart))
			if err != nil {
				img.Free()
				return nil, err
			}
			copy(dst, data[fileOff:fileOff+copyEnd-copyStart])
		}
	}
	log.Infof("executable staged, entry %#x", img.Entry)
	return img, nil
}

// LoadFile loads a module object from the filesystem. The module is named
// after the file, minus any .ko or .o suffix.
func (l *Loader) LoadFile(path string) (*LoadedModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kmod: reading %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, ErrInvalidFormat
	}
	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".ko")
	name = strings.TrimSuffix(name, ".o")
	return l.LoadObject(data, name)
}

// Unload removes a loaded module. It fails with ErrInUse if references are
// outstanding and ErrUnloading if another unload is already in progress.
func (l *Loader) Unload(name string) error {
	// Set the unloading flag first so no new references slip in between
	// the refcount check and the removal.
	l.mu.RLock()
	mod, _ := l.findLocked(name)
	if mod == nil {
		l.mu.RUnlock()
		return ErrNotFound
	}
	if mod.unloading.Swap(true) {
		l.mu.RUnlock()
		return ErrUnloading
	}
	if mod.refs.Load() > 0 {
		mod.unloading.Store(false)
		l.mu.RUnlock()
		return ErrInUse
	}
	l.mu.RUnlock()

	return l.remove(name)
}

// UnloadWait unloads a module, waiting up to timeout for outstanding
// references to drain. A zero timeout waits indefinitely.
func (l *Loader) UnloadWait(name string, timeout time.Duration) error {
	l.mu.RLock()
	mod, _ := l.findLocked(name)
	if mod == nil {
		l.mu.RUnlock()
		return ErrNotFound
	}
	if mod.unloading.Swap(true) {
		l.mu.RUnlock()
		return ErrUnloading
	}
	l.mu.RUnlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for mod.refs.Load() > 0 {
		if timeout > 0 && time.Now().After(deadline) {
			mod.unloading.Store(false)
			return ErrInUse
		}
		sync.Goyield()
	}

	return l.remove(name)
}

// remove performs the unload once the module is flagged and drained.
func (l *Loader) remove(name string) error {
	l.mu.Lock()
	mod, idx := l.findLocked(name)
	if mod == nil {
		l.mu.Unlock()
		return ErrNotFound
	}
	mod.state = Unloading
	l.modules = append(l.modules[:idx], l.modules[idx+1:]...)
	l.mu.Unlock()

	mod.callExit()
	l.freePages(mod.pages)
	log.Infof("module %q unloaded", name)
	return nil
}

// Acquire takes a reference on a loaded module. The returned ModuleRef
// blocks unload until closed.
func (l *Loader) Acquire(name string) (*ModuleRef, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mod, _ := l.findLocked(name)
	if mod == nil {
		return nil, ErrNotFound
	}
	if !mod.tryGet() {
		return nil, ErrUnloading
	}
	return &ModuleRef{l: l, name: name}, nil
}

// Modules returns the names of loaded modules in load order.
func (l *Loader) Modules() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.modules))
	for i, m := range l.modules {
		out[i] = m.name
	}
	return out
}

// Info returns a snapshot of a loaded module.
func (l *Loader) Info(name string) (ModuleInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mod, _ := l.findLocked(name)
	if mod == nil {
		return ModuleInfo{}, false
	}
	return ModuleInfo{
		Name:      mod.name,
		Version:   mod.version,
		Base:      mod.base,
		Size:      mod.size,
		State:     mod.state,
		Refs:      mod.refs.Load(),
		Unloading: mod.unloading.Load(),
		Exports:   len(mod.Exports()),
	}, true
}

// LookupSymbolIn searches one module's exports.
func (l *Loader) LookupSymbolIn(module, symbol string) (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mod, _ := l.findLocked(module)
	if mod == nil {
		return 0, false
	}
	return mod.Lookup(symbol)
}

// LookupSymbolGlobal searches the kernel symbol table first, then every
// loaded module in load order.
func (l *Loader) LookupSymbolGlobal(name string) (uint64, bool) {
	if addr, ok := l.syms.Lookup(name); ok {
		return addr, true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, mod := range l.modules {
		if addr, ok := mod.Lookup(name); ok {
			return addr, true
		}
	}
	return 0, false
}

// ModuleSymbols returns a module's exported symbols.
func (l *Loader) ModuleSymbols(name string) []Export {
	l.mu.RLock()
	mod, _ := l.findLocked(name)
	l.mu.RUnlock()
	if mod == nil {
		return nil
	}
	return mod.Exports()
}

// ExportSymbol adds or replaces an export on a loaded module. It reports
// whether the module exists.
func (l *Loader) ExportSymbol(module, symbol string, addr uint64) bool {
	l.mu.RLock()
	mod, _ := l.findLocked(module)
	l.mu.RUnlock()
	if mod == nil {
		return false
	}
	mod.exportSymbol(symbol, addr)
	return true
}

// findLocked returns the named module and its index. Callers hold l.mu.
func (l *Loader) findLocked(name string) (*LoadedModule, int) {
	for i, m := range l.modules {
		if m.name == name {
			return m, i
		}
	}
	return nil, -1
}

// allocContiguous allocates n frames and verifies they form one ascending
// run; relocation math assumes section offsets are contiguous from base.
func (l *Loader) allocContiguous(n int) ([]uint64, uint64, error) {
	pages := make([]uint64, 0, n)
	var base uint64
	for i := 0; i < n; i++ {
		addr, err := l.pool.Alloc()
		if err != nil {
			l.freePages(pages)
			return nil, 0, ErrOutOfMemory
		}
		pages = append(pages, addr)
		if i == 0 {
			base = addr
		} else if addr != base+uint64(i)*pgalloc.PageSize {
			log.Warningf("frame pool fragmented: wanted %#x, got %#x",
				base+uint64(i)*pgalloc.PageSize, addr)
			l.freePages(pages)
			return nil, 0, ErrOutOfMemory
		}
	}
	return pages, base, nil
}

func (l *Loader) freePages(pages []uint64) {
	for _, addr := range pages {
		if err := l.pool.Free(addr); err != nil {
			log.Warningf("freeing module frame %#x: %v", addr, err)
		}
	}
}

// loadSections places the SHF_ALLOC sections contiguously from base, in
// file order, honoring each section's alignment. The returned slice maps
// section index to load address; unloaded sections map to 0.
func (l *Loader) loadSections(f *elf.File, base uint64) ([]uint64, error) {
	sections := f.Sections()
	addrs := make([]uint64, len(sections))
	var off uint64
	for i := range sections {
		sh := &sections[i]
		if sh.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		off = alignUp(off, sh.AddrAlign)
		addr := base + off
		addrs[i] = addr
		log.Debugf("section %q: %d bytes at %#x", f.SectionName(i), sh.Size, addr)
		if sh.Type != elf.SHT_NOBITS {
			data := f.SectionData(i)
			dst, err := l.pool.Slice(addr, len(data))
			if err != nil {
				return nil, err
			}
			copy(dst, data)
		}
		off += sh.Size
	}
	return addrs, nil
}

// applyRelocations resolves and applies every RELA entry. All symbols are
// resolved before any patch lands so paired relocations see each other and
// a failed resolution leaves memory untouched.
func (l *Loader) applyRelocations(f *elf.File, sectionAddrs []uint64, plt *pltTable) error {
	_, syms, ok := f.SymbolTable()
	if !ok {
		return ErrNoSymbolTable
	}

	var resolved []reloc
	for _, rs := range f.RelaSections() {
		if rs.Target < 0 || rs.Target >= len(sectionAddrs) {
			continue
		}
		sectionBase := sectionAddrs[rs.Target]
		if sectionBase == 0 {
			continue
		}
		log.Debugf("%d relocations for section %d", len(rs.Relas), rs.Target)

		for _, r := range rs.Relas {
			symIdx := int(r.Symbol())
			if symIdx >= len(syms) {
				continue
			}
			sym := syms[symIdx]

			var s uint64
			switch {
			case sym.Shndx == elf.SHN_UNDEF:
				name := f.SymbolName(sym)
				addr, ok := l.syms.Lookup(name)
				if !ok {
					log.Warningf("undefined symbol %q", name)
					return &SymbolNotFoundError{Name: name}
				}
				s = addr
			case sym.Shndx == elf.SHN_ABS:
				s = sym.Value
			default:
				if int(sym.Shndx) < len(sectionAddrs) && sectionAddrs[sym.Shndx] != 0 {
					s = sectionAddrs[sym.Shndx] + sym.Value
				} else {
					s = sym.Value
				}
			}

			resolved = append(resolved, reloc{
				addr:   sectionBase + r.Offset,
				sym:    int64(s),
				addend: r.Addend,
				typ:    r.Type(),
			})
		}
	}

	eng := newRelocator(l.arch)
	for _, r := range resolved {
		eng.prepass(r)
	}
	m := mem{pool: l.pool}
	for _, r := range resolved {
		if err := eng.apply(m, r, plt); err != nil {
			return err
		}
	}
	return nil
}

// symbolAddr resolves a defined symbol's load address, or 0 if the symbol
// is absent or its section was not loaded.
// moduleVersion reads the NUL-terminated string that an exported
// module_version symbol points at, up to maxVersionLen bytes.
func (l *Loader) moduleVersion(f *elf.File, sectionAddrs []uint64) string {
	addr := symbolAddr(f, sectionAddrs, "module_version")
	if addr == 0 || !l.pool.Contains(addr) {
		return defaultVersion
	}
	n := l.pool.Base() + l.pool.Size() - addr
	if n > maxVersionLen {
		n = maxVersionLen
	}
	b, err := l.pool.Slice(addr, int(n))
	if err != nil {
		return defaultVersion
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if len(b) == 0 {
		return defaultVersion
	}
	return string(b)
}

func symbolAddr(f *elf.File, sectionAddrs []uint64, name string) uint64 {
	sym, err := f.FindSymbol(name)
	if err != nil {
		return 0
	}
	if sym.Shndx == elf.SHN_ABS {
		return sym.Value
	}
	if int(sym.Shndx) < len(sectionAddrs) && sectionAddrs[sym.Shndx] != 0 {
		return sectionAddrs[sym.Shndx] + sym.Value
	}
	return 0
}

// collectExports gathers the defined global symbols with nonempty names.
func collectExports(f *elf.File, sectionAddrs []uint64) []Export {
	_, syms, ok := f.SymbolTable()
	if !ok {
		return nil
	}
	var out []Export
	for _, sym := range syms {
		if sym.Binding() != elf.STB_GLOBAL || sym.Shndx == elf.SHN_UNDEF {
			continue
		}
		name := f.SymbolName(sym)
		if name == "" {
			continue
		}
		var addr uint64
		if sym.Shndx == elf.SHN_ABS {
			addr = sym.Value
		} else if int(sym.Shndx) < len(sectionAddrs) && sectionAddrs[sym.Shndx] != 0 {
			addr = sectionAddrs[sym.Shndx] + sym.Value
		} else {
			continue
		}
		out = append(out, Export{Name: name, Addr: addr})
	}
	return out
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
