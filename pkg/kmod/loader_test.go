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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yangbeom/kerners/pkg/atomicbitops"
	"github.com/yangbeom/kerners/pkg/elf"
	"github.com/yangbeom/kerners/pkg/elf/elftest"
	"github.com/yangbeom/kerners/pkg/pgalloc"
	"github.com/yangbeom/kerners/pkg/platform"
)

func newTestLoader(t *testing.T, arch platform.Arch, frames int) *Loader {
	t.Helper()
	pool, err := pgalloc.NewPool(frames)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Destroy() })
	return NewLoader(arch, pool, NewSymbolTable())
}

// buildModule returns an object with one 32-byte .text section, an ABS64
// relocation at offset 0 against the undefined symbol extern, and a global
// export at .text+8.
func buildModule(extern string) []byte {
	b := elftest.NewBuilder(elf.EM_AARCH64)
	text := b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 8, make([]byte, 32))
	und := b.AddSymbol(extern, elftest.Global, elf.SHN_UNDEF, 0, 0)
	b.AddSymbol("mod_entry", elftest.Global, uint16(text), 8, 0)
	b.AddRela(text, 0, und, elf.R_AARCH64_ABS64, 0)
	return b.Build()
}

func TestLoadObjectResolvesKernelSymbols(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	kaddr := l.syms.RegisterFunc("kernel_print", nil)

	mod, err := l.LoadObject(buildModule("kernel_print"), "hello")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}

	// The ABS64 slot at offset 0 now holds the kernel symbol's address.
	buf, err := l.pool.Slice(mod.Base(), 8)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if got := binary.LittleEndian.Uint64(buf); got != kaddr {
		t.Errorf("relocated slot = %#x, want %#x", got, kaddr)
	}

	if addr, ok := mod.Lookup("mod_entry"); !ok || addr != mod.Base()+8 {
		t.Errorf("Lookup(mod_entry) = %#x, %v; want %#x", addr, ok, mod.Base()+8)
	}
	if got := l.Modules(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("Modules() = %v, want [hello]", got)
	}
	info, ok := l.Info("hello")
	if !ok {
		t.Fatal("Info(hello) not found")
	}
	if info.State != Live || info.Size != 32 || info.Refs != 0 || info.Exports != 1 {
		t.Errorf("Info = %+v", info)
	}

	// Sections plus PLT occupy two frames; unload returns them.
	if got := l.pool.FreeFrames(); got != 6 {
		t.Errorf("FreeFrames while loaded = %d, want 6", got)
	}
	if _, err := l.LoadObject(buildModule("kernel_print"), "hello"); err != ErrAlreadyLoaded {
		t.Errorf("duplicate load: got %v, want ErrAlreadyLoaded", err)
	}
	if err := l.Unload("hello"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if got := l.pool.FreeFrames(); got != 8 {
		t.Errorf("FreeFrames after unload = %d, want 8", got)
	}
}

func TestLoadObjectUndefinedSymbol(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	_, err := l.LoadObject(buildModule("missing"), "broken")

	var nf *SymbolNotFoundError
	if !errors.As(err, &nf) || nf.Name != "missing" {
		t.Fatalf("got %v, want SymbolNotFoundError{missing}", err)
	}
	// Everything allocated was rolled back.
	if got := l.pool.FreeFrames(); got != 8 {
		t.Errorf("FreeFrames after failed load = %d, want 8", got)
	}
	if got := l.Modules(); len(got) != 0 {
		t.Errorf("Modules() = %v after failed load", got)
	}
}

func TestLoadObjectRejectsBadImages(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)

	b := elftest.NewBuilder(elf.EM_AARCH64)
	b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC, 4, make([]byte, 8))
	b.SetFileType(elf.ET_EXEC)
	if _, err := l.LoadObject(b.Build(), "exec"); err != ErrInvalidFormat {
		t.Errorf("executable image: got %v, want ErrInvalidFormat", err)
	}

	if _, err := l.LoadObject([]byte{1, 2, 3}, "junk"); !errors.Is(err, elf.ErrTruncated) {
		t.Errorf("truncated image: got %v, want ErrTruncated", err)
	}

	// Wrong machine for the loader's architecture.
	rb := elftest.NewBuilder(elf.EM_RISCV)
	rb.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC, 4, make([]byte, 8))
	if _, err := l.LoadObject(rb.Build(), "riscv"); !errors.Is(err, elf.ErrWrongMachine) {
		t.Errorf("wrong machine: got %v, want ErrWrongMachine", err)
	}
}

func TestLoadObjectBadRelocationOffset(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)

	// With a fresh pool the single ALLOC section lands on the first frame,
	// so this r_offset makes the patch address wrap past 2^64 back toward
	// the arena. The load must fail cleanly, not fault.
	offset := ^uint64(0) - l.pool.Base() - 1

	b := elftest.NewBuilder(elf.EM_AARCH64)
	text := b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 8, make([]byte, 32))
	und := b.AddSymbol("kernel_print", elftest.Global, elf.SHN_UNDEF, 0, 0)
	b.AddRela(text, offset, und, elf.R_AARCH64_ABS64, 0)

	if _, err := l.LoadObject(b.Build(), "wild"); err == nil {
		t.Fatal("LoadObject with wrapping relocation offset succeeded")
	}
	if got := l.pool.FreeFrames(); got != 8 {
		t.Errorf("FreeFrames after failed load = %d, want 8", got)
	}
}

func TestModuleInitFailureRollsBack(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)
	badInit := platform.RegisterFunc(func() int32 { return 7 })

	b := elftest.NewBuilder(elf.EM_AARCH64)
	b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 8, make([]byte, 16))
	b.AddSymbol("module_init", elftest.Global, elf.SHN_ABS, badInit, 0)

	_, err := l.LoadObject(b.Build(), "failing")
	var ie *InitError
	if !errors.As(err, &ie) || ie.Code != 7 {
		t.Fatalf("got %v, want InitError{7}", err)
	}
	if got := l.pool.FreeFrames(); got != 8 {
		t.Errorf("FreeFrames after init failure = %d, want 8", got)
	}
}

func TestModuleInitAndExitRun(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	initRan, exitRan := false, false
	initFn := platform.RegisterFunc(func() int32 { initRan = true; return 0 })
	exitFn := platform.RegisterFunc(func() int32 { exitRan = true; return 0 })

	b := elftest.NewBuilder(elf.EM_AARCH64)
	b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 8, make([]byte, 16))
	b.AddSymbol("module_init", elftest.Global, elf.SHN_ABS, initFn, 0)
	b.AddSymbol("module_exit", elftest.Global, elf.SHN_ABS, exitFn, 0)

	if _, err := l.LoadObject(b.Build(), "lifecycle"); err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if !initRan {
		t.Error("module_init did not run on load")
	}
	if exitRan {
		t.Error("module_exit ran before unload")
	}
	if err := l.Unload("lifecycle"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if !exitRan {
		t.Error("module_exit did not run on unload")
	}
}

func TestModuleVersionString(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)

	b := elftest.NewBuilder(elf.EM_AARCH64)
	b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 8, make([]byte, 16))
	ro := b.AddSection(".rodata", elf.SHT_PROGBITS, elf.SHF_ALLOC, 1, []byte("1.2.3\x00"))
	b.AddSymbol("module_version", elftest.Global, uint16(ro), 0, 6)

	mod, err := l.LoadObject(b.Build(), "versioned")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if got := mod.Version(); got != "1.2.3" {
		t.Errorf("Version() = %q, want 1.2.3", got)
	}
	info, _ := l.Info("versioned")
	if info.Version != "1.2.3" {
		t.Errorf("Info.Version = %q, want 1.2.3", info.Version)
	}

	// Without the symbol the default is recorded.
	l.syms.RegisterFunc("kernel_print", nil)
	plain, err := l.LoadObject(buildModule("kernel_print"), "plain")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if got := plain.Version(); got != "0.0.0" {
		t.Errorf("Version() = %q, want 0.0.0", got)
	}
}

func TestUnloadRefcounting(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)
	if _, err := l.LoadObject(buildModule("kernel_print"), "pinned"); err != nil {
		t.Fatalf("LoadObject: %v", err)
	}

	ref, err := l.Acquire("pinned")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Unload("pinned"); err != ErrInUse {
		t.Errorf("Unload with reference: got %v, want ErrInUse", err)
	}
	// The failed unload must roll the flag back so new references work.
	info, _ := l.Info("pinned")
	if info.Unloading {
		t.Error("unloading flag left set after refused unload")
	}

	ref.Close()
	ref.Close() // idempotent
	if err := l.Unload("pinned"); err != nil {
		t.Fatalf("Unload after release: %v", err)
	}
	if err := l.Unload("pinned"); err != ErrNotFound {
		t.Errorf("double unload: got %v, want ErrNotFound", err)
	}
	if _, err := l.Acquire("pinned"); err != ErrNotFound {
		t.Errorf("Acquire after unload: got %v, want ErrNotFound", err)
	}
}

func TestUnloadWhileUnloading(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)
	mod, err := l.LoadObject(buildModule("kernel_print"), "racy")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}

	mod.unloading.Store(true)
	if err := l.Unload("racy"); err != ErrUnloading {
		t.Errorf("Unload: got %v, want ErrUnloading", err)
	}
	if _, err := l.Acquire("racy"); err != ErrUnloading {
		t.Errorf("Acquire: got %v, want ErrUnloading", err)
	}
	mod.unloading.Store(false)
	if err := l.Unload("racy"); err != nil {
		t.Errorf("Unload after clearing flag: %v", err)
	}
}

func TestUnloadWaitDrainsReferences(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)
	if _, err := l.LoadObject(buildModule("kernel_print"), "busy"); err != nil {
		t.Fatalf("LoadObject: %v", err)
	}

	ref, err := l.Acquire("busy")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		ref.Close()
	}()
	if err := l.UnloadWait("busy", 5*time.Second); err != nil {
		t.Fatalf("UnloadWait: %v", err)
	}
	if got := l.Modules(); len(got) != 0 {
		t.Errorf("Modules() = %v after UnloadWait", got)
	}
}

func TestUnloadAcquireRace(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	var exited atomicbitops.Bool
	exitFn := platform.RegisterFunc(func() int32 { exited.Store(true); return 0 })

	b := elftest.NewBuilder(elf.EM_AARCH64)
	b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 8, make([]byte, 16))
	b.AddSymbol("module_exit", elftest.Global, elf.SHN_ABS, exitFn, 0)
	if _, err := l.LoadObject(b.Build(), "contended"); err != nil {
		t.Fatalf("LoadObject: %v", err)
	}

	// Workers churn references while the module is torn down. module_exit
	// must never be observed while a reference is open.
	const workers = 4
	var violations atomicbitops.Uint32
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				ref, err := l.Acquire("contended")
				if err != nil {
					// ErrUnloading or ErrNotFound: teardown won.
					return
				}
				if exited.Load() {
					violations.Add(1)
				}
				ref.Close()
			}
		}()
	}

	if err := l.UnloadWait("contended", 5*time.Second); err != nil {
		t.Fatalf("UnloadWait: %v", err)
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	if n := violations.Load(); n != 0 {
		t.Errorf("module_exit ran while %d reference holders were live", n)
	}
	if !exited.Load() {
		t.Error("module_exit did not run")
	}
	if got := l.pool.FreeFrames(); got != 8 {
		t.Errorf("FreeFrames after teardown = %d, want 8", got)
	}
}

func TestUnloadWaitTimeout(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)
	if _, err := l.LoadObject(buildModule("kernel_print"), "stuck"); err != nil {
		t.Fatalf("LoadObject: %v", err)
	}

	ref, err := l.Acquire("stuck")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.UnloadWait("stuck", 20*time.Millisecond); err != ErrInUse {
		t.Fatalf("UnloadWait: got %v, want ErrInUse", err)
	}
	// Timed-out unload rolls back; the module is usable again.
	ref2, err := l.Acquire("stuck")
	if err != nil {
		t.Fatalf("Acquire after timeout: %v", err)
	}
	ref.Close()
	ref2.Close()
	if err := l.Unload("stuck"); err != nil {
		t.Fatalf("final Unload: %v", err)
	}
}

func TestLoadOutOfMemory(t *testing.T) {
	// One frame cannot hold a section page plus the PLT page.
	l := newTestLoader(t, platform.ARM64, 1)
	l.syms.RegisterFunc("kernel_print", nil)
	if _, err := l.LoadObject(buildModule("kernel_print"), "big"); err != ErrOutOfMemory {
		t.Fatalf("got %v, want ErrOutOfMemory", err)
	}
	if got := l.pool.FreeFrames(); got != 1 {
		t.Errorf("FreeFrames after failed load = %d, want 1", got)
	}
}

func TestLoadBuiltin(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 4)
	initRan, exitRan := false, false

	mod, err := l.LoadBuiltin("selftest",
		func() int32 { initRan = true; return 0 },
		func() int32 { exitRan = true; return 0 })
	if err != nil {
		t.Fatalf("LoadBuiltin: %v", err)
	}
	if !initRan {
		t.Error("builtin init did not run")
	}
	if mod.Base() == 0 || mod.Size() != pgalloc.PageSize {
		t.Errorf("builtin module base=%#x size=%d", mod.Base(), mod.Size())
	}
	if _, err := l.LoadBuiltin("selftest", nil, nil); err != ErrAlreadyLoaded {
		t.Errorf("duplicate builtin: got %v, want ErrAlreadyLoaded", err)
	}
	if err := l.Unload("selftest"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if !exitRan {
		t.Error("builtin exit did not run on unload")
	}
}

func TestLoadBuiltinInitFailure(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 4)
	_, err := l.LoadBuiltin("doa", func() int32 { return -22 }, nil)
	var ie *InitError
	if !errors.As(err, &ie) || ie.Code != -22 {
		t.Fatalf("got %v, want InitError{-22}", err)
	}
	if got := l.pool.FreeFrames(); got != 4 {
		t.Errorf("FreeFrames = %d, want 4", got)
	}
}

func TestLookupSymbolGlobalKernelFirst(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.Register("shadow", 0x111)

	b := elftest.NewBuilder(elf.EM_AARCH64)
	data := b.AddSection(".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 8, make([]byte, 16))
	b.AddSymbol("shadow", elftest.Global, uint16(data), 0, 0)
	b.AddSymbol("modonly", elftest.Global, uint16(data), 4, 0)
	mod, err := l.LoadObject(b.Build(), "m")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}

	// The kernel table wins over module exports.
	if addr, ok := l.LookupSymbolGlobal("shadow"); !ok || addr != 0x111 {
		t.Errorf("LookupSymbolGlobal(shadow) = %#x, %v; want 0x111", addr, ok)
	}
	if addr, ok := l.LookupSymbolGlobal("modonly"); !ok || addr != mod.Base()+4 {
		t.Errorf("LookupSymbolGlobal(modonly) = %#x, %v", addr, ok)
	}
	if addr, ok := l.LookupSymbolIn("m", "shadow"); !ok || addr != mod.Base() {
		t.Errorf("LookupSymbolIn(m, shadow) = %#x, %v; want %#x", addr, ok, mod.Base())
	}
	if _, ok := l.LookupSymbolGlobal("nowhere"); ok {
		t.Error("LookupSymbolGlobal(nowhere) found something")
	}

	if !l.ExportSymbol("m", "extra", 0x999) {
		t.Fatal("ExportSymbol returned false")
	}
	if addr, ok := l.LookupSymbolIn("m", "extra"); !ok || addr != 0x999 {
		t.Errorf("LookupSymbolIn(m, extra) = %#x, %v", addr, ok)
	}
	if got := len(l.ModuleSymbols("m")); got != 3 {
		t.Errorf("ModuleSymbols(m) has %d entries, want 3", got)
	}
	if l.ExportSymbol("ghost", "x", 1) {
		t.Error("ExportSymbol on missing module returned true")
	}
}

func TestLoadFlushesICache(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)

	type flush struct {
		addr uint64
		len  int
	}
	var flushes []flush
	old := platform.SetICacheHook(func(addr uint64, length int) {
		flushes = append(flushes, flush{addr, length})
	})
	defer platform.SetICacheHook(old)

	mod, err := l.LoadObject(buildModule("kernel_print"), "flushed")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	var sawText, sawPLT bool
	for _, f := range flushes {
		if f.addr == mod.Base() && f.len == 32 {
			sawText = true
		}
		if f.addr == mod.pltBase && f.len == pgalloc.PageSize {
			sawPLT = true
		}
	}
	if !sawText || !sawPLT {
		t.Errorf("flushes = %v, want text and PLT ranges", flushes)
	}
}

func TestLoadFile(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)
	l.syms.RegisterFunc("kernel_print", nil)

	path := filepath.Join(t.TempDir(), "hello.ko")
	if err := os.WriteFile(path, buildModule("kernel_print"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mod, err := l.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if mod.Name() != "hello" {
		t.Errorf("module name = %q, want hello", mod.Name())
	}
	if _, err := l.LoadFile(filepath.Join(t.TempDir(), "absent.ko")); err == nil {
		t.Error("LoadFile on a missing path succeeded")
	}
}

func TestLoadExecutable(t *testing.T) {
	l := newTestLoader(t, platform.ARM64, 8)

	img := make([]byte, 64+56+16)
	copy(img, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le := binary.LittleEndian
	le.PutUint16(img[16:], elf.ET_EXEC)
	le.PutUint16(img[18:], uint16(elf.EM_AARCH64))
	le.PutUint64(img[24:], 0x400000) // entry
	le.PutUint64(img[32:], 64)       // phoff
	le.PutUint16(img[54:], 56)       // phentsize
	le.PutUint16(img[56:], 1)        // phnum

	ph := img[64:]
	le.PutUint32(ph[0:], elf.PT_LOAD)
	le.PutUint64(ph[8:], 120)       // offset
	le.PutUint64(ph[16:], 0x400000) // vaddr
	le.PutUint64(ph[32:], 16)       // filesz
	le.PutUint64(ph[40:], 0x1000)   // memsz
	for i := 0; i < 16; i++ {
		img[120+i] = byte(i)
	}

	staged, err := l.LoadExecutable(img)
	if err != nil {
		t.Fatalf("LoadExecutable: %v", err)
	}
	if staged.Entry != 0x400000 {
		t.Errorf("Entry = %#x, want 0x400000", staged.Entry)
	}
	if len(staged.pages) != 1 {
		t.Fatalf("staged %d pages, want 1", len(staged.pages))
	}
	buf, err := l.pool.Slice(staged.pages[0], 16)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	for i := 0; i < 16; i++ {
		if buf[i] != byte(i) {
			t.Fatalf("staged byte %d = %#x, want %#x", i, buf[i], i)
		}
	}
	staged.Free()
	if got := l.pool.FreeFrames(); got != 8 {
		t.Errorf("FreeFrames after Free = %d, want 8", got)
	}

	// Relocatable objects are not executables.
	b := elftest.NewBuilder(elf.EM_AARCH64)
	b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC, 4, make([]byte, 8))
	if _, err := l.LoadExecutable(b.Build()); err != ErrInvalidFormat {
		t.Errorf("relocatable as executable: got %v, want ErrInvalidFormat", err)
	}
}
