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
	"github.com/yangbeom/kerners/pkg/kernel"
	"github.com/yangbeom/kerners/pkg/log"
)

// RegisterKernelSymbols seeds tab with the kernel's C ABI surface: the
// symbols a module object may leave undefined. Every name gets a callable
// address from the platform registry so relocations against it resolve and
// stay in branch range of the PLT. Symbols whose signature cannot be
// expressed as a plain status call are registered for linking only; invoking
// them returns 0.
func RegisterKernelSymbols(tab *SymbolTable, k *kernel.Kernel) {
	tab.RegisterFunc("yield_now", func() int32 {
		k.Yield()
		return 0
	})
	tab.RegisterFunc("current_tid", func() int32 {
		tid, ok := k.CurrentTID()
		if !ok {
			return -1
		}
		return int32(tid)
	})
	tab.RegisterFunc("kernel_log", func() int32 {
		log.Infof("module log call")
		return 0
	})

	// Console and formatting.
	for _, name := range []string{
		"console_puts",
		"console_putc",
		"kernel_print",
	} {
		tab.RegisterFunc(name, nil)
	}

	// Compiler intrinsics emitted for array fills and copies.
	for _, name := range []string{
		"memset",
		"memcpy",
		"memmove",
	} {
		tab.RegisterFunc(name, nil)
	}

	// Memory management.
	for _, name := range []string{
		"alloc_frame",
		"free_frame",
		"kernel_heap_alloc",
		"kernel_heap_dealloc",
	} {
		tab.RegisterFunc(name, nil)
	}

	// IPC, block devices and the VFS.
	for _, name := range []string{
		"kernel_mq_open",
		"kernel_mq_send",
		"kernel_mq_receive",
		"kernel_ramdisk_create",
		"kernel_block_read",
		"kernel_block_write",
		"kernel_vfs_mkdir",
		"kernel_vfs_create_file",
		"kernel_vfs_write",
		"kernel_vfs_read",
		"kernel_vfs_unlink",
	} {
		tab.RegisterFunc(name, nil)
	}

	// Threads.
	for _, name := range []string{
		"kernel_thread_spawn",
		"kernel_sleep_ticks",
	} {
		tab.RegisterFunc(name, nil)
	}

	log.Infof("kernel symbol table initialized, %d symbols", tab.Len())
}
