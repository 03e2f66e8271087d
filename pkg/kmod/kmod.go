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

// Package kmod loads kernel modules from ELF64 relocatable objects.
//
// A Loader owns a frame pool, a target architecture and a kernel symbol
// table. Loading an object allocates contiguous pool frames, places the
// SHF_ALLOC sections, resolves undefined symbols against the kernel table,
// patches every RELA relocation with the architecture's relocation engine
// (falling back to generated PLT stubs for out-of-range branches), then runs
// the module's init function. Loaded modules export their global symbols and
// are reference counted; unload is refused while references are held.
package kmod

import (
	"errors"
	"fmt"
)

// Loader errors.
var (
	// ErrOutOfMemory is returned when the frame pool cannot supply the
	// module's footprint as one contiguous run.
	ErrOutOfMemory = errors.New("kmod: out of memory")

	// ErrNotFound is returned for operations naming an unloaded module.
	ErrNotFound = errors.New("kmod: module not found")

	// ErrInUse is returned by Unload while references are outstanding.
	ErrInUse = errors.New("kmod: module in use")

	// ErrUnloading is returned when a module is already being unloaded.
	ErrUnloading = errors.New("kmod: module is unloading")

	// ErrInvalidFormat is returned for images of the wrong ELF type.
	ErrInvalidFormat = errors.New("kmod: not a loadable object")

	// ErrAlreadyLoaded is returned when a module of the same name is live.
	ErrAlreadyLoaded = errors.New("kmod: module already loaded")

	// ErrNoSymbolTable is returned for objects without a symbol table.
	ErrNoSymbolTable = errors.New("kmod: object has no symbol table")
)

// SymbolNotFoundError is returned when an undefined symbol cannot be
// resolved against the kernel symbol table.
type SymbolNotFoundError struct {
	// Name is the unresolved symbol.
	Name string
}

// Error implements error.Error.
func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("kmod: undefined symbol %q", e.Name)
}

// UnsupportedRelocationError is returned for relocation types the engine
// does not implement, and for implemented types whose operand cannot be
// encoded (out of range with no PLT slot left).
type UnsupportedRelocationError struct {
	// Type is the ELF relocation type.
	Type uint32
}

// Error implements error.Error.
func (e *UnsupportedRelocationError) Error() string {
	return fmt.Sprintf("kmod: unsupported relocation type %d", e.Type)
}

// InitError is returned when a module's init function reports failure.
type InitError struct {
	// Code is the nonzero value returned by module_init.
	Code int32
}

// Error implements error.Error.
func (e *InitError) Error() string {
	return fmt.Sprintf("kmod: module init failed with code %d", e.Code)
}

// State is a module lifecycle state.
type State int

// Module states.
const (
	// Loading means sections are being placed and relocated.
	Loading State = iota

	// Live means the module is initialized and its exports are visible.
	Live

	// Unloading means an unload is in progress and new references are
	// refused.
	Unloading
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Live:
		return "live"
	case Unloading:
		return "unloading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
