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
	"github.com/google/btree"

	"github.com/yangbeom/kerners/pkg/platform"
	"github.com/yangbeom/kerners/pkg/sync"
)

// Export is one exported symbol: a name bound to an address.
type Export struct {
	// Name is the symbol name as it appears in module symbol tables.
	Name string

	// Addr is the symbol's address.
	Addr uint64
}

// symbolDegree is the btree branching factor.
const symbolDegree = 16

// SymbolTable is the kernel symbol table. Undefined symbols in loaded
// modules resolve against it, and modules may register additional symbols
// dynamically. Registering an existing name replaces its address.
type SymbolTable struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[Export]
}

// NewSymbolTable returns an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		tree: btree.NewG(symbolDegree, func(a, b Export) bool {
			return a.Name < b.Name
		}),
	}
}

// Register binds name to addr, replacing any existing binding.
func (t *SymbolTable) Register(name string, addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.ReplaceOrInsert(Export{Name: name, Addr: addr})
}

// RegisterFunc registers fn with the platform call registry and binds name
// to the callable address it was assigned. fn may be nil for symbols that
// modules only link against.
func (t *SymbolTable) RegisterFunc(name string, fn func() int32) uint64 {
	addr := platform.RegisterFunc(fn)
	t.Register(name, addr)
	return addr
}

// Unregister removes name's binding. It reports whether the name was bound.
func (t *SymbolTable) Unregister(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tree.Delete(Export{Name: name})
	return ok
}

// Lookup returns name's address.
func (t *SymbolTable) Lookup(name string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.tree.Get(Export{Name: name})
	if !ok {
		return 0, false
	}
	return e.Addr, true
}

// Len returns the number of bound symbols.
func (t *SymbolTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

// All returns every binding in name order.
func (t *SymbolTable) All() []Export {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Export, 0, t.tree.Len())
	t.tree.Ascend(func(e Export) bool {
		out = append(out, e)
		return true
	})
	return out
}
