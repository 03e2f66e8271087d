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

package platform

import (
	"errors"

	"github.com/yangbeom/kerners/pkg/sync"
)

// The host cannot execute guest AArch64 or RISC-V text, so code the kernel
// must actually be able to call (builtin module bodies, exported kernel
// services) is registered here as Go functions. Each registration is
// assigned an address from a reserved range; those addresses link like any
// other symbol value but dispatch to Go when called.

// callBase is the start of the reserved address range. It sits at the top of
// the canonical address space, far above any pool frame.
const (
	callBase   uint64 = 0xffffffff00000000
	callStride uint64 = 16
)

// ErrNotExecutable is returned by Call for addresses outside the reserved
// range. Loaded module text falls in this category: it links and relocates
// but cannot run on the host.
var ErrNotExecutable = errors.New("address is not host-executable")

var (
	callMu    sync.SpinMutex
	callFuncs []func() int32
)

// RegisterFunc assigns fn a callable address. fn may be nil for symbols that
// only need an address to link against; calling such an address succeeds and
// returns 0.
func RegisterFunc(fn func() int32) uint64 {
	callMu.Lock()
	defer callMu.Unlock()
	callFuncs = append(callFuncs, fn)
	return callBase + uint64(len(callFuncs)-1)*callStride
}

// IsCallable returns whether addr names a registered function.
func IsCallable(addr uint64) bool {
	_, err := lookupCall(addr)
	return err == nil
}

// Call invokes the function registered at addr.
func Call(addr uint64) (int32, error) {
	fn, err := lookupCall(addr)
	if err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, nil
	}
	return fn(), nil
}

func lookupCall(addr uint64) (func() int32, error) {
	if addr < callBase || (addr-callBase)%callStride != 0 {
		return nil, ErrNotExecutable
	}
	idx := (addr - callBase) / callStride
	callMu.Lock()
	defer callMu.Unlock()
	if idx >= uint64(len(callFuncs)) {
		return nil, ErrNotExecutable
	}
	return callFuncs[idx], nil
}
