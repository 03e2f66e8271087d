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

// Package sync provides the kernel's synchronization primitives.
//
// All primitives here are built from atomic operations and busy-waiting with
// yield backoff; none of them sleep in the host sense. Callers that hold any
// of these locks must not block.
package sync

import "runtime"

// Goyield yields the processor to other runnable goroutines.
//
// It is the backoff step of every spin loop in this package.
func Goyield() {
	runtime.Gosched()
}
