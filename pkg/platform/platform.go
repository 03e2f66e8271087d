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

// Package platform provides the hosted machine the kernel runs on: simulated
// CPUs backed by OS threads, a timer tick, reschedule IPIs, and the small set
// of architecture services (icache maintenance, callable code registration)
// the rest of the kernel needs.
package platform

import "fmt"

// Arch identifies a target instruction set.
type Arch int

// Supported architectures.
const (
	ARM64 Arch = iota
	RISCV64
)

// String implements fmt.Stringer.String.
func (a Arch) String() string {
	switch a {
	case ARM64:
		return "arm64"
	case RISCV64:
		return "riscv64"
	default:
		return fmt.Sprintf("arch(%d)", int(a))
	}
}

// ParseArch parses an architecture name.
func ParseArch(s string) (Arch, error) {
	switch s {
	case "arm64", "aarch64":
		return ARM64, nil
	case "riscv64", "riscv":
		return RISCV64, nil
	default:
		return 0, fmt.Errorf("unknown architecture %q", s)
	}
}
