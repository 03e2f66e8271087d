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

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/yangbeom/kerners/pkg/kernel"
	"github.com/yangbeom/kerners/pkg/kmod"
)

// ksymsCmd implements subcommands.Command for the "ksyms" command.
type ksymsCmd struct{}

// Name implements subcommands.Command.Name.
func (*ksymsCmd) Name() string {
	return "ksyms"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ksymsCmd) Synopsis() string {
	return "print the kernel symbol table"
}

// Usage implements subcommands.Command.Usage.
func (*ksymsCmd) Usage() string {
	return "ksyms\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*ksymsCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*ksymsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	tab := kmod.NewSymbolTable()
	kmod.RegisterKernelSymbols(tab, kernel.New(nil))
	for _, e := range tab.All() {
		fmt.Printf("%#016x %s\n", e.Addr, e.Name)
	}
	return subcommands.ExitSuccess
}
