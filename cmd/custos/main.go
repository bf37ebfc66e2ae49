// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// The custos command is the operator CLI for the custody daemon:
// policy signing and verification, credential management, and audit
// log inspection.
package main

import (
	"fmt"
	"os"

	"github.com/custos-security/custos/cmd/custos/commands"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		// Commands that print their own findings (like audit verify)
		// return an ExitError with the desired code; no redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
