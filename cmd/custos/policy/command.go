// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the "custos policy" subcommand tree:
// signing the workspace policy document, verifying it, and showing
// the text that would be injected into a session prompt.
package policy

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/custos-security/custos/cmd/custos/cli"
	libpolicy "github.com/custos-security/custos/lib/policy"
)

// Command returns the "policy" parent command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "policy",
		Summary: "Sign, verify, and inspect the security policy",
		Description: `Manage the workspace security policy document.

The policy document (SECURITY.md in the workspace) is free text edited
by the user. Signing records its hash and an HMAC keyed by the device
master key in a colocated manifest; verification detects any edit made
after signing. The resolved policy text, sanitized and followed by the
compiled-in baseline, is what sessions receive.`,
		Subcommands: []*cli.Command{
			signCommand(),
			verifyCommand(),
			showCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Sign the policy after editing it",
				Command:     "custos policy sign",
			},
			{
				Description: "Check the policy before starting a session",
				Command:     "custos policy verify",
			},
		},
	}
}

func signCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "sign",
		Summary: "Sign the current policy document",
		Usage:   "custos policy sign [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("sign", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			manifest, err := state.PolicyManager().Sign()
			if err != nil {
				return err
			}
			fmt.Printf("signed %s\n  sha256: %s\n  signed_at: %s\n",
				state.Config.DocumentPath(), manifest.ContentSHA256, manifest.SignedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "verify",
		Summary: "Verify the policy document against its manifest",
		Usage:   "custos policy verify [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			outcome := state.PolicyManager().Verify()
			fmt.Printf("%s: %s\n", state.Config.DocumentPath(), outcome)
			if outcome == libpolicy.OutcomeTamperDetected {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func showCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "show",
		Summary: "Print the security text a session would receive",
		Description: `Resolve the policy exactly as a session start would: verify the
document, sanitize it, and append the compiled-in baseline. The output
is the full injectable text, or the baseline alone when the policy is
missing, unsigned, tampered with, or rejected by the sanitizer.`,
		Usage: "custos policy show [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			text, err := state.PolicyManager().InjectableText()
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}
