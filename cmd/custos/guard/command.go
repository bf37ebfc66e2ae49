// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard implements the "custos guard" subcommand tree for the
// protected-path deny list: checking whether a path may be written and
// listing the paths the guard covers.
package guard

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/custos-security/custos/cmd/custos/cli"
	"github.com/custos-security/custos/lib/pathguard"
)

// Command returns the "guard" parent command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "guard",
		Summary: "Query the protected-path deny list",
		Description: `The guard blocks writes to paths that would undermine the custody
layer itself: the signed policy document and its manifest, the custos
state directory, and any extra paths listed in the configuration.
Blocked writes are recorded in the audit log.`,
		Subcommands: []*cli.Command{
			checkCommand(),
			listCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Ask whether a path may be written",
				Command:     "custos guard check SECURITY.md",
			},
		},
	}
}

func checkCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "check",
		Summary: "Check whether a path may be written",
		Description: `Resolve the path the way a write would (symlinks followed, relative
paths anchored at the workspace) and report whether the guard allows
it. A blocked path exits nonzero and is recorded in the audit log.`,
		Usage: "custos guard check [flags] <path>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one path argument")
			}
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			g, err := state.PathGuard()
			if err != nil {
				return err
			}
			if err := g.CheckWrite(args[0]); err != nil {
				if errors.Is(err, pathguard.ErrWriteBlocked) {
					fmt.Printf("%s: blocked\n", args[0])
					return &cli.ExitError{Code: 1}
				}
				return err
			}
			fmt.Printf("%s: allowed\n", args[0])
			return nil
		},
	}
}

func listCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "list",
		Summary: "List all protected paths",
		Usage:   "custos guard list [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			for _, path := range state.Config.AllProtectedPaths() {
				fmt.Println(path)
			}
			return nil
		},
	}
}
