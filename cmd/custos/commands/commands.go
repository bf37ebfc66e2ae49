// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete custos CLI command tree.
package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	auditcmd "github.com/custos-security/custos/cmd/custos/audit"
	"github.com/custos-security/custos/cmd/custos/cli"
	credentialcmd "github.com/custos-security/custos/cmd/custos/credential"
	guardcmd "github.com/custos-security/custos/cmd/custos/guard"
	policycmd "github.com/custos-security/custos/cmd/custos/policy"
	"github.com/custos-security/custos/lib/bridge"
	"github.com/custos-security/custos/lib/version"
)

// Root builds and returns the complete custos CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "custos",
		Description: `Custos: local trust and credential custody.

Sign and verify the workspace security policy, hold bridge credentials
encrypted under a device master key, and keep a tamper-evident audit
trail of everything security-relevant.`,
		Subcommands: []*cli.Command{
			policycmd.Command(),
			credentialcmd.Command(),
			auditcmd.Command(),
			guardcmd.Command(),
			statusCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("custos %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// statusCommand queries the running daemon over the bridge socket.
func statusCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "status",
		Summary: "Show daemon and bridge connection status",
		Usage:   "custos status [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			client := bridge.NewClient(state.SocketPath())
			ctx := context.Background()

			info, err := client.CheckVersion(ctx)
			if err != nil {
				return fmt.Errorf("daemon not reachable: %w", err)
			}
			fmt.Printf("daemon: %s (protocol %s)\n", info.Daemon, info.Protocol)

			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			if len(status.Connections) == 0 {
				fmt.Println("no bridge connections")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "BRIDGE\tSTATE\tIDLE\n")
			for _, connection := range status.Connections {
				fmt.Fprintf(tw, "%s\t%s\t%ds\n", connection.BridgeID, connection.State, connection.IdleSeconds)
			}
			return tw.Flush()
		},
	}
}
