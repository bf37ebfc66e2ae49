// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential implements the "custos credential" subcommand
// tree: registering, listing, and removing bridge credentials, and
// escrow export/import of the whole store.
package credential

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/custos-security/custos/cmd/custos/cli"
	"github.com/custos-security/custos/lib/sealed"
	"github.com/custos-security/custos/lib/secret"
)

// Command returns the "credential" parent command with all
// subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "credential",
		Summary: "Manage bridge credentials",
		Description: `Register, list, and remove credentials dispensed to bridges.

Each credential is stored encrypted under a key derived from the
device master key and the bridge id. Credentials never touch disk in
plaintext; registration reads the secret from an interactive prompt, a
file, or stdin. Export re-encrypts the whole store to operator age
keys for offline escrow.`,
		Subcommands: []*cli.Command{
			registerCommand(),
			listCommand(),
			removeCommand(),
			exportCommand(),
			importCommand(),
			keygenCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Register a credential with an interactive prompt",
				Command:     "custos credential register github",
			},
			{
				Description: "Register from a file without echoing",
				Command:     "custos credential register github --from-file ./token",
			},
			{
				Description: "Escrow the store to an operator key",
				Command:     "custos credential export --recipient age1... > escrow.txt",
			},
		},
	}
}

// readSecret obtains the credential bytes for register: from a file
// (or stdin via "-") when --from-file is given, otherwise from a
// no-echo terminal prompt. A non-terminal stdin without --from-file
// is an error rather than a silent empty read.
func readSecret(fromFile, bridgeID string) (*secret.Buffer, error) {
	if fromFile != "" {
		return secret.ReadFromPath(fromFile)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("stdin is not a terminal; use --from-file (or --from-file -)")
	}

	fmt.Fprintf(os.Stderr, "credential for %s: ", bridgeID)
	line, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}
	trimmed := []byte(strings.TrimSpace(string(line)))
	secret.Zero(line)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty credential")
	}
	return secret.NewFromBytes(trimmed)
}

func registerCommand() *cli.Command {
	var (
		configPath string
		fromFile   string
	)
	return &cli.Command{
		Name:    "register",
		Summary: "Register a credential for a bridge id",
		Usage:   "custos credential register <bridge-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("register", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			flags.StringVar(&fromFile, "from-file", "", "read the secret from a file, or - for stdin")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one bridge id required")
			}
			bridgeID := args[0]

			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			credential, err := readSecret(fromFile, bridgeID)
			if err != nil {
				return err
			}
			defer credential.Close()

			if err := state.CredentialStore().Register(bridgeID, credential); err != nil {
				return err
			}
			fmt.Printf("registered credential for %s\n", bridgeID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "list",
		Summary: "List registered bridge ids",
		Usage:   "custos credential list [flags]",
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

			ids, err := state.CredentialStore().List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove a bridge credential",
		Usage:   "custos credential remove <bridge-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("remove", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one bridge id required")
			}
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			if err := state.CredentialStore().Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed credential for %s\n", args[0])
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	var (
		configPath string
		recipients []string
	)
	return &cli.Command{
		Name:    "export",
		Summary: "Export the credential store to escrow recipients",
		Description: `Re-encrypt every stored credential into a single age-encrypted
bundle and print it to stdout. Recipients come from --recipient flags
plus the escrow_recipients config list; at least one is required.`,
		Usage: "custos credential export --recipient <age1...> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			flags.StringArrayVar(&recipients, "recipient", nil, "age public key to encrypt to (repeatable)")
			return flags
		},
		Run: func(args []string) error {
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			all := append(append([]string(nil), recipients...), state.Config.EscrowRecipients...)
			for _, key := range all {
				if err := sealed.ParsePublicKey(key); err != nil {
					return fmt.Errorf("recipient %q: %w", key, err)
				}
			}

			ciphertext, err := state.CredentialStore().Export(all)
			if err != nil {
				return err
			}
			fmt.Println(ciphertext)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	var (
		configPath   string
		identityPath string
	)
	return &cli.Command{
		Name:    "import",
		Summary: "Import an escrowed credential bundle",
		Description: `Decrypt an escrow bundle with this install's age identity and
register every credential it contains under the device master key.
The bundle file is the output of "custos credential export".`,
		Usage: "custos credential import <bundle-file> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("import", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			flags.StringVar(&identityPath, "identity", "", "age identity file (default: the install identity)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one bundle file required")
			}
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			if identityPath == "" {
				identityPath = state.Config.IdentityPath()
			}
			identity, err := secret.ReadFromPath(identityPath)
			if err != nil {
				return fmt.Errorf("reading identity: %w", err)
			}
			defer identity.Close()
			if err := sealed.ParsePrivateKey(identity); err != nil {
				return err
			}

			ciphertext, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading bundle: %w", err)
			}

			imported, err := state.CredentialStore().Import(strings.TrimSpace(string(ciphertext)), identity)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d credentials\n", imported)
			return nil
		},
	}
}

func keygenCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate the install's escrow identity",
		Description: `Generate an age keypair for this install. The private key is
written to the identity file (mode 0600); the public key is printed so
other installs can escrow to it. Refuses to overwrite an existing
identity.`,
		Usage: "custos credential keygen [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path")
			return flags
		},
		Run: func(args []string) error {
			state, err := cli.LoadState(configPath)
			if err != nil {
				return err
			}
			defer state.Close()

			identityPath := state.Config.IdentityPath()
			if _, err := os.Stat(identityPath); err == nil {
				return fmt.Errorf("identity already exists at %s", identityPath)
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			if err := secret.WriteToPath(identityPath, keypair.PrivateKey); err != nil {
				return fmt.Errorf("writing identity: %w", err)
			}
			fmt.Printf("identity written to %s\npublic key: %s\n", identityPath, keypair.PublicKey)
			return nil
		},
	}
}
