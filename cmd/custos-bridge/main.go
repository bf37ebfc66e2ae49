// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Custos-bridge is the client side of the bridge protocol. External
// integrations run it to fetch the credential registered for their
// bridge identifier from the custody daemon, without ever touching
// the master key or the credential files on disk.
//
// The fetched secret is written to stdout with no trailing newline so
// it can be piped directly into whatever needs it:
//
//	GITHUB_TOKEN=$(custos-bridge github)
//
// The daemon socket is discovered the same way the daemon creates it:
// the socket name is derived from the master key, so custos-bridge
// needs read access to the key file. --ping checks liveness instead
// of fetching.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/custos-security/custos/lib/bridge"
	"github.com/custos-security/custos/lib/config"
	"github.com/custos-security/custos/lib/masterkey"
	"github.com/custos-security/custos/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		ping        bool
		timeout     time.Duration
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "config file path (default: $CUSTOS_CONFIG)")
	flag.BoolVar(&ping, "ping", false, "check daemon liveness instead of fetching a credential")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall request timeout")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("custos-bridge %s\n", version.Full())
		return nil
	}

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: custos-bridge [flags] <bridge-id>")
	}
	bridgeID := flag.Arg(0)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	masterKey, err := masterkey.Load(cfg.MasterKeyPath())
	if err != nil {
		return fmt.Errorf("loading master key (is the daemon initialized?): %w", err)
	}
	socketPath := bridge.SocketPath(cfg.SocketDir, masterKey)
	masterKey.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := bridge.NewClient(socketPath)
	if _, err := client.CheckVersion(ctx); err != nil {
		return err
	}

	if ping {
		if err := client.Ping(ctx, bridgeID); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}

	credential, err := client.GetCredential(ctx, bridgeID)
	if err != nil {
		return err
	}
	defer credential.Close()

	if _, err := os.Stdout.Write(credential.Bytes()); err != nil {
		return fmt.Errorf("writing credential to stdout: %w", err)
	}
	return nil
}
