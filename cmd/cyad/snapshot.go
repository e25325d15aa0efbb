// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/lukaszwojciechowski/cynara/cmd/cyad/cli"
)

func exportCommand(env *environment) *cli.Command {
	var (
		conn   connection
		output string
	)
	return &cli.Command{
		Name:    "export",
		Summary: "Write a snapshot of all policies",
		Usage:   "cyad export [--output FILE]",
		Description: `Write a compressed, checksummed snapshot of every bucket and policy.
The snapshot can be restored with "cyad import".`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVarP(&output, "output", "o", "-", "file to write, or - for standard output")
			return flagSet
		},
		Run: func(args []string) error {
			ctx, cancel := callContext()
			defer cancel()
			snapshot, err := conn.admin().Export(ctx)
			if err != nil {
				return describeError(err)
			}
			if output == "-" {
				_, err := env.stdout.Write(snapshot)
				return err
			}
			if err := os.WriteFile(output, snapshot, 0o600); err != nil {
				return fmt.Errorf("writing snapshot: %w", err)
			}
			return nil
		},
	}
}

func importCommand(env *environment) *cli.Command {
	var (
		conn  connection
		input string
	)
	return &cli.Command{
		Name:    "import",
		Summary: "Replace all policies with a snapshot",
		Usage:   "cyad import [--input FILE]",
		Description: `Replace every bucket and policy with the contents of a snapshot
written by "cyad export". The snapshot is verified before anything
changes.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVarP(&input, "input", "i", "-", "file to read, or - for standard input")
			return flagSet
		},
		Run: func(args []string) error {
			reader, closeReader, err := openInput(env, input)
			if err != nil {
				return err
			}
			defer closeReader()
			snapshot, err := io.ReadAll(reader)
			if err != nil {
				return fmt.Errorf("reading snapshot: %w", err)
			}
			ctx, cancel := callContext()
			defer cancel()
			return describeError(conn.admin().Import(ctx, snapshot))
		},
	}
}
