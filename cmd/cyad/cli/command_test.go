// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommandExecuteDispatchesToSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "cyad",
		Subcommands: []*Command{
			{
				Name: "set-bucket",
				Run: func(args []string) error {
					called = "set-bucket"
					receivedArgs = args
					return nil
				},
			},
			{
				Name: "delete-bucket",
				Run: func(args []string) error {
					called = "delete-bucket"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"set-bucket", "apps"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "set-bucket" {
		t.Errorf("dispatched to %q, want %q", called, "set-bucket")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "apps" {
		t.Errorf("args = %v, want [apps]", receivedArgs)
	}
}

func TestCommandExecuteFlagParsing(t *testing.T) {
	var socketPath string
	var bucket string

	command := &Command{
		Name: "set-bucket",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set-bucket", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "/default.sock", "socket path")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				bucket = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--socket", "/custom.sock", "apps"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if socketPath != "/custom.sock" {
		t.Errorf("socketPath = %q, want %q", socketPath, "/custom.sock")
	}
	if bucket != "apps" {
		t.Errorf("bucket = %q, want %q", bucket, "apps")
	}
}

func TestCommandExecuteUnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "erase",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("erase", pflag.ContinueOnError)
			flagSet.Bool("recursive", false, "follow bucket links")
			flagSet.String("socket", "/default.sock", "socket path")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--recrusive"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --recursive") {
		t.Errorf("error = %q, want suggestion for '--recursive'", errStr)
	}
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommandExecuteUnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "erase",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("erase", pflag.ContinueOnError)
			flagSet.Bool("recursive", false, "follow bucket links")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
}

func TestCommandExecuteUnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "cyad",
		Subcommands: []*Command{
			{Name: "set-bucket"},
			{Name: "set-policy"},
			{Name: "erase"},
		},
	}

	err := root.Execute([]string{"set-polcy"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "set-policy"`) {
		t.Errorf("error = %q, want suggestion for 'set-policy'", err.Error())
	}
}

func TestCommandExecuteHelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			var output bytes.Buffer
			root := &Command{
				Name:       "cyad",
				Summary:    "Cynara administration",
				HelpOutput: &output,
				Subcommands: []*Command{
					{Name: "erase", Summary: "Remove policies"},
				},
			}

			if err := root.Execute([]string{helpArg}); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
			if !strings.Contains(output.String(), "erase") {
				t.Errorf("help output = %q, want the command list", output.String())
			}
		})
	}
}

func TestCommandExecuteNoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name:       "cyad",
		HelpOutput: io.Discard,
		Subcommands: []*Command{
			{Name: "erase", Summary: "Remove policies"},
		},
	}

	err := root.Execute([]string{})
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %v, want 'subcommand required'", err)
	}
}

func TestCommandPrintHelp(t *testing.T) {
	command := &Command{
		Name:        "cyad",
		Description: "Manage the cynara policy database.",
		Subcommands: []*Command{
			{Name: "set-bucket", Summary: "Create a bucket or change its default"},
			{Name: "erase", Summary: "Remove policies matching a filter"},
		},
		Examples: []Example{
			{
				Description: "Deny camera access by default",
				Command:     "cyad set-bucket camera --type deny",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Manage the cynara policy database.",
		"Usage:",
		"cyad <command> [flags]",
		"Commands:",
		"set-bucket",
		"Create a bucket or change its default",
		"Examples:",
		"cyad set-bucket camera --type deny",
		"Run 'cyad <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommandPrintHelpWithFlags(t *testing.T) {
	command := &Command{
		Name:  "check",
		Usage: "cyad check [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
			flagSet.String("bucket", "", "bucket to start from")
			flagSet.Bool("recursive", false, "follow bucket links")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()
	for _, want := range []string{"cyad check [flags]", "Flags:", "--bucket", "--recursive"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommandFullName(t *testing.T) {
	root := &Command{Name: "cyad"}
	erase := &Command{Name: "erase", parent: root}
	if got := erase.fullName(); got != "cyad erase" {
		t.Errorf("fullName() = %q, want %q", got, "cyad erase")
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 3}
	if err.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", err.ExitCode())
	}
}

func TestEmitJSON(t *testing.T) {
	var output JSONOutput
	var buffer bytes.Buffer

	done, err := output.EmitJSON(&buffer, []string(nil))
	if done || err != nil || buffer.Len() != 0 {
		t.Fatalf("EmitJSON without --json = (%v, %v), wrote %q", done, err, buffer.String())
	}

	output.OutputJSON = true
	done, err = output.EmitJSON(&buffer, []string(nil))
	if !done || err != nil {
		t.Fatalf("EmitJSON with --json = (%v, %v)", done, err)
	}
	if strings.TrimSpace(buffer.String()) != "[]" {
		t.Errorf("nil slice encoded as %q, want []", buffer.String())
	}
}
