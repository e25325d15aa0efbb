// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lukaszwojciechowski/cynara/cmd/cyad/cli"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// checkResult is the --json form of a check.
type checkResult struct {
	Type     uint16 `json:"type"`
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
	Failure  string `json:"failure,omitempty"`
	Allowed  bool   `json:"allowed"`
}

func checkCommand(env *environment) *cli.Command {
	var (
		conn      connection
		key       keyFlags
		bucket    string
		recursive bool
		params    cli.JSONOutput
	)
	return &cli.Command{
		Name:    "check",
		Summary: "Evaluate a key against a bucket",
		Usage:   "cyad check [--bucket B] [--recursive] --client C --user U --privilege P",
		Description: `Evaluate a key starting at a bucket and print "type;metadata".

Agents are never consulted and the daemon's cache is bypassed. Without
--recursive only the given bucket is evaluated, so a BUCKET or plugin
result is printed as is. The exit status is 0 for ALLOW and 1 otherwise.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			key.addFlags(flagSet, "", "to check")
			flagSet.StringVarP(&bucket, "bucket", "k", "", "bucket to start from (default: the default bucket)")
			flagSet.BoolVarP(&recursive, "recursive", "r", false, "follow bucket links")
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Check camera access through the whole chain", Command: "cyad check -r -c org.example.app -u 1000 -p camera"},
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if err := key.requireAll(); err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			decision, err := conn.admin().Check(ctx, bucket, recursive, key.key())
			if err != nil {
				return describeError(err)
			}

			result := checkResult{
				Type:     uint16(decision.Result.Type),
				Name:     decision.Result.Type.String(),
				Metadata: decision.Result.Metadata,
				Failure:  decision.Failure.String(),
				Allowed:  decision.Allowed(),
			}
			done, err := params.EmitJSON(env.stdout, result)
			if err != nil {
				return err
			}
			if !done {
				if decision.Failure != policy.FailureNone {
					fmt.Fprintf(env.stdout, "%s (%s)\n", decision.Result, decision.Failure)
				} else {
					fmt.Fprintln(env.stdout, decision.Result.String())
				}
			}
			if !decision.Allowed() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
