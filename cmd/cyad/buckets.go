// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lukaszwojciechowski/cynara/cmd/cyad/cli"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

func setBucketCommand(env *environment) *cli.Command {
	var (
		conn       connection
		resultType string
		metadata   string
	)
	return &cli.Command{
		Name:    "set-bucket",
		Summary: "Create a bucket or change its default result",
		Usage:   "cyad set-bucket <bucket> --type TYPE [--metadata TEXT]",
		Description: `Create a bucket, or replace the default result of an existing one.

The default result applies when no policy in the bucket matches. The
default bucket is named by the empty string and always exists; its
default may not be NONE.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set-bucket", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVarP(&resultType, "type", "t", "", "default result type (required)")
			flagSet.StringVarP(&metadata, "metadata", "m", "", "default result metadata")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Allow by default in the apps bucket", Command: "cyad set-bucket apps --type allow"},
			{Description: "Change the default bucket's default", Command: "cyad set-bucket '' --type deny"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("set-bucket takes exactly one bucket name")
			}
			if resultType == "" {
				return fmt.Errorf("--type is required")
			}
			ctx, cancel := callContext()
			defer cancel()
			admin := conn.admin()
			parsed, err := newTypeResolver(admin).resolve(ctx, resultType)
			if err != nil {
				return err
			}
			err = admin.SetBucket(ctx, args[0], policy.Result{Type: parsed, Metadata: metadata})
			return describeError(err)
		},
	}
}

func deleteBucketCommand(env *environment) *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "delete-bucket",
		Summary: "Delete a bucket and the policies pointing to it",
		Usage:   "cyad delete-bucket <bucket>",
		Description: `Delete a bucket. Policies in other buckets that redirect to it are
removed in the same operation. The default bucket cannot be deleted.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete-bucket", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("delete-bucket takes exactly one bucket name")
			}
			ctx, cancel := callContext()
			defer cancel()
			return describeError(conn.admin().DeleteBucket(ctx, args[0]))
		},
	}
}
