// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/lukaszwojciechowski/cynara/cmd/cyad/cli"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
)

// keyFlags are the --client, --user and --privilege flags.
type keyFlags struct {
	client    string
	user      string
	privilege string
}

func (k *keyFlags) addFlags(flagSet *pflag.FlagSet, defaultValue, meaning string) {
	flagSet.StringVarP(&k.client, "client", "c", defaultValue, "client "+meaning)
	flagSet.StringVarP(&k.user, "user", "u", defaultValue, "user "+meaning)
	flagSet.StringVarP(&k.privilege, "privilege", "p", defaultValue, "privilege "+meaning)
}

func (k *keyFlags) key() policy.Key {
	return policy.NewKey(k.client, k.user, k.privilege)
}

func (k *keyFlags) requireAll() error {
	if k.client == "" || k.user == "" || k.privilege == "" {
		return fmt.Errorf("--client, --user and --privilege are required")
	}
	return nil
}

func setPolicyCommand(env *environment) *cli.Command {
	var (
		conn       connection
		key        keyFlags
		bucket     string
		resultType string
		metadata   string
		bulk       string
	)
	return &cli.Command{
		Name:    "set-policy",
		Summary: "Insert or update policies",
		Usage:   "cyad set-policy [--bucket B] --client C --user U --privilege P --type T [--metadata M]\n  cyad set-policy --bulk FILE|-",
		Description: `Insert or update one policy, or many from a file.

With --bulk, every line of FILE (or standard input for "-") is
"bucket;client;user;privilege;type;metadata". All lines are applied as
one operation: if any is invalid nothing changes.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set-policy", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			key.addFlags(flagSet, "", "name, or * for any")
			flagSet.StringVarP(&bucket, "bucket", "k", "", "bucket to insert into (default: the default bucket)")
			flagSet.StringVarP(&resultType, "type", "t", "", "result type")
			flagSet.StringVarP(&metadata, "metadata", "m", "", "result metadata")
			flagSet.StringVarP(&bulk, "bulk", "f", "", "read policies from FILE, or - for standard input")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Allow one application to use the camera", Command: "cyad set-policy --client org.example.app --user '*' --privilege camera --type allow"},
			{Description: "Load policies from standard input", Command: "cyad set-policy --bulk - < policies.txt"},
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			ctx, cancel := callContext()
			defer cancel()
			admin := conn.admin()
			types := newTypeResolver(admin)

			var entries []schema.PolicyEntry
			if bulk != "" {
				reader, closeReader, err := openInput(env, bulk)
				if err != nil {
					return err
				}
				defer closeReader()
				entries, err = parseBulk(ctx, reader, types)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return fmt.Errorf("no policies in %s", bulk)
				}
			} else {
				if err := key.requireAll(); err != nil {
					return err
				}
				if resultType == "" {
					return fmt.Errorf("--type is required")
				}
				parsed, err := types.resolve(ctx, resultType)
				if err != nil {
					return err
				}
				entries = []schema.PolicyEntry{{
					Bucket:    bucket,
					Client:    key.client,
					User:      key.user,
					Privilege: key.privilege,
					Type:      uint16(parsed),
					Metadata:  metadata,
				}}
			}
			return describeError(admin.SetPolicies(ctx, entries, nil))
		},
	}
}

func eraseCommand(env *environment) *cli.Command {
	var (
		conn      connection
		key       keyFlags
		bucket    string
		recursive bool
		params    cli.JSONOutput
	)
	return &cli.Command{
		Name:    "erase",
		Summary: "Remove policies matching a filter",
		Usage:   "cyad erase [--bucket B] [--recursive] [--client C] [--user U] [--privilege P]",
		Description: `Remove the policies of a bucket matching a filter. A filter field of
"#" matches every value, "*" only policies stored with the wildcard.
With --recursive the buckets reachable from B are erased too.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("erase", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			key.addFlags(flagSet, policy.Any, "filter")
			flagSet.StringVarP(&bucket, "bucket", "k", "", "bucket to erase from (default: the default bucket)")
			flagSet.BoolVarP(&recursive, "recursive", "r", false, "follow bucket links")
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Remove every policy of one application", Command: "cyad erase --recursive --client org.example.app"},
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			ctx, cancel := callContext()
			defer cancel()
			removed, err := conn.admin().Erase(ctx, bucket, recursive, key.key())
			if err != nil {
				return describeError(err)
			}
			if done, err := params.EmitJSON(env.stdout, schema.EraseResponse{Removed: removed}); done {
				return err
			}
			fmt.Fprintf(env.stdout, "removed %d policies\n", removed)
			return nil
		},
	}
}

func listPoliciesCommand(env *environment) *cli.Command {
	var (
		conn   connection
		key    keyFlags
		bucket string
		params cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list-policies",
		Summary: "Print the policies of a bucket",
		Usage:   "cyad list-policies [--bucket B] [--client C] [--user U] [--privilege P]",
		Description: `Print the policies of a bucket matching a filter, one bulk line per
policy, sorted by key. The output can be fed back to "set-policy --bulk".`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list-policies", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			key.addFlags(flagSet, policy.Any, "filter")
			flagSet.StringVarP(&bucket, "bucket", "k", "", "bucket to list (default: the default bucket)")
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			ctx, cancel := callContext()
			defer cancel()
			entries, err := conn.admin().ListPolicies(ctx, bucket, key.key())
			if err != nil {
				return describeError(err)
			}
			if done, err := params.EmitJSON(env.stdout, entries); done {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintln(env.stdout, formatEntry(entry))
			}
			return nil
		},
	}
}

func listDescriptionsCommand(env *environment) *cli.Command {
	var (
		conn   connection
		params cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list-policies-descriptions",
		Summary: "Print the known policy types",
		Usage:   "cyad list-policies-descriptions",
		Description: `Print "type;name" for the predefined policy types and every plugin
type the daemon knows.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list-policies-descriptions", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			ctx, cancel := callContext()
			defer cancel()
			descriptions, err := conn.admin().Descriptions(ctx)
			if err != nil {
				return describeError(err)
			}
			if done, err := params.EmitJSON(env.stdout, descriptions); done {
				return err
			}
			for _, description := range descriptions {
				fmt.Fprintf(env.stdout, "%d;%s\n", description.Type, description.Name)
			}
			return nil
		},
	}
}

// openInput opens path for reading; "-" is standard input.
func openInput(env *environment, path string) (io.Reader, func(), error) {
	if path == "-" {
		return env.stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}
