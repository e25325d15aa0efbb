// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/lukaszwojciechowski/cynara/cmd/cyad/cli"
)

// root assembles the cyad command tree.
func root(env *environment) *cli.Command {
	return &cli.Command{
		Name:       "cyad",
		Summary:    "Manage cynara policies",
		HelpOutput: env.stderr,
		Description: `Manage the buckets and policies of a running cynara daemon.

Every command talks to the admin socket, which is only accessible to
its owner and group. A mutation is applied completely or not at all,
and clears the daemon's decision cache.`,
		Subcommands: []*cli.Command{
			setBucketCommand(env),
			deleteBucketCommand(env),
			setPolicyCommand(env),
			eraseCommand(env),
			checkCommand(env),
			listPoliciesCommand(env),
			listDescriptionsCommand(env),
			exportCommand(env),
			importCommand(env),
		},
		Examples: []cli.Example{
			{
				Description: "Route camera requests through a bucket that asks the user",
				Command:     "cyad set-bucket camera --type ask-user && cyad set-policy --client '*' --user '*' --privilege camera --type bucket --metadata camera",
			},
			{
				Description: "Load policies from a file",
				Command:     "cyad set-policy --bulk policies.txt",
			},
		},
	}
}
