// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"

	"github.com/lukaszwojciechowski/cynara/cmd/cyad/cli"
	"github.com/lukaszwojciechowski/cynara/lib/process"
)

func main() {
	if err := root(newEnvironment()).Execute(os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		process.Fatal(err)
	}
}
