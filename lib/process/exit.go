// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// coder is implemented by errors that choose their own exit status,
// such as the admin CLI's ExitError.
type coder interface {
	ExitCode() int
}

// Fatal writes "error: err" to stderr and exits. The status is 1
// unless err carries its own exit code.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}

// ExitCode returns the status a binary should exit with for err: 0 for
// nil, the code carried by err if any, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var withCode coder
	if errors.As(err, &withCode) {
		return withCode.ExitCode()
	}
	return 1
}
