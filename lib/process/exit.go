// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// exitCoder is implemented by errors that carry their own exit code
// and whose command has already reported the failure.
type exitCoder interface {
	ExitCode() int
}

// Exit terminates the process for the error returned by run(): nil
// exits 0, an error with an ExitCode method exits with that code
// silently, and anything else prints "error: err" to stderr and exits 1.
func Exit(err error) {
	os.Exit(report(err))
}

func report(err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
