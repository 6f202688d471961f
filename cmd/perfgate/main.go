package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess    = 0 // gate passed
	ExitGateFailed = 1 // gate ran to completion with a FAIL verdict
	ExitError      = 2 // setup, measurement, or runtime error
)

// GateFailureError indicates the invocation ran to completion but the
// authoritative gate's verdict was FAIL.
type GateFailureError struct {
	Message string
}

func (e *GateFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var gateErr *GateFailureError
		if errors.As(err, &gateErr) {
			os.Exit(ExitGateFailed)
		}

		os.Exit(ExitError)
	}
}
