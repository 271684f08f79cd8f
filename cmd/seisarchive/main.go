package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit codes. Policy rejections are normal outcomes and exit 0.
const (
	exitOK         = 0
	exitRunFailure = 1
	exitUsage      = 2
	exitCanceled   = 130
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	err := cmd.Execute()
	var failure *runFailure
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitCanceled
	case errors.As(err, &failure):
		fmt.Fprintln(os.Stderr, "seisarchive:", err)
		return exitRunFailure
	default:
		fmt.Fprintln(os.Stderr, "seisarchive:", err)
		return exitUsage
	}
}
