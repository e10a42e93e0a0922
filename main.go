package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	ctx := shutdownContext(context.Background())

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
