package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophdrive/internal/buildinfo"
	"github.com/dmitrijs2005/gophdrive/internal/client/cli"
)

func main() {
	ctx := context.Background()

	if err := cli.Execute(ctx, buildinfo.Current(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
