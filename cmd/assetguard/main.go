package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/platinummonkey/assetguard/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(os.Args[1:]); err != nil {
		if !errors.Is(err, cli.ErrDenied) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
