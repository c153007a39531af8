// Command storetest runs declarative store scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/storetest/internal/cli"
	"github.com/roach88/storetest/internal/config"
)

func main() {
	env, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "storetest: %v\n", err)
		os.Exit(cli.ExitCommandError)
	}

	if err := cli.NewRootCommand(env).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
