// Command symspace runs CUE rule programs against an object space.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/symspace/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
