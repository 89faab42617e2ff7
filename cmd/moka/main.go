// Command moka verifies and instruments smart-contract class files.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/moka/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		// Usage errors from cobra.
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	if !exitErr.Reported && exitErr.Code != cli.ExitFailure {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitErr.Code)
}
