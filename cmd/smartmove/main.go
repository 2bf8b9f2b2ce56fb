// Command smartmove runs and administers the SmartMove fleet controller.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/smartmove/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "smartmove:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
