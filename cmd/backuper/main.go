package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/backuper-dev/orchestrator/internal/cli"
)

var version = "0.1.0"

func main() {
	cli.SetVersion(version)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)

		code := 1
		var coded interface{ ExitCode() int }
		if errors.As(err, &coded) {
			code = coded.ExitCode()
		}
		os.Exit(code)
	}
}
