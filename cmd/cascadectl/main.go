package main

import (
	"os"

	cascaderr "github.com/weaveworks/cascade/pkg/errors"
)

func main() {
	rootCmd := newRoot().Command()

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		switch err := err.(type) {
		case usageError:
			cmd.Println("")
			cmd.Println(cmd.UsageString())
		case *cascaderr.Error:
			cmd.Println("== Error ==\n\n" + err.Help)
		}
		os.Exit(1)
	}
}
