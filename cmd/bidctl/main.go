package main

import (
	"os"

	bidctlcmd "github.com/telekom/bidctl/pkg/bidctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := bidctlcmd.NewRootCommand(bidctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
