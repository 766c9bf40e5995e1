package main

import (
	"os"

	"github.com/gregLibert/secure-element/cmd"
)

func main() {
	if err := cmd.CmdSE.Execute(); err != nil {
		os.Exit(1)
	}
}
