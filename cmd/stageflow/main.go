package main

import (
	"os"

	"github.com/davidroman0O/stageflow/cmd"
)

var version = "dev"

func main() {
	if err := cmd.NewRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
