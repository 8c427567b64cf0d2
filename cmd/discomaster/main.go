package main

import (
	"os"

	"github.com/fifar/disco/cmd/discomaster/cmd"
	"github.com/fifar/disco/internal/common"
)

func main() {
	common.ConfigureLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
