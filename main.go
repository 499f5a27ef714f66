package main

import (
	"os"

	"github.com/loxvm/loxvm/cmd"
)

func main() {
	if err := cmd.App().Execute(); err != nil {
		os.Exit(1)
	}
}
