package main

import (
	"os"

	"github.com/sweetpotato0/carebridge/cmd/carebridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
