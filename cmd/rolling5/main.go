package main

import (
	"os"

	"github.com/rustyeddy/rolling5/cmd/rolling5/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
