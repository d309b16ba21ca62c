package main

import (
	"os"

	"github.com/lvonguyen/threatpulse/cmd/threatctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
