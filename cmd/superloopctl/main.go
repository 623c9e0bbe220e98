package main

import (
	"os"

	"github.com/thatwebagency/ha-superloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
