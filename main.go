package main

import (
	"errors"
	"os"

	"github.com/adalundhe/revcluster/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, cmd.ErrNoSelection) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
