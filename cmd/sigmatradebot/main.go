package main

import (
	"os"

	"github.com/Avertenandor/sigmatradebot/internal/server"
)

func main() {
	if err := server.Root().Execute(); err != nil {
		os.Exit(1)
	}
}
