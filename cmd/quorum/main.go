package main

import (
	"os"

	"github.com/Dicklesworthstone/quorum/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
