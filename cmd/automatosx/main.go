package main

import (
	"os"

	"automatosx/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
