package main

import (
	"os"

	"herb-trace/internal/collector/cli"
)

func main() {
	os.Exit(cli.Execute())
}
