package main

import (
	"os"

	"github.com/ariel-frischer/wxflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
