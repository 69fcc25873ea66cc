package main

import (
	"os"

	"github.com/collegepulse/collegescraper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
