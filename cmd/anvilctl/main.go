// Command anvilctl runs the engine's command-line interface.
package main

import (
	"os"

	"github.com/anvil-build/anvil/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
