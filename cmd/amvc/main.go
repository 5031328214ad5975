// Command amvc is the activity module version control CLI.
package main

import (
	"os"

	"github.com/courseloom/amvc/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
