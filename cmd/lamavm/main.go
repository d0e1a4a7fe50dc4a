// Command lamavm loads and runs compiled bytecode images: run (the
// default), verify and idioms.
package main

import (
	"os"

	"github.com/arlovski/lamavm/cmd/lamavm/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
