// asmdump prints the metadata of managed assemblies as JSON.
package main

import (
	"fmt"
	"os"

	"github.com/jtang613/gometa/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
