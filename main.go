// The main package for the loader executable.
package main

import (
	"github.com/JakeFAU/progressive-loader/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
