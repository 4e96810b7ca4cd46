// The main package for the intel-archiver executable.
package main

import (
	"github.com/JakeFAU/intel-archiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
