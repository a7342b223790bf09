// The main package for the jobcrawl executable.
package main

import (
	"github.com/JakeFAU/jobcrawl/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
