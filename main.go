// The main package for the gazette-crawler executable.
package main

import (
	"github.com/ingesil/gazette-crawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
