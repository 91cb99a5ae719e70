// The main package for the fisscraper executable.
package main

import (
	"github.com/jjjenkim/fis-results-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
