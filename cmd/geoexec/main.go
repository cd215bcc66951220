// Command geoexec turns natural-language geospatial tasks into Python,
// runs it in a sandbox and prints the result.
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
