// Command collabctl runs a collaboration relay and follows rooms through
// channel migrations.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
