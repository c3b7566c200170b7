// Command greetingctl reads and updates the greeting contract from a
// terminal, using the same configuration as the hello-near server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "greetingctl: %v\n", err)
		os.Exit(1)
	}
}
