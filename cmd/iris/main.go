// Command iris runs the assistive vision and home-safety assistant: it
// announces what the camera sees, answers voice commands, warns about close
// obstacles and raises an alert when the wearer falls.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "iris:", err)
		os.Exit(1)
	}
}
