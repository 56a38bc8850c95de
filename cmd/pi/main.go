// Command pi calculates decimal digits of pi, locally or through a
// distributed gRPC PiService.
package main

import (
	"os"

	"github.com/go-logr/logr"
)

// The logr.Logger used by the application; replaced during cobra
// initialization.
var logger = logr.Discard()

func main() {
	rootCmd, err := NewRootCmd()
	if err != nil {
		logger.Error(err, "Error building commands")
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err, "Error executing command")
		os.Exit(1)
	}
}
