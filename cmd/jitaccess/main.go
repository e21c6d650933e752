// Command jitaccess runs the just-in-time privileged access activation
// service described in this repository's design documents.
package main

import (
	"context"
	"os"

	"github.com/cloudjit/jitaccess/cmd/jitaccess/app"
	"github.com/cloudjit/jitaccess/internal/logger"
)

func main() {
	if err := app.Execute(); err != nil {
		logger.FromContext(context.Background()).Error("jitaccess exited with error", "error", err)
		os.Exit(1)
	}
}
