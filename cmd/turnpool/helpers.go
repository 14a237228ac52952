package main

import (
	"fmt"
	"os"

	"github.com/joss/turnpool/internal/logging"
)

var cliLog = logging.New("cli")

// fatalErrorf prints to stderr and exits.
func fatalErrorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// exitOnError logs the failure as an event and exits.
func exitOnError(event string, err error) {
	cliLog.Error(event, nil, err)
	fatalErrorf("%v", err)
}
