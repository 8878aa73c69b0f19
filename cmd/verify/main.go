// Command verify checks that enabling debug mode in the local web app reveals
// the debug panels, and saves a screenshot to verification/debug_ui.png.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"dev/bravebird/debug-ui-verifier/pkg/browser"
	"dev/bravebird/debug-ui-verifier/pkg/config"
	"dev/bravebird/debug-ui-verifier/pkg/verify"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.LookupEnv, browser.NewOpener, os.Stderr))
}

func run(lookup func(string) (string, bool), newOpener func(browser.Options) browser.Opener, stderr io.Writer) int {
	cfg, err := config.Load(lookup)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return exitConfig
	}
	logger := cfg.LoggerTo(stderr)

	runner := verify.NewRunner(cfg.Plan(), newOpener(cfg.BrowserOptions()), verify.WithLogger(logger))
	res, err := runner.Run(context.Background())
	if err != nil {
		logger.WithError(err).Error(verify.Summary(res))
		return exitFailed
	}
	logger.Info(verify.Summary(res))
	return exitOK
}
