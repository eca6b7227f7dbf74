// Command sealedbid is the bidder and auditor toolkit for the auction
// daemon: it encrypts bids and re-verifies settlements and enclave keys.
//
// Validation commands exit 0 when every check passes, 1 when a check fails
// and 2 on invalid input or runtime errors.
package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	exitInvalid = 1
	exitError   = 2
)

var (
	apiFlag = &cli.StringFlag{
		Name:    "api",
		Usage:   "Base URL of the auction daemon",
		Value:   "http://127.0.0.1:8080",
		EnvVars: []string{"SEALEDBID_API"},
	}

	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "HTTP request timeout",
		Value: 30 * time.Second,
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format: text or json",
		Value: "text",
	}

	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error)",
		Value: "warn",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "sealedbid",
		Usage: "encrypt bids and verify settlements of the sealed-bid auction daemon",
		Flags: []cli.Flag{apiFlag, timeoutFlag, verbosityFlag},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String(verbosityFlag.Name))
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}
			logrus.SetLevel(level)
			logrus.SetOutput(os.Stderr)
			return nil
		},
		Commands: []*cli.Command{
			encryptBidCommand,
			validateSettlementCommand,
			validateKeyCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Error("sealedbid failed")
		os.Exit(exitError)
	}
}

func client(c *cli.Context) *apiClient {
	return newAPIClient(c.String(apiFlag.Name), c.Duration(timeoutFlag.Name))
}

// readInput returns the contents of the file at input, or input itself when
// no such file exists.
func readInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}
