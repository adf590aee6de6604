package main

import (
	"fmt"
	"os"

	"github.com/a-mpch/lndk"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/signal"
)

func main() {
	// Load the configuration, and parse any command line options.
	loadedConfig, err := lndk.LoadConfig()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}

		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Hook interceptor for os signals.
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := lndk.Main(loadedConfig, shutdownInterceptor); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
