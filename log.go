package lndk

import (
	"fmt"
	"os"

	"github.com/a-mpch/lndk/lnd"
	"github.com/a-mpch/lndk/offers"
	"github.com/a-mpch/lndk/onionmsg"
	"github.com/a-mpch/lndk/peerstate"
	"github.com/btcsuite/btclog"
)

// log is the daemon's own logger, for events that belong to no subsystem.
var log = btclog.Disabled

// setupLoggers wires a stdout logging backend into every subsystem at the
// level provided.
func setupLoggers(level string) error {
	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level: %v", level)
	}

	backend := btclog.NewBackend(os.Stdout)

	newLogger := func(tag string) btclog.Logger {
		logger := backend.Logger(tag)
		logger.SetLevel(logLevel)

		return logger
	}

	log = newLogger("LNDK")
	offers.UseLogger(newLogger("OFFR"))
	peerstate.UseLogger(newLogger("PRST"))
	onionmsg.UseLogger(newLogger("ONMG"))
	lnd.UseLogger(newLogger("LNDC"))

	return nil
}
