// Package lndk is a BOLT 12 offers sidecar for an lnd node: it negotiates
// invoices for offers over onion messages and drives payment of the result
// through the node's payment engine.
package lndk

import (
	"context"
	"fmt"

	"github.com/a-mpch/lndk/lnd"
	"github.com/a-mpch/lndk/offers"
	"github.com/a-mpch/lndk/onionmsg"
	"github.com/a-mpch/lndk/peerstate"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/ticker"
)

// Option tweaks how the daemon is assembled.
type Option func(*options)

type options struct {
	sender onionmsg.MessageSender
}

// WithMessageSender attaches an onion message transport for outbound
// delivery. Without one, the daemon still answers local rpc-driven
// operations but queued messages are never put on the wire.
func WithMessageSender(sender onionmsg.MessageSender) Option {
	return func(o *options) {
		o.sender = sender
	}
}

// Main assembles the daemon from the config provided and blocks until the
// interceptor signals shutdown.
func Main(cfg *Config, interceptor signal.Interceptor,
	opts ...Option) error {

	var daemonOpts options
	for _, opt := range opts {
		opt(&daemonOpts)
	}

	if err := setupLoggers(cfg.LogLevel); err != nil {
		return err
	}

	client, err := lnd.NewClient(&lnd.Config{
		Address:      cfg.LndHost,
		TLSCertPath:  cfg.TLSCertPath,
		MacaroonPath: cfg.MacaroonPath,
		Network:      cfg.ActiveNetParams,
	})
	if err != nil {
		return fmt.Errorf("unable to connect to lnd: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return err
	}

	seed, err := cfg.SigningSeedOption()
	if err != nil {
		return err
	}

	handler := offers.NewOfferHandler(offers.Config{
		InvoiceCreator:         client,
		Dispatcher:             client,
		ChannelLookup:          client,
		PathFactory:            lnd.NewDirectPathFactory(client.NodeID()),
		ResponseInvoiceTimeout: cfg.ResponseInvoiceTimeout,
		SigningSeed:            seed,
	})
	if err := handler.Start(); err != nil {
		return err
	}
	defer handler.Stop()

	if daemonOpts.sender != nil {
		messenger := onionmsg.NewMessenger(onionmsg.Config{
			Source:     handler,
			Sender:     daemonOpts.sender,
			Peers:      peerstate.NewPeerState(client),
			Connector:  client,
			Lookup:     client,
			Events:     client,
			SendTicker: ticker.New(cfg.SendInterval),
		})
		if err := messenger.Start(); err != nil {
			return err
		}
		defer messenger.Stop()
	} else {
		log.Warnf("No message transport attached, outbound " +
			"messages will not be delivered")
	}

	log.Infof("lndk active on %v", cfg.Network)

	<-interceptor.ShutdownChannel()
	log.Infof("Received shutdown signal")

	return nil
}
