// Package onionmsg drives delivery of queued negotiation messages over the
// host node's onion messaging transport, keeping the peer connectivity
// cache current from the node's peer events and connecting to first-hop
// peers on demand.
package onionmsg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/a-mpch/lndk/offers"
	"github.com/a-mpch/lndk/peerstate"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultSendInterval is how often queued messages are drained and
	// delivered when no override is configured.
	DefaultSendInterval = time.Second

	// eventRetryDelay is how long we back off before reopening a failed
	// peer event subscription.
	eventRetryDelay = time.Second * 5
)

// ErrNoDeliveryTarget is returned when a queued message carries neither a
// destination nor a response path to deliver it over.
var ErrNoDeliveryTarget = errors.New("message has no delivery target")

// Config holds the collaborators a Messenger delivers through.
type Config struct {
	// Source produces the messages to deliver.
	Source MessageSource

	// Sender performs the actual sends.
	Sender MessageSender

	// Peers is the connectivity cache consulted before each send.
	Peers *peerstate.PeerState

	// Connector optionally connects to first-hop peers on demand. When
	// nil, messages to unconnected peers fail.
	Connector NodeConnector

	// Lookup resolves channel-referenced introduction nodes.
	Lookup offers.ChannelInfoLookup

	// Events optionally feeds peer connection events into the cache.
	Events PeerEventSubscriber

	// SendTicker paces delivery of queued messages.
	SendTicker ticker.Ticker
}

// Messenger periodically drains the pending message queue and delivers each
// message to its first-hop peer.
type Messenger struct {
	started int32 // to be used atomically
	stopped int32 // to be used atomically

	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewMessenger creates a messenger from the config provided.
func NewMessenger(cfg Config) *Messenger {
	if cfg.SendTicker == nil {
		cfg.SendTicker = ticker.New(DefaultSendInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Messenger{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
}

// Start launches the delivery loop and, when an event source is configured,
// the peer event loop.
func (m *Messenger) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return errors.New("messenger already started")
	}

	m.cfg.SendTicker.Resume()

	m.wg.Add(1)
	go m.sendLoop()

	if m.cfg.Events != nil {
		m.wg.Add(1)
		go m.peerEventLoop()
	}

	return nil
}

// Stop shuts the messenger down and waits for its loops to exit.
func (m *Messenger) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.stopped, 0, 1) {
		return errors.New("messenger already stopped")
	}

	m.cfg.SendTicker.Stop()
	m.cancel()
	close(m.quit)
	m.wg.Wait()

	return nil
}

// sendLoop drains and delivers queued messages on every tick.
func (m *Messenger) sendLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.cfg.SendTicker.Ticks():
			m.deliverPending()

		case <-m.quit:
			return
		}
	}
}

// deliverPending releases all queued messages and attempts delivery of each
// one. Failures are contained per message.
func (m *Messenger) deliverPending() {
	msgs := m.cfg.Source.ReleasePendingMessages()
	if len(msgs) == 0 {
		return
	}

	log.Debugf("Delivering %v pending messages", len(msgs))

	for _, msg := range msgs {
		if err := m.deliver(msg); err != nil {
			log.Errorf("Unable to deliver %v message: %v",
				msg.Message.MsgType(), err)
		}
	}
}

// deliver resolves a message's first hop, establishes connectivity to it
// and hands the message to the sender.
func (m *Messenger) deliver(msg *offers.PendingMessage) error {
	peer, err := m.firstHop(msg.Instructions)
	if err != nil {
		return err
	}

	if err := m.ensurePeerConnected(peer); err != nil {
		return err
	}

	return m.cfg.Sender.SendMessage(m.ctx, peer, msg)
}

// firstHop resolves the peer a message must be handed to: the destination
// for messages we initiate, the response path's introduction node for
// replies.
func (m *Messenger) firstHop(
	instructions offers.SendInstructions) (route.Vertex, error) {

	switch {
	case instructions.Destination != nil:
		dest := instructions.Destination

		if dest.NodeID != nil {
			return route.NewVertexFromBytes(
				dest.NodeID.SerializeCompressed(),
			)
		}

		if dest.BlindedPath != nil {
			return offers.ResolveIntroductionNode(
				m.ctx, m.cfg.Lookup,
				dest.BlindedPath.IntroductionNode,
			)
		}

		return route.Vertex{}, ErrNoDeliveryTarget

	case instructions.ResponsePath != nil:
		return offers.ResolveIntroductionNode(
			m.ctx, m.cfg.Lookup,
			instructions.ResponsePath.IntroductionNode,
		)

	default:
		return route.Vertex{}, ErrNoDeliveryTarget
	}
}

// ensurePeerConnected checks connectivity to the peer and, when a connector
// is available, dials the peer's advertised addresses on a miss.
func (m *Messenger) ensurePeerConnected(peer route.Vertex) error {
	connected, err := m.cfg.Peers.IsConnected(m.ctx, peer)
	if err != nil {
		return err
	}

	if connected {
		return nil
	}

	if m.cfg.Connector == nil {
		return fmt.Errorf("%w: %v", peerstate.ErrPeerNotConnected,
			peer)
	}

	return m.connectPeer(peer)
}

// connectPeer dials the peer's advertised addresses until one succeeds and
// records the new connection in the cache.
func (m *Messenger) connectPeer(peer route.Vertex) error {
	addresses, err := m.cfg.Connector.GetNodeAddresses(m.ctx, peer)
	if err != nil {
		return fmt.Errorf("lookup addresses for %v: %w", peer, err)
	}

	if len(addresses) == 0 {
		return fmt.Errorf("%w: %v has no advertised addresses",
			peerstate.ErrPeerNotConnected, peer)
	}

	var lastErr error
	for _, address := range addresses {
		err := m.cfg.Connector.Connect(m.ctx, peer, address, false)
		if err != nil {
			log.Debugf("Connect to %v at %v failed: %v", peer,
				address, err)
			lastErr = err
			continue
		}

		log.Infof("Connected to peer %v at %v", peer, address)
		m.cfg.Peers.MarkConnected(peer)

		return nil
	}

	return fmt.Errorf("connect to %v: %w", peer, lastErr)
}

// peerEventLoop feeds the node's peer online and offline events into the
// connectivity cache, reopening the subscription with a delay when it
// fails.
func (m *Messenger) peerEventLoop() {
	defer m.wg.Done()

	for {
		stream, err := m.cfg.Events.SubscribePeerEvents(m.ctx)
		if err != nil {
			log.Errorf("Unable to subscribe to peer events: %v",
				err)

			select {
			case <-time.After(eventRetryDelay):
				continue
			case <-m.quit:
				return
			}
		}

		if err := m.consumePeerEvents(stream); err != nil {
			log.Errorf("Peer event stream failed: %v", err)
		}

		select {
		case <-time.After(eventRetryDelay):
		case <-m.quit:
			return
		}
	}
}

// consumePeerEvents applies a single subscription's events to the cache
// until the stream fails or the messenger shuts down.
func (m *Messenger) consumePeerEvents(stream PeerEventStream) error {
	for {
		event, err := stream.Recv()
		if err != nil {
			select {
			case <-m.quit:
				return nil
			default:
				return err
			}
		}

		peer, err := route.NewVertexFromStr(event.PubKey)
		if err != nil {
			log.Warnf("Malformed peer event pubkey %v: %v",
				event.PubKey, err)
			continue
		}

		switch event.Type {
		case lnrpc.PeerEvent_PEER_ONLINE:
			log.Debugf("Peer %v came online", peer)
			m.cfg.Peers.MarkConnected(peer)

		case lnrpc.PeerEvent_PEER_OFFLINE:
			log.Debugf("Peer %v went offline", peer)
			m.cfg.Peers.MarkDisconnected(peer)
		}
	}
}
