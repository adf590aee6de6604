package lnd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/a-mpch/lndk/onionmsg"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/routing/route"
)

// edgeCacheSize is the number of channel edges we keep cached. Edges are
// looked up for every channel-referenced introduction node, and the graph
// rarely changes underneath us within a session.
const edgeCacheSize = 500

// cachedEdge wraps a channel edge for storage in the lru cache.
type cachedEdge struct {
	edge *lnrpc.ChannelEdge
}

// Size returns the number of cache slots the entry occupies.
func (c *cachedEdge) Size() (uint64, error) {
	return 1, nil
}

// edgeCache memoizes channel edge lookups.
type edgeCache struct {
	edges *lru.Cache[uint64, *cachedEdge]
}

func newEdgeCache() *edgeCache {
	return &edgeCache{
		edges: lru.NewCache[uint64, *cachedEdge](edgeCacheSize),
	}
}

// GetChanInfo returns the channel edge for the channel ID provided, serving
// repeated lookups from the cache.
func (c *Client) GetChanInfo(ctx context.Context,
	chanID uint64) (*lnrpc.ChannelEdge, error) {

	cached, err := c.edgeCache.edges.Get(chanID)
	if err == nil {
		return cached.edge, nil
	}
	if err != cache.ErrElementNotFound {
		return nil, err
	}

	edge, err := c.ln.GetChanInfo(ctx, &lnrpc.ChanInfoRequest{
		ChanId: chanID,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get channel info for %v: "+
			"%w", chanID, err)
	}

	if _, err := c.edgeCache.edges.Put(
		chanID, &cachedEdge{edge: edge},
	); err != nil {
		log.Warnf("Unable to cache edge for channel %v: %v", chanID,
			err)
	}

	return edge, nil
}

// ListPeers returns the identities of all currently connected peers.
func (c *Client) ListPeers(ctx context.Context) ([]route.Vertex, error) {
	resp, err := c.ln.ListPeers(ctx, &lnrpc.ListPeersRequest{})
	if err != nil {
		return nil, fmt.Errorf("unable to list peers: %w", err)
	}

	peers := make([]route.Vertex, 0, len(resp.Peers))
	for _, peer := range resp.Peers {
		vertex, err := route.NewVertexFromStr(peer.PubKey)
		if err != nil {
			return nil, fmt.Errorf("malformed peer pubkey %v: "+
				"%w", peer.PubKey, err)
		}

		peers = append(peers, vertex)
	}

	return peers, nil
}

// GetNodeAddresses returns the advertised network addresses of the node
// provided.
func (c *Client) GetNodeAddresses(ctx context.Context,
	peer route.Vertex) ([]string, error) {

	info, err := c.ln.GetNodeInfo(ctx, &lnrpc.NodeInfoRequest{
		PubKey: hex.EncodeToString(peer[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get node info for %v: %w",
			peer, err)
	}

	addresses := make([]string, 0, len(info.Node.Addresses))
	for _, addr := range info.Node.Addresses {
		addresses = append(addresses, addr.Addr)
	}

	return addresses, nil
}

// Connect instructs the node to connect to the peer at the address
// provided.
func (c *Client) Connect(ctx context.Context, peer route.Vertex,
	address string, perm bool) error {

	_, err := c.ln.ConnectPeer(ctx, &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{
			Pubkey: hex.EncodeToString(peer[:]),
			Host:   address,
		},
		Perm: perm,
	})
	if err != nil {
		return fmt.Errorf("unable to connect to %v at %v: %w", peer,
			address, err)
	}

	return nil
}

// SubscribePeerEvents subscribes to the node's peer online and offline
// events.
func (c *Client) SubscribePeerEvents(
	ctx context.Context) (onionmsg.PeerEventStream, error) {

	stream, err := c.ln.SubscribePeerEvents(
		ctx, &lnrpc.PeerEventSubscription{},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to subscribe to peer "+
			"events: %w", err)
	}

	return stream, nil
}
