// Package lnd connects the daemon to its host lnd node over grpc and adapts
// the node's rpc surface to the interfaces the negotiation machinery
// consumes.
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

// maxMsgRecvSize is the largest message our client will receive. We set
// this to 200MiB atm.
var maxMsgRecvSize = grpc.MaxCallRecvMsgSize(1 * 1024 * 1024 * 200)

// Config describes the grpc connection to the host lnd node.
type Config struct {
	// Address is the host:port of lnd's grpc server.
	Address string

	// TLSCertPath is the path to lnd's tls certificate.
	TLSCertPath string

	// MacaroonPath is the path to a macaroon with sufficient permissions
	// for offer negotiation.
	MacaroonPath string

	// Network is the chain network lnd is expected to run on.
	Network *chaincfg.Params
}

// Client is a grpc client for the host lnd node.
type Client struct {
	conn   *grpc.ClientConn
	ln     lnrpc.LightningClient
	router routerrpc.RouterClient

	// nodeID is the host node's identity key, populated by Start.
	nodeID *btcec.PublicKey

	cfg *Config

	edgeCache *edgeCache
}

// NewClient dials the host lnd node with tls and macaroon credentials.
func NewClient(cfg *Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("unable to load tls cert %v: %w",
			cfg.TLSCertPath, err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read macaroon %v: %w",
			cfg.MacaroonPath, err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("unable to decode macaroon: %w", err)
	}

	macCred, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("unable to create macaroon "+
			"credential: %w", err)
	}

	conn, err := grpc.Dial(
		cfg.Address,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macCred),
		grpc.WithDefaultCallOptions(maxMsgRecvSize),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %v: %w",
			cfg.Address, err)
	}

	return &Client{
		conn:      conn,
		ln:        lnrpc.NewLightningClient(conn),
		router:    routerrpc.NewRouterClient(conn),
		cfg:       cfg,
		edgeCache: newEdgeCache(),
	}, nil
}

// Start fetches the node's identity and verifies that it runs on the
// network we were configured for.
func (c *Client) Start(ctx context.Context) error {
	info, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return fmt.Errorf("unable to get node info: %w", err)
	}

	nodeIDBytes, err := hex.DecodeString(info.IdentityPubkey)
	if err != nil {
		return fmt.Errorf("unable to decode identity pubkey: %w", err)
	}

	c.nodeID, err = btcec.ParsePubKey(nodeIDBytes)
	if err != nil {
		return fmt.Errorf("unable to parse identity pubkey: %w", err)
	}

	if err := c.checkNetwork(info); err != nil {
		return err
	}

	log.Infof("Connected to lnd node %v (%v) on %v",
		info.IdentityPubkey, info.Alias, c.cfg.Network.Name)

	return nil
}

// Close tears down the grpc connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NodeID returns the host node's identity key. Only valid after Start.
func (c *Client) NodeID() *btcec.PublicKey {
	return c.nodeID
}

// checkNetwork fails unless the node reports the chain network we expect.
func (c *Client) checkNetwork(info *lnrpc.GetInfoResponse) error {
	if len(info.Chains) == 0 {
		return fmt.Errorf("node reports no chains")
	}

	reported := info.Chains[0].Network
	expected := rpcNetworkName(c.cfg.Network)

	if reported != expected {
		return fmt.Errorf("node runs on %v, expected %v", reported,
			expected)
	}

	return nil
}

// rpcNetworkName maps chain params to the network names lnd reports over
// rpc.
func rpcNetworkName(params *chaincfg.Params) string {
	switch params.Name {
	case chaincfg.TestNet3Params.Name:
		return "testnet"

	case chaincfg.RegressionNetParams.Name:
		return "regtest"

	default:
		return params.Name
	}
}
