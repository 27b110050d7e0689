package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/aibtcc/aibtcc-go/internal/types"
)

// Node manages the libp2p host and peer networking. It implements the
// chain's Broadcaster.
type Node struct {
	Host   host.Host
	Logger *zap.Logger

	dataDir   string
	pubsub    *PubSub
	discovery *Discovery
	syncer    *Syncer
	heartbeat *Heartbeat

	incomingBlocks chan *BlockEnvelope
	incomingTxs    chan *TxEnvelope
	peerConnected  chan peer.ID
}

// NewNode creates the libp2p host with GossipSub joined but does NOT start
// discovery. Call StartDiscovery after registering all stream handlers
// (InitSyncer) so peers cannot connect before handlers exist.
func NewNode(ctx context.Context, listenPort int, dataDir string, logger *zap.Logger) (*Node, error) {
	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)

	privKey, err := LoadOrCreateIdentity(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	cm, err := connmgr.NewConnManager(50, 100, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	node := &Node{
		Host:           h,
		Logger:         logger,
		dataDir:        dataDir,
		incomingBlocks: make(chan *BlockEnvelope, 64),
		incomingTxs:    make(chan *TxEnvelope, 256),
		peerConnected:  make(chan peer.ID, 16),
	}

	// Connection notifier: every new peer triggers a full-chain request.
	h.Network().Notify(&peerNotifiee{peerConnected: node.peerConnected})

	node.pubsub, err = NewPubSub(ctx, h, node.incomingBlocks, node.incomingTxs, logger)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("setup pubsub: %w", err)
	}

	node.heartbeat = NewHeartbeat(h, logger)

	logger.Info("p2p node started",
		zap.String("peer_id", h.ID().String()),
		zap.Int("port", listenPort),
	)
	for _, addr := range h.Addrs() {
		logger.Info("listening on", zap.String("addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID())))
	}

	return node, nil
}

// InitSyncer registers the chain-sync stream handler. Must be called before
// StartDiscovery so a connecting peer always finds the handler.
func (n *Node) InitSyncer(provider ChainProvider) {
	n.syncer = NewSyncer(n.Host, provider, n.Logger)
}

// StartDiscovery begins mDNS and DHT discovery and dials the configured
// peers.
func (n *Node) StartDiscovery(ctx context.Context, enableMDNS bool, bootnodes []string) error {
	var err error
	n.discovery, err = NewDiscovery(ctx, n.Host, n.dataDir, enableMDNS, bootnodes, n.Logger)
	if err != nil {
		return fmt.Errorf("setup discovery: %w", err)
	}
	return nil
}

// StartHeartbeat launches the periodic peer liveness check.
func (n *Node) StartHeartbeat(ctx context.Context, interval time.Duration) {
	go n.heartbeat.Run(ctx, interval)
}

// IncomingBlocks returns the channel of blocks received from peers.
func (n *Node) IncomingBlocks() <-chan *BlockEnvelope {
	return n.incomingBlocks
}

// IncomingTransactions returns the channel of gossiped transactions.
func (n *Node) IncomingTransactions() <-chan *TxEnvelope {
	return n.incomingTxs
}

// PeerConnected returns the channel of newly connected peer IDs.
func (n *Node) PeerConnected() <-chan peer.ID {
	return n.peerConnected
}

// Syncer returns the chain-sync protocol handler.
func (n *Node) Syncer() *Syncer {
	return n.syncer
}

// BroadcastBlock publishes a block; failures are logged, not fatal.
func (n *Node) BroadcastBlock(b *types.Block) {
	if err := n.pubsub.PublishBlock(b); err != nil {
		n.Logger.Warn("broadcast block", zap.String("hash", b.Hash), zap.Error(err))
	}
}

// BroadcastTransaction publishes a transaction; failures are logged.
func (n *Node) BroadcastTransaction(t *types.Transaction) {
	if err := n.pubsub.PublishTransaction(t); err != nil {
		n.Logger.Warn("broadcast transaction", zap.String("hash", t.Hash), zap.Error(err))
	}
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	return len(n.Host.Network().Peers())
}

// Close shuts the node down.
func (n *Node) Close() error {
	if n.discovery != nil {
		if err := n.discovery.Close(); err != nil {
			n.Logger.Warn("close discovery", zap.Error(err))
		}
	}
	return n.Host.Close()
}

// peerNotifiee implements network.Notifiee to surface new connections.
type peerNotifiee struct {
	peerConnected chan peer.ID
}

func (pn *peerNotifiee) Connected(_ network.Network, conn network.Conn) {
	// Non-blocking send; a dropped event only delays sync to the next connect.
	select {
	case pn.peerConnected <- conn.RemotePeer():
	default:
	}
}

func (pn *peerNotifiee) Disconnected(network.Network, network.Conn) {}
func (pn *peerNotifiee) Listen(network.Network, ma.Multiaddr)      {}
func (pn *peerNotifiee) ListenClose(network.Network, ma.Multiaddr) {}
