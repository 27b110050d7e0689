// Package node orchestrates the chain, the store, and the peer layer: one
// event loop consumes incoming blocks, gossiped transactions, and new-peer
// events, applying the de-duplication rules of the peer protocol.
package node

import (
	"context"
	"errors"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/aibtcc/aibtcc-go/internal/chain"
	"github.com/aibtcc/aibtcc-go/internal/config"
	"github.com/aibtcc/aibtcc-go/internal/metrics"
	"github.com/aibtcc/aibtcc-go/internal/p2p"
	"github.com/aibtcc/aibtcc-go/internal/store"
)

const (
	syncTimeout     = 60 * time.Second
	metricsInterval = 15 * time.Second

	// processedTxCap bounds the anti-replay set; when full the set resets,
	// and the chain's own mempool/store dedup still holds.
	processedTxCap = 100_000
)

// Orchestrator ties the subsystems together and runs the event loop.
type Orchestrator struct {
	chain  *chain.Chain
	net    *p2p.Node
	store  *store.Store
	cfg    config.Config
	logger *zap.Logger

	started time.Time

	// Anti-replay state. Only the event loop touches these.
	lastBlockHash string
	processedTxs  map[string]struct{}
}

// New wires the orchestrator. The p2p node must already have its syncer
// registered with the chain as provider.
func New(c *chain.Chain, net *p2p.Node, st *store.Store, cfg config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		chain:        c,
		net:          net,
		store:        st,
		cfg:          cfg,
		logger:       logger,
		started:      time.Now(),
		processedTxs: make(map[string]struct{}),
	}
}

// Run drives the event loop until the context ends.
func (o *Orchestrator) Run(ctx context.Context) {
	metricsTicker := time.NewTicker(metricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case env := <-o.net.IncomingBlocks():
			o.handleBlock(ctx, env)

		case env := <-o.net.IncomingTransactions():
			o.handleTransaction(env)

		case pid := <-o.net.PeerConnected():
			// A fresh connection starts with a full-chain exchange.
			go o.syncFrom(ctx, pid)

		case <-metricsTicker.C:
			o.updateMetrics()
		}
	}
}

// handleBlock applies the peer-protocol rules for a NEW_BLOCK frame:
// drop already-seen hashes, re-attach store-known blocks without
// re-validation, and fall back to a full-chain request when the block is
// rejected. The block goes to AddBlock exactly as received: its Merkle root
// commits to that order, and the creation-before-transfer rule is enforced
// by the miner at assembly time and atomically by the store at persist time.
func (o *Orchestrator) handleBlock(ctx context.Context, env *p2p.BlockEnvelope) {
	b := env.Block
	if b == nil || b.Hash == "" || b.Hash == o.lastBlockHash {
		return
	}
	o.lastBlockHash = b.Hash

	if o.chain.HasBlock(b.Hash) {
		return
	}

	// Persisted but not in memory: it was validated when first accepted,
	// so re-attach it from the store without re-running consensus checks.
	if stored, err := o.store.HasBlock(b.Hash); err == nil && stored {
		loaded, err := o.store.BlockByHash(b.Hash)
		if err == nil && o.chain.AppendStoredBlock(loaded) == nil {
			o.logger.Debug("re-attached stored block", zap.String("hash", b.Hash))
			return
		}
	}

	if err := o.chain.AddBlock(b); err != nil {
		metrics.BlocksRejected.Inc()
		o.logger.Info("peer block rejected, requesting full chain",
			zap.String("hash", b.Hash),
			zap.String("peer", env.From.String()),
			zap.Error(err))
		go o.syncFrom(ctx, env.From)
		return
	}
	metrics.BlocksAccepted.Inc()
}

// handleTransaction applies the gossip rules for a NEW_TRANSACTION frame.
// Admission re-broadcasts through the chain's broadcaster, which lets the
// mesh carry the transaction onward; seen hashes are dropped here.
func (o *Orchestrator) handleTransaction(env *p2p.TxEnvelope) {
	tx := env.Tx
	if tx == nil || tx.Hash == "" {
		return
	}
	if _, seen := o.processedTxs[tx.Hash]; seen {
		return
	}
	if len(o.processedTxs) >= processedTxCap {
		o.processedTxs = make(map[string]struct{})
	}
	o.processedTxs[tx.Hash] = struct{}{}

	if err := o.chain.AddPendingTransaction(tx); err != nil {
		metrics.TransactionsRejected.Inc()
		o.logger.Debug("gossiped transaction rejected",
			zap.String("hash", tx.Hash),
			zap.String("peer", env.From.String()),
			zap.Error(err))
	}
}

// syncFrom requests a peer's full chain and offers it to the replacement
// logic. Not-longer and not-heavier outcomes are the normal case when the
// local chain is already current.
func (o *Orchestrator) syncFrom(ctx context.Context, pid peer.ID) {
	reqCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	blocks, err := o.net.Syncer().RequestFullChain(reqCtx, pid)
	if err != nil {
		o.logger.Warn("full chain request failed",
			zap.String("peer", pid.String()), zap.Error(err))
		return
	}
	if len(blocks) == 0 {
		return
	}

	err = o.chain.ReplaceChain(blocks)
	switch {
	case err == nil:
		metrics.ChainReplacements.Inc()
		o.logger.Info("synced chain from peer",
			zap.String("peer", pid.String()), zap.Int("height", len(blocks)))
	case errors.Is(err, chain.ErrChainNotLonger), errors.Is(err, chain.ErrChainNotHeavier):
		o.logger.Debug("peer chain not better", zap.Error(err))
	default:
		o.logger.Warn("chain replacement failed",
			zap.String("peer", pid.String()), zap.Error(err))
	}
}

func (o *Orchestrator) updateMetrics() {
	metrics.ChainHeight.Set(float64(o.chain.Height()))
	metrics.PeersConnected.Set(float64(o.net.PeerCount()))
	metrics.MempoolSize.Set(float64(o.chain.PendingCount()))
	metrics.UptimeSeconds.Set(time.Since(o.started).Seconds())
}
