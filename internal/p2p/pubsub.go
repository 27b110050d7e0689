package p2p

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aibtcc/aibtcc-go/internal/types"
)

// BlockEnvelope is a block received from a peer, with its sender so a
// rejected block can be answered with a full-chain request.
type BlockEnvelope struct {
	From  peer.ID
	Block *types.Block
}

// TxEnvelope is a transaction received from a peer.
type TxEnvelope struct {
	From peer.ID
	Tx   *types.Transaction
}

// PubSub manages the two GossipSub topics: block propagation and
// transaction gossip. GossipSub itself forwards accepted messages to the
// rest of the mesh, which covers relaying without re-publishing.
type PubSub struct {
	ps         *pubsub.PubSub
	blockTopic *pubsub.Topic
	txTopic    *pubsub.Topic
	blockSub   *pubsub.Subscription
	txSub      *pubsub.Subscription
	self       peer.ID
	logger     *zap.Logger

	peerLimiters   map[peer.ID]*rate.Limiter
	peerLimitersMu sync.Mutex
}

// NewPubSub joins both topics and starts the read loops feeding the
// incoming channels.
func NewPubSub(ctx context.Context, h host.Host, incomingBlocks chan *BlockEnvelope, incomingTxs chan *TxEnvelope, logger *zap.Logger) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	blockTopic, err := ps.Join(BlockTopicName)
	if err != nil {
		return nil, err
	}
	blockSub, err := blockTopic.Subscribe()
	if err != nil {
		return nil, err
	}

	txTopic, err := ps.Join(TxTopicName)
	if err != nil {
		return nil, err
	}
	txSub, err := txTopic.Subscribe()
	if err != nil {
		return nil, err
	}

	p := &PubSub{
		ps:           ps,
		blockTopic:   blockTopic,
		txTopic:      txTopic,
		blockSub:     blockSub,
		txSub:        txSub,
		self:         h.ID(),
		logger:       logger,
		peerLimiters: make(map[peer.ID]*rate.Limiter),
	}

	go p.readBlockLoop(ctx, incomingBlocks)
	go p.readTxLoop(ctx, incomingTxs)

	return p, nil
}

// PublishBlock broadcasts a NEW_BLOCK frame.
func (p *PubSub) PublishBlock(b *types.Block) error {
	data, err := EncodeMessage(MsgNewBlock, b)
	if err != nil {
		return err
	}
	return p.blockTopic.Publish(context.Background(), data)
}

// PublishTransaction broadcasts a NEW_TRANSACTION frame.
func (p *PubSub) PublishTransaction(t *types.Transaction) error {
	data, err := EncodeMessage(MsgNewTransaction, t)
	if err != nil {
		return err
	}
	return p.txTopic.Publish(context.Background(), data)
}

func (p *PubSub) readBlockLoop(ctx context.Context, incoming chan *BlockEnvelope) {
	for {
		msg, ok := p.next(ctx, p.blockSub)
		if !ok {
			return
		}
		if msg == nil {
			continue
		}

		frame, err := DecodeMessage(msg.Data)
		if err != nil {
			p.logger.Debug("invalid block frame", zap.Error(err))
			continue
		}
		if frame.Type != MsgNewBlock {
			p.logger.Debug("unexpected frame type on block topic", zap.String("type", frame.Type))
			continue
		}
		block, err := frame.DecodeBlock()
		if err != nil {
			p.logger.Debug("invalid block payload", zap.Error(err))
			continue
		}

		select {
		case incoming <- &BlockEnvelope{From: msg.GetFrom(), Block: block}:
		default:
			p.logger.Warn("incoming block channel full, dropping block")
		}
	}
}

func (p *PubSub) readTxLoop(ctx context.Context, incoming chan *TxEnvelope) {
	for {
		msg, ok := p.next(ctx, p.txSub)
		if !ok {
			return
		}
		if msg == nil {
			continue
		}

		frame, err := DecodeMessage(msg.Data)
		if err != nil {
			p.logger.Debug("invalid transaction frame", zap.Error(err))
			continue
		}
		if frame.Type != MsgNewTransaction {
			p.logger.Debug("unexpected frame type on transaction topic", zap.String("type", frame.Type))
			continue
		}
		tx, err := frame.DecodeTransaction()
		if err != nil {
			p.logger.Debug("invalid transaction payload", zap.Error(err))
			continue
		}

		select {
		case incoming <- &TxEnvelope{From: msg.GetFrom(), Tx: tx}:
		default:
			p.logger.Warn("incoming transaction channel full, dropping transaction")
		}
	}
}

// next pulls one message from a subscription, filtering self-messages and
// rate-limited peers. The second return is false once the context ends.
func (p *PubSub) next(ctx context.Context, sub *pubsub.Subscription) (*pubsub.Message, bool) {
	msg, err := sub.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		p.logger.Error("pubsub read error", zap.Error(err))
		return nil, true
	}
	if msg.GetFrom() == p.self {
		return nil, true
	}
	if !p.getPeerLimiter(msg.GetFrom()).Allow() {
		p.logger.Warn("peer rate limited", zap.String("peer", msg.GetFrom().String()))
		return nil, true
	}
	return msg, true
}

func (p *PubSub) getPeerLimiter(peerID peer.ID) *rate.Limiter {
	p.peerLimitersMu.Lock()
	defer p.peerLimitersMu.Unlock()

	if lim, ok := p.peerLimiters[peerID]; ok {
		return lim
	}

	// Evict an arbitrary entry if the map grows unbounded.
	if len(p.peerLimiters) >= 500 {
		for id := range p.peerLimiters {
			delete(p.peerLimiters, id)
			break
		}
	}

	lim := rate.NewLimiter(20, 40)
	p.peerLimiters[peerID] = lim
	return lim
}
