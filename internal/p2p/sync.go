package p2p

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"go.uber.org/zap"

	"github.com/aibtcc/aibtcc-go/internal/types"
)

const syncStreamTimeout = 30 * time.Second

// ChainProvider returns the node's current chain for a full-chain reply.
type ChainProvider func() []*types.Block

// Syncer answers REQUEST_FULL_CHAIN streams with compressed FULL_CHAIN
// frames and issues the same request to other peers.
type Syncer struct {
	host     host.Host
	logger   *zap.Logger
	provider ChainProvider
}

// NewSyncer registers the sync stream handler.
func NewSyncer(h host.Host, provider ChainProvider, logger *zap.Logger) *Syncer {
	s := &Syncer{
		host:     h,
		logger:   logger,
		provider: provider,
	}
	h.SetStreamHandler(protocol.ID(ChainSyncProtocolID), s.handleStream)
	return s
}

// handleStream serves one sync request.
func (s *Syncer) handleStream(stream network.Stream) {
	defer stream.Close()

	// Deadline prevents a slow or malicious peer from holding the stream.
	stream.SetDeadline(time.Now().Add(syncStreamTimeout))

	data, err := io.ReadAll(io.LimitReader(stream, maxFrameSize))
	if err != nil {
		s.logger.Debug("sync read error", zap.Error(err))
		return
	}

	req, err := DecodeMessage(data)
	if err != nil {
		s.logger.Debug("invalid sync request", zap.Error(err))
		return
	}
	if req.Type != MsgRequestFullChain {
		s.logger.Debug("unknown sync frame type, ignoring", zap.String("type", req.Type))
		return
	}

	blocks := s.provider()
	resp, err := EncodeMessage(MsgFullChain, blocks)
	if err != nil {
		s.logger.Error("encode full chain", zap.Error(err))
		return
	}

	if _, err := stream.Write(CompressFrame(resp)); err != nil {
		s.logger.Debug("sync write error", zap.Error(err))
	}
}

// RequestFullChain asks one peer for its entire chain.
func (s *Syncer) RequestFullChain(ctx context.Context, peerID peer.ID) ([]*types.Block, error) {
	stream, err := s.host.NewStream(ctx, peerID, protocol.ID(ChainSyncProtocolID))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(syncStreamTimeout))

	req, err := EncodeMessage(MsgRequestFullChain, nil)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := stream.Write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	// Close the write side to signal the request is complete.
	stream.CloseWrite()

	data, err := io.ReadAll(io.LimitReader(stream, maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	data, err = DecompressFrame(data)
	if err != nil {
		return nil, fmt.Errorf("decompress response: %w", err)
	}

	resp, err := DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Type != MsgFullChain {
		return nil, fmt.Errorf("unexpected response type %s", resp.Type)
	}
	return resp.DecodeChain()
}
