package p2p

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"

	"go.uber.org/zap"
)

// Heartbeat pings every connected peer on an interval. A peer that fails
// two consecutive rounds — no response between consecutive pings — is
// disconnected.
type Heartbeat struct {
	host   host.Host
	ping   *ping.PingService
	logger *zap.Logger

	mu       sync.Mutex
	failures map[peer.ID]int
}

// NewHeartbeat wires the libp2p ping service.
func NewHeartbeat(h host.Host, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		host:     h,
		ping:     ping.NewPingService(h),
		logger:   logger,
		failures: make(map[peer.ID]int),
	}
}

// Run drives the heartbeat until the context ends.
func (hb *Heartbeat) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb.pingRound(ctx, interval)
		}
	}
}

func (hb *Heartbeat) pingRound(ctx context.Context, interval time.Duration) {
	peers := hb.host.Network().Peers()

	connected := make(map[peer.ID]struct{}, len(peers))
	for _, pid := range peers {
		connected[pid] = struct{}{}
	}
	hb.forgetDisconnected(connected)

	for _, pid := range peers {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		res := <-hb.ping.Ping(pingCtx, pid)
		cancel()

		if res.Error != nil {
			if hb.recordFailure(pid) >= 2 {
				hb.logger.Warn("peer unresponsive, disconnecting",
					zap.String("peer", pid.String()), zap.Error(res.Error))
				if err := hb.host.Network().ClosePeer(pid); err != nil {
					hb.logger.Debug("close peer", zap.Error(err))
				}
				hb.forget(pid)
			}
			continue
		}

		hb.forget(pid)
		hb.logger.Debug("peer heartbeat",
			zap.String("peer", pid.String()), zap.Duration("rtt", res.RTT))
	}
}

func (hb *Heartbeat) recordFailure(pid peer.ID) int {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.failures[pid]++
	return hb.failures[pid]
}

func (hb *Heartbeat) forget(pid peer.ID) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	delete(hb.failures, pid)
}

func (hb *Heartbeat) forgetDisconnected(connected map[peer.ID]struct{}) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	for pid := range hb.failures {
		if _, ok := connected[pid]; !ok {
			delete(hb.failures, pid)
		}
	}
}
