// Command aibtccd runs a peer-to-peer AIBTCC blockchain node: chain state
// machine, mempool and miner, peer gossip and sync, and a Prometheus
// metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/aibtcc/aibtcc-go/internal/chain"
	"github.com/aibtcc/aibtcc-go/internal/config"
	"github.com/aibtcc/aibtcc-go/internal/metrics"
	"github.com/aibtcc/aibtcc-go/internal/node"
	"github.com/aibtcc/aibtcc-go/internal/p2p"
	"github.com/aibtcc/aibtcc-go/internal/store"
	"github.com/aibtcc/aibtcc-go/internal/wallet"
)

func main() {
	defaults := config.Default()

	app := &cli.App{
		Name:  "aibtccd",
		Usage: "AIBTCC peer-to-peer blockchain node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "directory for the datastore, identity key, and wallets",
				Value:   defaults.DataDir,
				EnvVars: []string{"AIBTCC_DATA_DIR"},
			},
			&cli.IntFlag{
				Name:    "listen-port",
				Usage:   "P2P listen port",
				Value:   defaults.ListenPort,
				EnvVars: []string{"AIBTCC_LISTEN_PORT"},
			},
			&cli.StringSliceFlag{
				Name:    "peer",
				Usage:   "peer multiaddr to dial on startup (repeatable, comma-separated in the environment)",
				EnvVars: []string{"AIBTCC_PEERS"},
			},
			&cli.StringFlag{
				Name:    "miner-address",
				Usage:   "address credited with mining rewards",
				EnvVars: []string{"AIBTCC_MINER_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "genesis-address",
				Usage:   "address credited with the genesis supply",
				EnvVars: []string{"AIBTCC_GENESIS_ADDRESS"},
			},
			&cli.IntFlag{
				Name:    "difficulty",
				Usage:   "required leading hex zeroes in block hashes",
				Value:   defaults.Difficulty,
				EnvVars: []string{"AIBTCC_DIFFICULTY"},
			},
			&cli.StringFlag{
				Name:    "mining-reward",
				Usage:   "reward per mined block",
				Value:   defaults.MiningReward.String(),
				EnvVars: []string{"AIBTCC_MINING_REWARD"},
			},
			&cli.DurationFlag{
				Name:    "mining-interval",
				Usage:   "fixed mining timer",
				Value:   defaults.MiningInterval,
				EnvVars: []string{"AIBTCC_MINING_INTERVAL"},
			},
			&cli.DurationFlag{
				Name:    "pending-poll",
				Usage:   "fast miner poll when transactions are pending",
				Value:   defaults.PendingPoll,
				EnvVars: []string{"AIBTCC_PENDING_POLL"},
			},
			&cli.DurationFlag{
				Name:    "heartbeat",
				Usage:   "peer heartbeat interval",
				Value:   defaults.Heartbeat,
				EnvVars: []string{"AIBTCC_HEARTBEAT"},
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Prometheus metrics port (0 disables)",
				Value:   defaults.MetricsPort,
				EnvVars: []string{"AIBTCC_METRICS_PORT"},
			},
			&cli.BoolFlag{
				Name:    "mdns",
				Usage:   "enable mDNS LAN discovery",
				Value:   defaults.EnableMDNS,
				EnvVars: []string{"AIBTCC_MDNS"},
			},
		},
		Action: runNode,
		Commands: []*cli.Command{
			{
				Name:  "wallet",
				Usage: "manage local wallets",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "generate a keypair and print its address",
						Action: func(c *cli.Context) error {
							w, err := wallet.Create(c.String("data-dir"))
							if err != nil {
								return cli.Exit(fmt.Sprintf("create wallet: %v", err), 1)
							}
							fmt.Println(w.Address)
							return nil
						},
					},
					{
						Name:  "list",
						Usage: "list stored wallet addresses",
						Action: func(c *cli.Context) error {
							addrs, err := wallet.List(c.String("data-dir"))
							if err != nil {
								return cli.Exit(fmt.Sprintf("list wallets: %v", err), 1)
							}
							for _, a := range addrs {
								fmt.Println(a)
							}
							return nil
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	cfg.DataDir = c.String("data-dir")
	cfg.ListenPort = c.Int("listen-port")
	cfg.Peers = c.StringSlice("peer")
	cfg.MinerAddress = c.String("miner-address")
	cfg.GenesisAddress = c.String("genesis-address")
	cfg.Difficulty = c.Int("difficulty")
	cfg.MiningInterval = c.Duration("mining-interval")
	cfg.PendingPoll = c.Duration("pending-poll")
	cfg.Heartbeat = c.Duration("heartbeat")
	cfg.MetricsPort = c.Int("metrics-port")
	cfg.EnableMDNS = c.Bool("mdns")

	reward, err := decimal.NewFromString(c.String("mining-reward"))
	if err != nil {
		return cfg, fmt.Errorf("bad mining reward: %w", err)
	}
	cfg.MiningReward = reward

	return cfg, cfg.Validate()
}

func runNode(c *cli.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return cli.Exit(fmt.Sprintf("create logger: %v", err), 1)
	}
	defer logger.Sync()

	cfg, err := buildConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuration: %v", err), 1)
	}

	// A node without wallets gets one minted on first start, so the miner
	// and genesis addresses always resolve to a spendable key.
	if cfg.MinerAddress == "" || cfg.GenesisAddress == "" {
		w, err := defaultWallet(cfg.DataDir)
		if err != nil {
			return cli.Exit(fmt.Sprintf("default wallet: %v", err), 1)
		}
		if cfg.MinerAddress == "" {
			cfg.MinerAddress = w.Address
		}
		if cfg.GenesisAddress == "" {
			cfg.GenesisAddress = w.Address
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return cli.Exit(fmt.Sprintf("create data dir: %v", err), 1)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "chain.db"), logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open store: %v", err), 1)
	}
	defer st.Close()

	p2pNode, err := p2p.NewNode(ctx, cfg.ListenPort, cfg.DataDir, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("start p2p: %v", err), 1)
	}
	defer p2pNode.Close()

	ch, err := chain.New(cfg.ChainConfig(), st, logger, len(cfg.Peers) > 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("initialize chain: %v", err), 1)
	}
	ch.SetBroadcaster(p2pNode)

	// Stream handlers must exist before discovery lets peers in.
	p2pNode.InitSyncer(ch.Blocks)
	if err := p2pNode.StartDiscovery(ctx, cfg.EnableMDNS, cfg.Peers); err != nil {
		return cli.Exit(fmt.Sprintf("start discovery: %v", err), 1)
	}
	p2pNode.StartHeartbeat(ctx, cfg.Heartbeat)

	if cfg.MetricsPort > 0 {
		go serveMetrics(cfg.MetricsPort, logger)
	}

	ch.Start(ctx)

	orch := node.New(ch, p2pNode, st, cfg, logger)
	orch.Run(ctx)

	logger.Info("shutting down")
	return nil
}

func defaultWallet(dataDir string) (*wallet.Wallet, error) {
	addrs, err := wallet.List(dataDir)
	if err != nil {
		return nil, err
	}
	if len(addrs) > 0 {
		return wallet.Load(dataDir, addrs[0])
	}
	return wallet.Create(dataDir)
}

func serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics endpoint up", zap.String("addr", addr+"/metrics"))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
