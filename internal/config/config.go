// Package config holds the node's startup knobs and their defaults.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aibtcc/aibtcc-go/internal/chain"
	"github.com/aibtcc/aibtcc-go/internal/crypto"
)

// Config is the full node configuration. The three startup knobs (data
// directory, listen port, peer list) come from flags or the environment;
// the genesis constants default to the network's canonical values.
type Config struct {
	DataDir     string
	ListenPort  int
	Peers       []string
	MetricsPort int
	EnableMDNS  bool

	Difficulty           int
	MiningReward         decimal.Decimal
	GenesisInitialSupply decimal.Decimal
	MinerAddress         string
	GenesisAddress       string

	MiningInterval time.Duration
	PendingPoll    time.Duration
	Heartbeat      time.Duration
}

// Default returns the canonical configuration.
func Default() Config {
	return Config{
		DataDir:              "data",
		ListenPort:           9000,
		MetricsPort:          9100,
		EnableMDNS:           true,
		Difficulty:           2,
		MiningReward:         decimal.NewFromInt(100),
		GenesisInitialSupply: decimal.NewFromInt(1_000_000),
		MiningInterval:       30 * time.Second,
		PendingPoll:          10 * time.Second,
		Heartbeat:            30 * time.Second,
	}
}

// Validate checks the parts that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	if c.Difficulty < 0 {
		return fmt.Errorf("difficulty must not be negative")
	}
	if !c.MiningReward.IsPositive() {
		return fmt.Errorf("mining reward must be positive")
	}
	if !c.GenesisInitialSupply.IsPositive() {
		return fmt.Errorf("genesis supply must be positive")
	}
	if c.MinerAddress != "" && !crypto.ValidAddress(c.MinerAddress) {
		return fmt.Errorf("bad miner address %q", c.MinerAddress)
	}
	if c.GenesisAddress != "" && !crypto.ValidAddress(c.GenesisAddress) {
		return fmt.Errorf("bad genesis address %q", c.GenesisAddress)
	}
	return nil
}

// ChainConfig projects the consensus subset for the chain package.
func (c *Config) ChainConfig() chain.Config {
	return chain.Config{
		Difficulty:           c.Difficulty,
		MiningReward:         c.MiningReward,
		GenesisInitialSupply: c.GenesisInitialSupply,
		MinerAddress:         c.MinerAddress,
		GenesisAddress:       c.GenesisAddress,
		MiningInterval:       c.MiningInterval,
		PendingPoll:          c.PendingPoll,
	}
}
