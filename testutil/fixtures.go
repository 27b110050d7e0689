package testutil

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aibtcc/aibtcc-go/internal/chain"
	"github.com/aibtcc/aibtcc-go/internal/crypto"
	"github.com/aibtcc/aibtcc-go/internal/types"
)

// TestDifficulty keeps proof-of-work cheap in tests while still exercising
// the leading-zero check.
const TestDifficulty = 1

// NewKeyPair generates a keypair or fails the test.
func NewKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

// ChainConfig returns a chain configuration with fast mining and the given
// genesis keypair as the supply holder.
func ChainConfig(genesis *crypto.KeyPair, miner string) chain.Config {
	return chain.Config{
		Difficulty:           TestDifficulty,
		MiningReward:         decimal.NewFromInt(100),
		GenesisInitialSupply: decimal.NewFromInt(1_000_000),
		MinerAddress:         miner,
		GenesisAddress:       genesis.Address,
		MiningInterval:       time.Hour,
		PendingPoll:          time.Hour,
	}
}

// SignedTransfer builds and signs a native or token transfer.
func SignedTransfer(t *testing.T, from *crypto.KeyPair, to string, amount decimal.Decimal, tokenID int64, origin string) *types.Transaction {
	t.Helper()
	tx := types.NewTransfer(from.Address, to, amount, tokenID, origin, time.Now().UnixMilli())
	if err := tx.Sign(from); err != nil {
		t.Fatalf("sign transfer: %v", err)
	}
	return tx
}

// MinedBlock constructs and mines a block over the given transactions.
func MinedBlock(index int64, prevHash string, txs []*types.Transaction) *types.Block {
	b := types.NewBlock(index, prevHash, time.Now().UnixMilli(), txs, TestDifficulty)
	b.Mine()
	return b
}
