// Package chain owns the node's consensus state: the in-memory block
// sequence, the mempool, block production under proof-of-work, and the
// accept/replace rules that make independent nodes converge.
package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aibtcc/aibtcc-go/internal/crypto"
	"github.com/aibtcc/aibtcc-go/internal/metrics"
	"github.com/aibtcc/aibtcc-go/internal/store"
	"github.com/aibtcc/aibtcc-go/internal/types"
)

// Config carries the consensus and mining knobs.
type Config struct {
	Difficulty           int
	MiningReward         decimal.Decimal
	GenesisInitialSupply decimal.Decimal
	MinerAddress         string
	GenesisAddress       string
	MiningInterval       time.Duration
	PendingPoll          time.Duration
}

// Broadcaster publishes locally produced state to peers. A nil broadcaster
// (tests, isolated nodes) disables publication.
type Broadcaster interface {
	BroadcastBlock(*types.Block)
	BroadcastTransaction(*types.Transaction)
}

// BalanceInfo is the answer to a balance query: native plus per-token rows.
type BalanceInfo struct {
	Native decimal.Decimal
	Tokens map[int64]store.TokenBalance
}

// Chain is the consensus state machine. All mutation is serialized through
// its mutex; the separate mining mutex keeps the two miner timers from
// overlapping a mine/save/broadcast sequence.
type Chain struct {
	cfg    Config
	store  *store.Store
	logger *zap.Logger

	mu            sync.Mutex
	blocks        []*types.Block
	pending       []*types.Transaction
	pendingHashes map[string]struct{}

	miningMu  sync.Mutex
	replacing atomic.Bool

	broadcaster Broadcaster
}

// New builds the chain from the store. An empty store with no peers mints
// and mines the genesis block; an empty store with peers configured waits
// for the first synced chain; anything else loads and validates what is on
// disk, refusing to start on inconsistency.
func New(cfg Config, st *store.Store, logger *zap.Logger, hasPeers bool) (*Chain, error) {
	c := &Chain{
		cfg:           cfg,
		store:         st,
		logger:        logger,
		pendingHashes: make(map[string]struct{}),
	}

	count, err := st.BlockCount()
	if err != nil {
		return nil, fmt.Errorf("count blocks: %w", err)
	}

	switch {
	case count == 0 && !hasPeers:
		if err := c.mintGenesis(); err != nil {
			return nil, fmt.Errorf("mint genesis: %w", err)
		}

	case count == 0 && hasPeers:
		logger.Info("empty store with peers configured, waiting for first chain sync")

	default:
		blocks, err := st.LoadChain()
		if err != nil {
			return nil, fmt.Errorf("load chain: %w", err)
		}
		if err := ValidateChain(blocks); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainInconsistent, err)
		}
		c.blocks = blocks
		logger.Info("chain loaded", zap.Int("height", len(blocks)))

		pending, err := st.LoadPending()
		if err != nil {
			return nil, fmt.Errorf("load pending: %w", err)
		}
		for _, tx := range pending {
			c.pending = append(c.pending, tx)
			c.pendingHashes[tx.Hash] = struct{}{}
		}
	}

	return c, nil
}

func (c *Chain) mintGenesis() error {
	now := time.Now().UnixMilli()
	mint := types.NewReward(c.cfg.GenesisAddress, c.cfg.GenesisInitialSupply, now)

	genesis := types.NewBlock(0, "", now, []*types.Transaction{mint}, c.cfg.Difficulty)
	genesis.Mine()

	if err := c.store.SaveBlock(genesis); err != nil {
		return err
	}
	c.blocks = []*types.Block{genesis}
	c.logger.Info("genesis block minted",
		zap.String("hash", genesis.Hash),
		zap.String("genesis_address", c.cfg.GenesisAddress),
		zap.String("supply", c.cfg.GenesisInitialSupply.StringFixed(types.AmountScale)),
	)
	return nil
}

// SetBroadcaster wires the peer layer. Called once during startup, before
// the mining timers run.
func (c *Chain) SetBroadcaster(b Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcaster = b
}

// Height returns the number of blocks.
func (c *Chain) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// LastBlock returns the current tip, or nil while waiting for first sync.
func (c *Chain) LastBlock() *types.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// Blocks returns a copy of the block sequence.
func (c *Chain) Blocks() []*types.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Block(nil), c.blocks...)
}

// HasBlock reports whether a hash is in the in-memory chain.
func (c *Chain) HasBlock(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.blocks {
		if b.Hash == hash {
			return true
		}
	}
	return false
}

// PendingCount returns the mempool size.
func (c *Chain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingTransactions returns a copy of the mempool.
func (c *Chain) PendingTransactions() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.pending...)
}

// IsValid re-validates the whole in-memory chain.
func (c *Chain) IsValid() error {
	c.mu.Lock()
	blocks := append([]*types.Block(nil), c.blocks...)
	c.mu.Unlock()
	return ValidateChain(blocks)
}

// AddPendingTransaction admits a transaction to the mempool: positive
// amount, acceptable addresses, canonical hash, valid signature. A hash
// already pending is a silent no-op; an admitted transaction is persisted
// and broadcast.
func (c *Chain) AddPendingTransaction(tx *types.Transaction) error {
	if tx == nil {
		return invalidf("nil transaction")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !tx.Amount.IsPositive() {
		return invalidf("amount %s is not positive", tx.Amount)
	}
	if !crypto.ValidAddress(tx.ToAddress) {
		return invalidf("bad recipient address %q", tx.ToAddress)
	}
	if tx.FromAddress != "" && !crypto.ValidAddress(tx.FromAddress) {
		return invalidf("bad sender address %q", tx.FromAddress)
	}

	expected := tx.ComputeHash()
	if tx.Hash == "" {
		tx.Hash = expected
	} else if tx.Hash != expected {
		return invalidf("transaction hash %s does not recompute", tx.Hash)
	}

	if !tx.IsValid() {
		return invalidf("transaction %s has no valid signature", tx.Hash)
	}

	if _, dup := c.pendingHashes[tx.Hash]; dup {
		return nil
	}

	c.pending = append(c.pending, tx)
	c.pendingHashes[tx.Hash] = struct{}{}

	if err := c.store.UpsertPending(tx); err != nil {
		return fmt.Errorf("persist pending: %w", err)
	}

	c.logger.Debug("transaction admitted", zap.String("hash", tx.Hash))
	if c.broadcaster != nil {
		c.broadcaster.BroadcastTransaction(tx)
	}
	return nil
}

// CreateTransfer builds, signs, and admits an outgoing transfer from the
// given keypair, threading the sender's origin-hash chain from the store.
func (c *Chain) CreateTransfer(kp *crypto.KeyPair, to string, amount decimal.Decimal, tokenID int64) (*types.Transaction, error) {
	origin := ""
	if latest, err := c.store.LatestTransactionForAddress(kp.Address); err == nil {
		origin = latest.Hash
	}

	tx := types.NewTransfer(kp.Address, to, amount, tokenID, origin, time.Now().UnixMilli())
	if err := tx.Sign(kp); err != nil {
		return nil, err
	}
	if err := c.AddPendingTransaction(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// MinePendingTransactions assembles the mempool plus a reward transaction
// into a new block, mines it, persists it, and broadcasts it. Returns the
// mined block, or nil when the mempool is empty. The mining mutex serializes
// the interval miner and the pending-poll miner.
func (c *Chain) MinePendingTransactions(rewardAddress string) (*types.Block, error) {
	c.miningMu.Lock()
	defer c.miningMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil, nil
	}
	if len(c.blocks) == 0 {
		return nil, ErrNoLocalChain
	}

	// Drop anything already mined elsewhere, then collapse duplicates.
	// Both are races the admission path cannot fully close. Iterate a
	// snapshot: dropping a mined entry mutates the mempool slice.
	snapshot := append([]*types.Transaction(nil), c.pending...)
	candidates := make([]*types.Transaction, 0, len(snapshot))
	inBlock := make(map[string]struct{}, len(snapshot))
	for _, tx := range snapshot {
		mined, err := c.store.HasTransaction(tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("check mined: %w", err)
		}
		if mined {
			c.dropPendingLocked(tx.Hash)
			continue
		}
		if _, dup := inBlock[tx.Hash]; dup {
			continue
		}
		inBlock[tx.Hash] = struct{}{}
		candidates = append(candidates, tx)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := time.Now().UnixMilli()
	reward := types.NewReward(rewardAddress, c.cfg.MiningReward, now)
	txs := append(TokenCreationsFirst(candidates), reward)

	last := c.blocks[len(c.blocks)-1]
	if types.DeriveOriginTxHash(last.Transactions) != last.OriginTxHash {
		return nil, fmt.Errorf("%w: tip %s origin pointer does not re-derive", ErrChainInconsistent, last.Hash)
	}

	block := types.NewBlock(int64(len(c.blocks)), last.Hash, now, txs, c.cfg.Difficulty)
	block.Mine()

	if err := c.store.SaveBlock(block); err != nil {
		return nil, fmt.Errorf("persist block: %w", err)
	}

	c.blocks = append(c.blocks, block)
	for _, tx := range candidates {
		c.dropPendingLocked(tx.Hash)
	}

	c.logger.Info("block mined",
		zap.Int64("index", block.Index),
		zap.String("hash", block.Hash),
		zap.Int("transactions", len(block.Transactions)),
		zap.Int64("nonce", block.Nonce),
	)
	if c.broadcaster != nil {
		c.broadcaster.BroadcastBlock(block)
	}
	return block, nil
}

func (c *Chain) dropPendingLocked(hash string) {
	delete(c.pendingHashes, hash)
	for i, tx := range c.pending {
		if tx.Hash == hash {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	if err := c.store.DeletePending(hash); err != nil {
		c.logger.Warn("delete pending row", zap.String("hash", hash), zap.Error(err))
	}
}

// AddBlock accepts an already-mined block extending the current tip. On any
// rejection the chain is unchanged; peers that get a rejection typically
// follow up with a full-chain request.
func (c *Chain) AddBlock(b *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		return ErrNoLocalChain
	}

	last := c.blocks[len(c.blocks)-1]
	if b.PreviousHash != last.Hash {
		return invalidf("block %s does not extend tip %s", b.Hash, last.Hash)
	}
	if b.Index != last.Index+1 {
		return invalidf("block index %d, want %d", b.Index, last.Index+1)
	}
	if !b.HasValidTransactions() {
		return invalidf("block %s carries an invalid transaction", b.Hash)
	}
	if b.ComputeHash() != b.Hash {
		return invalidf("block %s hash does not recompute", b.Hash)
	}
	// The root must commit to the transactions exactly as received; a
	// self-mined header over an unrelated transaction list passes every
	// other check here.
	if types.ComputeMerkleRoot(b.Transactions) != b.MerkleRoot {
		return invalidf("block %s merkle root does not recompute", b.Hash)
	}
	if !b.MeetsDifficulty() {
		return invalidf("block %s does not meet difficulty %d", b.Hash, b.Difficulty)
	}

	if err := c.store.SaveBlock(b); err != nil {
		return fmt.Errorf("persist block: %w", err)
	}

	c.blocks = append(c.blocks, b)
	for _, tx := range b.Transactions {
		if _, ok := c.pendingHashes[tx.Hash]; ok {
			c.dropPendingLocked(tx.Hash)
		}
	}

	c.logger.Info("block accepted",
		zap.Int64("index", b.Index),
		zap.String("hash", b.Hash),
		zap.Int("transactions", len(b.Transactions)),
	)
	return nil
}

// AppendStoredBlock re-attaches a block that is already persisted (and was
// validated when first accepted) to the in-memory sequence, without
// re-running consensus checks.
func (c *Chain) AppendStoredBlock(b *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) > 0 {
		last := c.blocks[len(c.blocks)-1]
		if b.PreviousHash != last.Hash {
			return invalidf("stored block %s does not extend tip", b.Hash)
		}
	} else if !types.IsGenesisPrevHash(b.PreviousHash) {
		return ErrNoLocalChain
	}
	c.blocks = append(c.blocks, b)
	return nil
}

// ReplaceChain swaps the local history for a longer, valid, strictly
// heavier candidate. All derived state is wiped and rebuilt by re-persisting
// the candidate block by block; surviving mempool entries are re-admitted.
// A concurrent replacement is a no-op.
func (c *Chain) ReplaceChain(candidate []*types.Block) error {
	if !c.replacing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.replacing.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(candidate) <= len(c.blocks) {
		return ErrChainNotLonger
	}
	if err := ValidateChain(candidate); err != nil {
		return fmt.Errorf("candidate chain: %w", err)
	}
	if CumulativeDifficulty(candidate) <= CumulativeDifficulty(c.blocks) {
		return ErrChainNotHeavier
	}

	minedInCandidate := make(map[string]struct{})
	for _, b := range candidate {
		for _, tx := range b.Transactions {
			minedInCandidate[tx.Hash] = struct{}{}
		}
	}

	if err := c.store.Reset(); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	for _, b := range candidate {
		if err := c.store.SaveBlock(b); err != nil {
			return fmt.Errorf("%w: re-persist block %d: %v", ErrChainInconsistent, b.Index, err)
		}
	}

	oldHeight := len(c.blocks)
	c.blocks = append([]*types.Block(nil), candidate...)

	var surviving []*types.Transaction
	c.pendingHashes = make(map[string]struct{})
	for _, tx := range c.pending {
		if _, mined := minedInCandidate[tx.Hash]; mined {
			continue
		}
		surviving = append(surviving, tx)
		c.pendingHashes[tx.Hash] = struct{}{}
		if err := c.store.UpsertPending(tx); err != nil {
			c.logger.Warn("re-persist pending", zap.String("hash", tx.Hash), zap.Error(err))
		}
	}
	c.pending = surviving

	c.logger.Info("chain replaced",
		zap.Int("old_height", oldHeight),
		zap.Int("new_height", len(candidate)),
	)
	return nil
}

// BalanceOf answers a balance query from the store: native balance plus
// every token balance joined with its symbol. Unknown addresses are all
// zeroes.
func (c *Chain) BalanceOf(addr string) (BalanceInfo, error) {
	native, err := c.store.Balance(addr)
	if err != nil {
		return BalanceInfo{}, fmt.Errorf("native balance: %w", err)
	}
	tokens, err := c.store.TokenBalances(addr)
	if err != nil {
		return BalanceInfo{}, fmt.Errorf("token balances: %w", err)
	}
	return BalanceInfo{Native: native, Tokens: tokens}, nil
}

// CumulativeWork returns the local chain's cumulative difficulty.
func (c *Chain) CumulativeWork() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CumulativeDifficulty(c.blocks)
}

// Start launches the two mining timers: the fixed interval miner and the
// faster poll that mines as soon as anything is pending. Both run until the
// context is done; the mining mutex keeps them from overlapping.
func (c *Chain) Start(ctx context.Context) {
	go c.runMiner(ctx, c.cfg.MiningInterval, false)
	go c.runMiner(ctx, c.cfg.PendingPoll, true)
}

func (c *Chain) runMiner(ctx context.Context, interval time.Duration, onlyWhenPending bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if onlyWhenPending && c.PendingCount() == 0 {
				continue
			}
			block, err := c.MinePendingTransactions(c.cfg.MinerAddress)
			if err != nil {
				c.logger.Error("mining attempt failed", zap.Error(err))
				continue
			}
			if block != nil {
				metrics.BlocksMined.Inc()
			}
		}
	}
}
