// Package store is the authoritative on-disk view of the node: blocks,
// transactions, native and token balances, tokens, and the Merkle commitment
// tables. One bbolt bucket per logical table; rows are CBOR with amounts in
// their canonical 8-digit string form.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/aibtcc/aibtcc-go/internal/merkle"
	"github.com/aibtcc/aibtcc-go/internal/types"
	"github.com/aibtcc/aibtcc-go/pkg/util"
)

var (
	bucketBlocks        = []byte("blocks")
	bucketBlockIndex    = []byte("block_index")
	bucketTransactions  = []byte("transactions")
	bucketBlockTxs      = []byte("block_txs")
	bucketPending       = []byte("pending_transactions")
	bucketBalances      = []byte("address_balances")
	bucketTokens        = []byte("tokens")
	bucketTokenSymbols  = []byte("token_symbols")
	bucketTokenBalances = []byte("token_balances")
	bucketMerkleNodes   = []byte("merkle_nodes")
	bucketProofPaths    = []byte("merkle_proof_paths")
)

var allBuckets = [][]byte{
	bucketBlocks, bucketBlockIndex, bucketTransactions, bucketBlockTxs,
	bucketPending, bucketBalances, bucketTokens, bucketTokenSymbols,
	bucketTokenBalances, bucketMerkleNodes, bucketProofPaths,
}

var (
	// ErrBlockExists is returned when saving a block whose hash is already
	// persisted.
	ErrBlockExists = errors.New("block already exists")

	// ErrDuplicateTransaction is returned when a block carries a transaction
	// hash that is already mined somewhere in the chain.
	ErrDuplicateTransaction = errors.New("transaction already mined")

	// ErrDuplicateSymbol is returned when a token creation reuses a symbol.
	ErrDuplicateSymbol = errors.New("token symbol already exists")

	// ErrNegativeBalance is returned when applying a block would take an
	// address below zero.
	ErrNegativeBalance = errors.New("insufficient balance")

	// ErrUnknownToken is returned when a transfer references a token with no
	// creation row.
	ErrUnknownToken = errors.New("unknown token")

	// ErrNotFound is returned by point lookups that miss.
	ErrNotFound = errors.New("not found")
)

// Store wraps a bbolt database holding the node's persistent state.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path and ensures all buckets exist.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// blockRow is the persisted block header.
type blockRow struct {
	Hash         string `cbor:"1,keyasint"`
	Index        int64  `cbor:"2,keyasint"`
	PreviousHash string `cbor:"3,keyasint"`
	Timestamp    int64  `cbor:"4,keyasint"`
	Nonce        int64  `cbor:"5,keyasint"`
	Difficulty   int    `cbor:"6,keyasint"`
	MerkleRoot   string `cbor:"7,keyasint"`
	OriginTxHash string `cbor:"8,keyasint"`
}

// txRow is a persisted transaction, mined or pending. Amounts are canonical
// 8-digit strings.
type txRow struct {
	Hash             string `cbor:"1,keyasint"`
	FromAddress      string `cbor:"2,keyasint,omitempty"`
	ToAddress        string `cbor:"3,keyasint"`
	Amount           string `cbor:"4,keyasint"`
	Timestamp        int64  `cbor:"5,keyasint"`
	Signature        string `cbor:"6,keyasint,omitempty"`
	PublicKey        string `cbor:"7,keyasint,omitempty"`
	OriginTxHash     string `cbor:"8,keyasint,omitempty"`
	BlockHash        string `cbor:"9,keyasint,omitempty"`
	IndexInBlock     int    `cbor:"10,keyasint,omitempty"`
	TokenID          int64  `cbor:"11,keyasint,omitempty"`
	TokenName        string `cbor:"12,keyasint,omitempty"`
	TokenSymbol      string `cbor:"13,keyasint,omitempty"`
	TokenTotalSupply string `cbor:"14,keyasint,omitempty"`
}

// tokenRow is a persisted token registration.
type tokenRow struct {
	TokenID        int64  `cbor:"1,keyasint"`
	Name           string `cbor:"2,keyasint"`
	Symbol         string `cbor:"3,keyasint"`
	TotalSupply    string `cbor:"4,keyasint"`
	CreatorAddress string `cbor:"5,keyasint"`
	Timestamp      int64  `cbor:"6,keyasint"`
}

// merkleNodeRow is one persisted tree node of a block's commitment tree.
type merkleNodeRow struct {
	Level     int    `cbor:"1,keyasint"`
	Index     int    `cbor:"2,keyasint"`
	Hash      string `cbor:"3,keyasint"`
	LeftHash  string `cbor:"4,keyasint,omitempty"`
	RightHash string `cbor:"5,keyasint,omitempty"`
}

// Token is a registered token as returned by lookups.
type Token struct {
	TokenID        int64
	Name           string
	Symbol         string
	TotalSupply    decimal.Decimal
	CreatorAddress string
	Timestamp      int64
}

// TokenBalance is one row of the per-address token balance view.
type TokenBalance struct {
	TokenID int64
	Symbol  string
	Balance decimal.Decimal
}

func txToRow(t *types.Transaction) txRow {
	row := txRow{
		Hash:         t.Hash,
		FromAddress:  t.FromAddress,
		ToAddress:    t.ToAddress,
		Amount:       t.Amount.StringFixed(types.AmountScale),
		Timestamp:    t.Timestamp,
		Signature:    t.Signature,
		PublicKey:    t.PublicKey,
		OriginTxHash: t.OriginTxHash,
		BlockHash:    t.BlockHash,
		IndexInBlock: t.IndexInBlock,
		TokenID:      t.TokenID,
		TokenName:    t.TokenName,
		TokenSymbol:  t.TokenSymbol,
	}
	if t.TokenTotalSupply.IsPositive() {
		row.TokenTotalSupply = t.TokenTotalSupply.StringFixed(types.AmountScale)
	}
	return row
}

func rowToTx(row txRow) (*types.Transaction, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", row.Amount, err)
	}
	t := &types.Transaction{
		Hash:         row.Hash,
		FromAddress:  row.FromAddress,
		ToAddress:    row.ToAddress,
		Amount:       amount,
		Timestamp:    row.Timestamp,
		Signature:    row.Signature,
		PublicKey:    row.PublicKey,
		OriginTxHash: row.OriginTxHash,
		BlockHash:    row.BlockHash,
		IndexInBlock: row.IndexInBlock,
		TokenID:      row.TokenID,
		TokenName:    row.TokenName,
		TokenSymbol:  row.TokenSymbol,
	}
	if row.TokenTotalSupply != "" {
		supply, err := decimal.NewFromString(row.TokenTotalSupply)
		if err != nil {
			return nil, fmt.Errorf("corrupt token supply %q: %w", row.TokenTotalSupply, err)
		}
		t.TokenTotalSupply = supply
	}
	return t, nil
}

// SaveBlock persists a block and all of its derived state in one bbolt
// transaction: header row and index entry, token registrations, transaction
// rows with block linkage, balance movements, Merkle nodes and per-leaf
// proof paths, and deletion of the now-mined pending rows. A failure rolls
// the whole write back.
func (s *Store) SaveBlock(b *types.Block) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		if blocks.Get([]byte(b.Hash)) != nil {
			return fmt.Errorf("%w: %s", ErrBlockExists, b.Hash)
		}

		row := blockRow{
			Hash:         b.Hash,
			Index:        b.Index,
			PreviousHash: b.PreviousHash,
			Timestamp:    b.Timestamp,
			Nonce:        b.Nonce,
			Difficulty:   b.Difficulty,
			MerkleRoot:   b.MerkleRoot,
			OriginTxHash: b.OriginTxHash,
		}
		raw, err := cbor.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode block row: %w", err)
		}
		if err := blocks.Put([]byte(b.Hash), raw); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBlockIndex).Put(util.Uint64ToBytes(uint64(b.Index)), []byte(b.Hash)); err != nil {
			return err
		}

		txns := tx.Bucket(bucketTransactions)
		blockTxs := tx.Bucket(bucketBlockTxs)
		pending := tx.Bucket(bucketPending)

		for i, t := range b.Transactions {
			if txns.Get([]byte(t.Hash)) != nil {
				return fmt.Errorf("%w: %s", ErrDuplicateTransaction, t.Hash)
			}

			if err := s.applyBalances(tx, t); err != nil {
				return err
			}

			mined := *t
			mined.BlockHash = b.Hash
			mined.IndexInBlock = i
			rowBytes, err := cbor.Marshal(txToRow(&mined))
			if err != nil {
				return fmt.Errorf("encode transaction row: %w", err)
			}
			if err := txns.Put([]byte(t.Hash), rowBytes); err != nil {
				return err
			}
			if err := blockTxs.Put(blockTxKey(b.Hash, i), []byte(t.Hash)); err != nil {
				return err
			}
			if err := pending.Delete([]byte(t.Hash)); err != nil {
				return err
			}
		}

		return s.saveMerkle(tx, b)
	})
}

// applyBalances moves value for one transaction, refusing any movement that
// would leave a negative balance.
func (s *Store) applyBalances(tx *bbolt.Tx, t *types.Transaction) error {
	switch {
	case t.IsTokenCreation():
		if err := s.registerToken(tx, t); err != nil {
			return err
		}
		return adjustBalance(tx.Bucket(bucketTokenBalances), tokenBalanceKey(t.ToAddress, t.TokenID), t.Amount)

	case t.IsTokenTransfer():
		if tx.Bucket(bucketTokens).Get(util.Uint64ToBytes(uint64(t.TokenID))) == nil {
			return fmt.Errorf("%w: id %d", ErrUnknownToken, t.TokenID)
		}
		balances := tx.Bucket(bucketTokenBalances)
		if t.FromAddress != "" {
			if err := adjustBalance(balances, tokenBalanceKey(t.FromAddress, t.TokenID), t.Amount.Neg()); err != nil {
				return fmt.Errorf("token %d from %s: %w", t.TokenID, t.FromAddress, err)
			}
		}
		return adjustBalance(balances, tokenBalanceKey(t.ToAddress, t.TokenID), t.Amount)

	default:
		balances := tx.Bucket(bucketBalances)
		if t.FromAddress != "" {
			if err := adjustBalance(balances, []byte(t.FromAddress), t.Amount.Neg()); err != nil {
				return fmt.Errorf("address %s: %w", t.FromAddress, err)
			}
		}
		return adjustBalance(balances, []byte(t.ToAddress), t.Amount)
	}
}

func (s *Store) registerToken(tx *bbolt.Tx, t *types.Transaction) error {
	symbols := tx.Bucket(bucketTokenSymbols)
	if symbols.Get([]byte(t.TokenSymbol)) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, t.TokenSymbol)
	}

	row := tokenRow{
		TokenID:        t.TokenID,
		Name:           t.TokenName,
		Symbol:         t.TokenSymbol,
		TotalSupply:    t.TokenTotalSupply.StringFixed(types.AmountScale),
		CreatorAddress: t.ToAddress,
		Timestamp:      t.Timestamp,
	}
	raw, err := cbor.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode token row: %w", err)
	}

	key := util.Uint64ToBytes(uint64(t.TokenID))
	if tx.Bucket(bucketTokens).Get(key) != nil {
		return fmt.Errorf("token id %d already registered", t.TokenID)
	}
	if err := tx.Bucket(bucketTokens).Put(key, raw); err != nil {
		return err
	}
	return symbols.Put([]byte(t.TokenSymbol), key)
}

func adjustBalance(bucket *bbolt.Bucket, key []byte, delta decimal.Decimal) error {
	current := decimal.Zero
	if raw := bucket.Get(key); raw != nil {
		parsed, err := decimal.NewFromString(string(raw))
		if err != nil {
			return fmt.Errorf("corrupt balance %q: %w", raw, err)
		}
		current = parsed
	}
	next := current.Add(delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s available, %s required", ErrNegativeBalance,
			current.StringFixed(types.AmountScale), delta.Neg().StringFixed(types.AmountScale))
	}
	return bucket.Put(key, []byte(next.StringFixed(types.AmountScale)))
}

func (s *Store) saveMerkle(tx *bbolt.Tx, b *types.Block) error {
	tree := merkle.Build(types.TransactionHashes(b.Transactions))

	nodes := tx.Bucket(bucketMerkleNodes)
	for _, n := range tree.Nodes() {
		row := merkleNodeRow{Level: n.Level, Index: n.Index, Hash: n.Hash, LeftHash: n.LeftHash, RightHash: n.RightHash}
		raw, err := cbor.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode merkle node: %w", err)
		}
		if err := nodes.Put(merkleNodeKey(b.Hash, n.Level, n.Index), raw); err != nil {
			return err
		}
	}

	proofs := tx.Bucket(bucketProofPaths)
	for i, t := range b.Transactions {
		path := tree.Proof(i)
		if path == nil {
			path = []merkle.ProofStep{}
		}
		raw, err := json.Marshal(path)
		if err != nil {
			return fmt.Errorf("encode proof path: %w", err)
		}
		if err := proofs.Put(proofPathKey(b.Hash, t.Hash), raw); err != nil {
			return err
		}
	}
	return nil
}

func blockTxKey(blockHash string, index int) []byte {
	return append([]byte(blockHash+"/"), util.Uint64ToBytes(uint64(index))...)
}

func tokenBalanceKey(address string, tokenID int64) []byte {
	return append([]byte(address+"/"), util.Uint64ToBytes(uint64(tokenID))...)
}

func merkleNodeKey(blockHash string, level, index int) []byte {
	key := append([]byte(blockHash+"/"), util.Uint64ToBytes(uint64(level))...)
	return append(key, util.Uint64ToBytes(uint64(index))...)
}

func proofPathKey(blockHash, txHash string) []byte {
	return []byte(blockHash + "/" + txHash)
}

// BlockCount returns the number of persisted blocks.
func (s *Store) BlockCount() (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketBlockIndex).Stats().KeyN
		return nil
	})
	return count, err
}

// HasBlock reports whether a block hash is persisted.
func (s *Store) HasBlock(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketBlocks).Get([]byte(hash)) != nil
		return nil
	})
	return found, err
}

// BlockByHash loads one block with its transactions in block order.
func (s *Store) BlockByHash(hash string) (*types.Block, error) {
	var block *types.Block
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := loadBlock(tx, []byte(hash))
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	return block, err
}

// BlockByIndex loads the block at the given height.
func (s *Store) BlockByIndex(index int64) (*types.Block, error) {
	var block *types.Block
	err := s.db.View(func(tx *bbolt.Tx) error {
		hash := tx.Bucket(bucketBlockIndex).Get(util.Uint64ToBytes(uint64(index)))
		if hash == nil {
			return fmt.Errorf("block %d: %w", index, ErrNotFound)
		}
		b, err := loadBlock(tx, hash)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	return block, err
}

func loadBlock(tx *bbolt.Tx, hash []byte) (*types.Block, error) {
	raw := tx.Bucket(bucketBlocks).Get(hash)
	if raw == nil {
		return nil, fmt.Errorf("block %s: %w", hash, ErrNotFound)
	}
	var row blockRow
	if err := cbor.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode block row: %w", err)
	}

	b := &types.Block{
		Hash:         row.Hash,
		Index:        row.Index,
		PreviousHash: row.PreviousHash,
		Timestamp:    row.Timestamp,
		Nonce:        row.Nonce,
		Difficulty:   row.Difficulty,
		MerkleRoot:   row.MerkleRoot,
		OriginTxHash: row.OriginTxHash,
		Transactions: []*types.Transaction{},
	}

	txns := tx.Bucket(bucketTransactions)
	c := tx.Bucket(bucketBlockTxs).Cursor()
	prefix := []byte(row.Hash + "/")
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		rawTx := txns.Get(v)
		if rawTx == nil {
			return nil, fmt.Errorf("transaction %s of block %s: %w", v, row.Hash, ErrNotFound)
		}
		var tr txRow
		if err := cbor.Unmarshal(rawTx, &tr); err != nil {
			return nil, fmt.Errorf("decode transaction row: %w", err)
		}
		t, err := rowToTx(tr)
		if err != nil {
			return nil, err
		}
		b.Transactions = append(b.Transactions, t)
	}
	return b, nil
}

// LoadChain returns every block in ascending index order, each with its
// transactions ordered by index-in-block.
func (s *Store) LoadChain() ([]*types.Block, error) {
	var chain []*types.Block
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBlockIndex).Cursor()
		for k, hash := c.First(); k != nil; k, hash = c.Next() {
			b, err := loadBlock(tx, hash)
			if err != nil {
				return err
			}
			chain = append(chain, b)
		}
		return nil
	})
	return chain, err
}

// HasTransaction reports whether a transaction hash is mined.
func (s *Store) HasTransaction(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketTransactions).Get([]byte(hash)) != nil
		return nil
	})
	return found, err
}

// TransactionByHash loads one mined transaction.
func (s *Store) TransactionByHash(hash string) (*types.Transaction, error) {
	var result *types.Transaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketTransactions).Get([]byte(hash))
		if raw == nil {
			return fmt.Errorf("transaction %s: %w", hash, ErrNotFound)
		}
		var row txRow
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return fmt.Errorf("decode transaction row: %w", err)
		}
		t, err := rowToTx(row)
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
}

// LatestTransactionForAddress returns the most recent outgoing transaction
// from addr or, failing that, the most recent token creation credited to it.
// Used to thread the per-sender origin-hash chain onto a new transaction.
func (s *Store) LatestTransactionForAddress(addr string) (*types.Transaction, error) {
	var outgoing, creation *types.Transaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTransactions).ForEach(func(_, raw []byte) error {
			var row txRow
			if err := cbor.Unmarshal(raw, &row); err != nil {
				return fmt.Errorf("decode transaction row: %w", err)
			}
			t, err := rowToTx(row)
			if err != nil {
				return err
			}
			if t.FromAddress == addr {
				if outgoing == nil || t.Timestamp > outgoing.Timestamp {
					outgoing = t
				}
			}
			if t.ToAddress == addr && t.IsTokenCreation() {
				if creation == nil || t.Timestamp > creation.Timestamp {
					creation = t
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if outgoing != nil {
		return outgoing, nil
	}
	if creation != nil {
		return creation, nil
	}
	return nil, ErrNotFound
}

// UpsertPending writes a pending transaction row, idempotent on hash.
func (s *Store) UpsertPending(t *types.Transaction) error {
	raw, err := cbor.Marshal(txToRow(t))
	if err != nil {
		return fmt.Errorf("encode pending row: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Put([]byte(t.Hash), raw)
	})
}

// DeletePending removes a pending row; deleting a missing row is a no-op.
func (s *Store) DeletePending(hash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Delete([]byte(hash))
	})
}

// LoadPending returns all pending transactions, oldest first.
func (s *Store) LoadPending() ([]*types.Transaction, error) {
	var pending []*types.Transaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(_, raw []byte) error {
			var row txRow
			if err := cbor.Unmarshal(raw, &row); err != nil {
				return fmt.Errorf("decode pending row: %w", err)
			}
			t, err := rowToTx(row)
			if err != nil {
				return err
			}
			pending = append(pending, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Timestamp < pending[j].Timestamp
	})
	return pending, nil
}

// Balance returns the native balance of addr, zero when unknown.
func (s *Store) Balance(addr string) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketBalances).Get([]byte(addr))
		if raw == nil {
			return nil
		}
		parsed, err := decimal.NewFromString(string(raw))
		if err != nil {
			return fmt.Errorf("corrupt balance %q: %w", raw, err)
		}
		balance = parsed
		return nil
	})
	return balance, err
}

// TokenBalances returns every token balance of addr joined with the token
// symbol, keyed by token id.
func (s *Store) TokenBalances(addr string) (map[int64]TokenBalance, error) {
	out := make(map[int64]TokenBalance)
	err := s.db.View(func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(bucketTokens)
		c := tx.Bucket(bucketTokenBalances).Cursor()
		prefix := []byte(addr + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			tokenID := int64(util.BytesToUint64(k[len(prefix):]))
			balance, err := decimal.NewFromString(string(v))
			if err != nil {
				return fmt.Errorf("corrupt token balance %q: %w", v, err)
			}

			symbol := ""
			if raw := tokens.Get(util.Uint64ToBytes(uint64(tokenID))); raw != nil {
				var row tokenRow
				if err := cbor.Unmarshal(raw, &row); err != nil {
					return fmt.Errorf("decode token row: %w", err)
				}
				symbol = row.Symbol
			}
			out[tokenID] = TokenBalance{TokenID: tokenID, Symbol: symbol, Balance: balance}
		}
		return nil
	})
	return out, err
}

// TokenByID loads a token registration.
func (s *Store) TokenByID(id int64) (*Token, error) {
	var token *Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketTokens).Get(util.Uint64ToBytes(uint64(id)))
		if raw == nil {
			return fmt.Errorf("token %d: %w", id, ErrNotFound)
		}
		t, err := decodeToken(raw)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	return token, err
}

// TokenBySymbol loads a token registration by its unique symbol.
func (s *Store) TokenBySymbol(symbol string) (*Token, error) {
	var token *Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketTokenSymbols).Get([]byte(symbol))
		if key == nil {
			return fmt.Errorf("token %q: %w", symbol, ErrNotFound)
		}
		raw := tx.Bucket(bucketTokens).Get(key)
		if raw == nil {
			return fmt.Errorf("token %q: %w", symbol, ErrNotFound)
		}
		t, err := decodeToken(raw)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	return token, err
}

func decodeToken(raw []byte) (*Token, error) {
	var row tokenRow
	if err := cbor.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode token row: %w", err)
	}
	supply, err := decimal.NewFromString(row.TotalSupply)
	if err != nil {
		return nil, fmt.Errorf("corrupt token supply %q: %w", row.TotalSupply, err)
	}
	return &Token{
		TokenID:        row.TokenID,
		Name:           row.Name,
		Symbol:         row.Symbol,
		TotalSupply:    supply,
		CreatorAddress: row.CreatorAddress,
		Timestamp:      row.Timestamp,
	}, nil
}

// ProofPath loads the stored inclusion path of a transaction in a block.
func (s *Store) ProofPath(blockHash, txHash string) ([]merkle.ProofStep, error) {
	var path []merkle.ProofStep
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketProofPaths).Get(proofPathKey(blockHash, txHash))
		if raw == nil {
			return fmt.Errorf("proof for %s in %s: %w", txHash, blockHash, ErrNotFound)
		}
		return json.Unmarshal(raw, &path)
	})
	return path, err
}

// MerkleNodes loads every stored node of a block's commitment tree.
func (s *Store) MerkleNodes(blockHash string) ([]merkle.Node, error) {
	var nodes []merkle.Node
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMerkleNodes).Cursor()
		prefix := []byte(blockHash + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var row merkleNodeRow
			if err := cbor.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode merkle node: %w", err)
			}
			nodes = append(nodes, merkle.Node{
				Level: row.Level, Index: row.Index, Hash: row.Hash,
				LeftHash: row.LeftHash, RightHash: row.RightHash,
			})
		}
		return nil
	})
	return nodes, err
}

// Reset drops and recreates every bucket. Chain replacement wipes all
// derived state and re-persists the incoming blocks through SaveBlock.
func (s *Store) Reset() error {
	s.logger.Info("resetting datastore for chain replacement")
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("drop bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreate bucket %s: %w", name, err)
			}
		}
		return nil
	})
}
