package types

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aibtcc/aibtcc-go/internal/merkle"
	"github.com/aibtcc/aibtcc-go/pkg/util"
)

// LegacyGenesisPrevHash is the old genesis marker still accepted on load and
// in incoming chains. New genesis blocks always write the empty form.
const LegacyGenesisPrevHash = "0"

// Block is a header plus its ordered transactions. Transaction order is part
// of consensus: it feeds the Merkle root and the origin-hash derivation.
type Block struct {
	Index        int64
	PreviousHash string // empty for genesis
	Timestamp    int64  // milliseconds since epoch
	Difficulty   int
	Nonce        int64
	MerkleRoot   string
	OriginTxHash string
	Hash         string
	Transactions []*Transaction
}

// NewBlock constructs a block over the given transactions, computing the
// Merkle root, the derived origin hash, and the initial (nonce 0) hash.
func NewBlock(index int64, previousHash string, timestamp int64, txs []*Transaction, difficulty int) *Block {
	b := &Block{
		Index:        index,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Difficulty:   difficulty,
		Transactions: txs,
		MerkleRoot:   ComputeMerkleRoot(txs),
		OriginTxHash: DeriveOriginTxHash(txs),
	}
	b.Hash = b.ComputeHash()
	return b
}

// ComputeMerkleRoot builds the commitment root over the transaction hashes
// in block order.
func ComputeMerkleRoot(txs []*Transaction) string {
	return merkle.Build(TransactionHashes(txs)).Root()
}

// TransactionHashes returns the ordered transaction hashes.
func TransactionHashes(txs []*Transaction) []string {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	return hashes
}

// DeriveOriginTxHash derives the block's origin pointer from its transaction
// set: the last transaction's origin hash when it has one, otherwise the
// second-to-last transaction's, otherwise empty. The reward transaction sits
// last and never carries one, which makes the penultimate lookup the common
// path. Consensus rule; do not simplify.
func DeriveOriginTxHash(txs []*Transaction) string {
	n := len(txs)
	if n == 0 {
		return ""
	}
	if txs[n-1].OriginTxHash != "" {
		return txs[n-1].OriginTxHash
	}
	if n > 1 {
		return txs[n-2].OriginTxHash
	}
	return ""
}

// ComputeHash hashes the UTF-8 concatenation of the header fields, absent
// parts as empty strings and integers in base-10.
func (b *Block) ComputeHash() string {
	preimage := b.PreviousHash +
		strconv.FormatInt(b.Timestamp, 10) +
		b.MerkleRoot +
		strconv.FormatInt(b.Nonce, 10) +
		b.OriginTxHash
	return util.SHA256Hex([]byte(preimage))
}

// Mine increments the nonce until the hash meets the difficulty prefix.
// Single-threaded and CPU-bound; it runs to completion once started. The
// prefix is checked before the first increment so difficulty 0 returns
// immediately.
func (b *Block) Mine() {
	for !b.MeetsDifficulty() {
		b.Nonce++
		b.Hash = b.ComputeHash()
	}
}

// MeetsDifficulty reports whether the hash carries the required number of
// leading hex zeroes.
func (b *Block) MeetsDifficulty() bool {
	return util.HasLeadingZeros(b.Hash, b.Difficulty)
}

// HasValidTransactions checks every transaction: the stored hash must equal
// the recomputed one, and non-rewards must carry a valid signature bound to
// the sender address.
func (b *Block) HasValidTransactions() bool {
	for _, tx := range b.Transactions {
		if tx.ComputeHash() != tx.Hash {
			return false
		}
		if !tx.IsReward() && !tx.IsValid() {
			return false
		}
	}
	return true
}

// IsGenesisPrevHash reports whether prev marks a genesis block: the empty
// form this node writes, or the legacy "0" form accepted on load.
func IsGenesisPrevHash(prev string) bool {
	return prev == "" || prev == LegacyGenesisPrevHash
}

type blockJSON struct {
	Index        int64          `json:"index"`
	PreviousHash *string        `json:"previous_hash"`
	Timestamp    int64          `json:"timestamp"`
	Difficulty   int            `json:"difficulty"`
	Nonce        int64          `json:"nonce"`
	MerkleRoot   string         `json:"merkle_root"`
	OriginTxHash *string        `json:"origin_transaction_hash"`
	Hash         string         `json:"hash"`
	Transactions []*Transaction `json:"transactions"`
}

// MarshalJSON renders the wire form. An absent previous hash (genesis) and
// an absent origin hash serialize as null.
func (b *Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockJSON{
		Index:        b.Index,
		PreviousHash: optStr(b.PreviousHash),
		Timestamp:    b.Timestamp,
		Difficulty:   b.Difficulty,
		Nonce:        b.Nonce,
		MerkleRoot:   b.MerkleRoot,
		OriginTxHash: optStr(b.OriginTxHash),
		Hash:         b.Hash,
		Transactions: b.Transactions,
	})
}

// UnmarshalJSON parses the wire form; a null previous hash becomes the empty
// genesis marker, the legacy "0" form passes through untouched.
func (b *Block) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Difficulty < 0 {
		return fmt.Errorf("negative difficulty %d", in.Difficulty)
	}

	*b = Block{
		Index:        in.Index,
		Timestamp:    in.Timestamp,
		Difficulty:   in.Difficulty,
		Nonce:        in.Nonce,
		MerkleRoot:   in.MerkleRoot,
		Hash:         in.Hash,
		Transactions: in.Transactions,
	}
	if in.PreviousHash != nil {
		b.PreviousHash = *in.PreviousHash
	}
	if in.OriginTxHash != nil {
		b.OriginTxHash = *in.OriginTxHash
	}
	if b.Transactions == nil {
		b.Transactions = []*Transaction{}
	}
	return nil
}
