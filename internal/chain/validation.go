package chain

import (
	"github.com/aibtcc/aibtcc-go/internal/types"
)

// ValidateChain checks a full chain bottom-up: genesis shape, hash linkage,
// proof-of-work, Merkle agreement, per-transaction validity, and chain-wide
// transaction-hash uniqueness. The genesis hash recompute is skipped to
// tolerate legacy genesis blocks; everything else, the Merkle recompute
// included, applies to every block.
func ValidateChain(blocks []*types.Block) error {
	if len(blocks) == 0 {
		return invalidf("empty chain")
	}

	genesis := blocks[0]
	if genesis.Index != 0 {
		return invalidf("first block has index %d", genesis.Index)
	}
	if !types.IsGenesisPrevHash(genesis.PreviousHash) {
		return invalidf("first block has previous hash %q", genesis.PreviousHash)
	}

	seen := make(map[string]struct{})
	for i, b := range blocks {
		if i > 0 {
			prior := blocks[i-1]
			if b.Index != prior.Index+1 {
				return invalidf("block %d has index %d, want %d", i, b.Index, prior.Index+1)
			}
			if b.PreviousHash != prior.Hash {
				return invalidf("block %d does not link to its predecessor", b.Index)
			}
			if b.ComputeHash() != b.Hash {
				return invalidf("block %d hash does not recompute", b.Index)
			}
		}
		if !b.MeetsDifficulty() {
			return invalidf("block %d hash does not meet difficulty %d", b.Index, b.Difficulty)
		}
		if types.ComputeMerkleRoot(b.Transactions) != b.MerkleRoot {
			return invalidf("block %d merkle root does not recompute", b.Index)
		}
		if !b.HasValidTransactions() {
			return invalidf("block %d carries an invalid transaction", b.Index)
		}
		for _, tx := range b.Transactions {
			if _, dup := seen[tx.Hash]; dup {
				return invalidf("transaction %s appears twice in the chain", tx.Hash)
			}
			seen[tx.Hash] = struct{}{}
		}
	}
	return nil
}

// TokenCreationsFirst stably orders token-creation transactions ahead of
// everything else, so a creation's token row lands before any same-block
// transfer that references it. Applied when assembling a block, before the
// Merkle root commits to the order; a received block is never reordered,
// since its root binds the order it was mined with.
func TokenCreationsFirst(txs []*types.Transaction) []*types.Transaction {
	creations := make([]*types.Transaction, 0, len(txs))
	rest := make([]*types.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.IsTokenCreation() {
			creations = append(creations, tx)
		} else {
			rest = append(rest, tx)
		}
	}
	return append(creations, rest...)
}

// CumulativeDifficulty sums block difficulties: the chain-selection metric.
func CumulativeDifficulty(blocks []*types.Block) int64 {
	var total int64
	for _, b := range blocks {
		total += int64(b.Difficulty)
	}
	return total
}
