package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrChainInconsistent marks a fatal divergence between persisted and
	// derived state. A node refusing to start, or a miner finding its tip's
	// origin pointer wrong, surfaces this.
	ErrChainInconsistent = errors.New("chain inconsistent")

	// ErrChainNotLonger rejects a replacement candidate that is not strictly
	// longer than the local chain.
	ErrChainNotLonger = errors.New("candidate chain not longer")

	// ErrChainNotHeavier rejects a replacement candidate whose cumulative
	// difficulty does not strictly exceed the local chain's.
	ErrChainNotHeavier = errors.New("candidate chain not heavier")

	// ErrNoLocalChain rejects operations that need at least a genesis block
	// while the node is still waiting for its first sync.
	ErrNoLocalChain = errors.New("no local chain yet")
)

// ValidationError rejects a transaction, block, or chain with a reason.
// Non-fatal: the caller logs it and drops the input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
