// Package merkle builds the per-block commitment tree over an ordered list
// of transaction hashes and produces inclusion proofs against its root.
//
// Pairing hashes the concatenated hex strings of the two children. A level
// with an odd node count promotes its last node unchanged to the next level
// (no duplication), so that node contributes no proof step at that level.
package merkle

import (
	"github.com/aibtcc/aibtcc-go/pkg/util"
)

// Directions of a proof step, naming which side the current hash is on when
// combined with its sibling.
const (
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Node is one tree node, addressable by (level, index). Level 0 holds the
// leaves; the highest level holds the single root.
type Node struct {
	Level     int    `json:"level"`
	Index     int    `json:"index"`
	Hash      string `json:"hash"`
	LeftHash  string `json:"left_child_hash,omitempty"`
	RightHash string `json:"right_child_hash,omitempty"`
}

// ProofStep is one step of an inclusion path from leaf to root.
type ProofStep struct {
	SiblingHash string `json:"sibling_hash"`
	Direction   string `json:"direction"`
}

// Tree is an immutable Merkle tree built over an ordered leaf list.
type Tree struct {
	levels [][]string
}

// Build constructs the tree for the given ordered leaf hashes.
func Build(leaves []string) *Tree {
	if len(leaves) == 0 {
		return &Tree{}
	}

	levels := [][]string{append([]string(nil), leaves...)}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([]string, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, combine(cur[i], cur[i+1]))
			} else {
				// Odd node: promoted unchanged.
				next = append(next, cur[i])
			}
		}
		levels = append(levels, next)
	}
	return &Tree{levels: levels}
}

// Root returns the root hash, or the all-zero hash for an empty tree.
func (t *Tree) Root() string {
	if len(t.levels) == 0 {
		return util.ZeroHash()
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Nodes returns every node at every level, with child links for interior
// nodes. A promoted node records no children: it is the same hash as its
// single source node one level down.
func (t *Tree) Nodes() []Node {
	var nodes []Node
	for level, row := range t.levels {
		for idx, h := range row {
			n := Node{Level: level, Index: idx, Hash: h}
			if level > 0 {
				below := t.levels[level-1]
				left := idx * 2
				if left+1 < len(below) {
					n.LeftHash = below[left]
					n.RightHash = below[left+1]
				}
			}
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Proof returns the inclusion path for the leaf at index i, ordered leaf to
// root. Levels where the node was promoted unchanged contribute no step.
func (t *Tree) Proof(i int) []ProofStep {
	if len(t.levels) == 0 || i < 0 || i >= len(t.levels[0]) {
		return nil
	}

	var path []ProofStep
	idx := i
	for level := 0; level < len(t.levels)-1; level++ {
		row := t.levels[level]
		if idx%2 == 0 {
			if idx+1 < len(row) {
				path = append(path, ProofStep{SiblingHash: row[idx+1], Direction: DirectionLeft})
			}
			// else: promoted, no step
		} else {
			path = append(path, ProofStep{SiblingHash: row[idx-1], Direction: DirectionRight})
		}
		idx /= 2
	}
	return path
}

// VerifyProof folds a proof path over leafHash and reports whether the
// result equals root.
func VerifyProof(leafHash string, path []ProofStep, root string) bool {
	cur := leafHash
	for _, step := range path {
		switch step.Direction {
		case DirectionLeft:
			cur = combine(cur, step.SiblingHash)
		case DirectionRight:
			cur = combine(step.SiblingHash, cur)
		default:
			return false
		}
	}
	return cur == root
}

func combine(left, right string) string {
	return util.SHA256Hex([]byte(left + right))
}
