package merkle

import (
	"fmt"
	"strings"
	"testing"

	"github.com/aibtcc/aibtcc-go/pkg/util"
)

func leaves(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = util.SHA256Hex([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

func TestEmptyTree(t *testing.T) {
	tree := Build(nil)
	if tree.Root() != strings.Repeat("0", 64) {
		t.Errorf("empty root = %s, want all zeros", tree.Root())
	}
	if tree.LeafCount() != 0 {
		t.Errorf("leaf count = %d, want 0", tree.LeafCount())
	}
	if tree.Proof(0) != nil {
		t.Error("proof on empty tree should be nil")
	}
}

func TestSingleLeaf(t *testing.T) {
	l := leaves(1)
	tree := Build(l)
	if tree.Root() != l[0] {
		t.Errorf("single-leaf root = %s, want the leaf itself", tree.Root())
	}
	if len(tree.Proof(0)) != 0 {
		t.Error("single-leaf proof should be empty")
	}
	if !VerifyProof(l[0], nil, tree.Root()) {
		t.Error("empty proof should verify against the leaf root")
	}
}

func TestTwoLeaves(t *testing.T) {
	l := leaves(2)
	tree := Build(l)

	want := util.SHA256Hex([]byte(l[0] + l[1]))
	if tree.Root() != want {
		t.Errorf("root = %s, want %s", tree.Root(), want)
	}

	p0 := tree.Proof(0)
	if len(p0) != 1 || p0[0].Direction != DirectionLeft || p0[0].SiblingHash != l[1] {
		t.Errorf("proof for leaf 0 = %+v", p0)
	}
	p1 := tree.Proof(1)
	if len(p1) != 1 || p1[0].Direction != DirectionRight || p1[0].SiblingHash != l[0] {
		t.Errorf("proof for leaf 1 = %+v", p1)
	}
}

func TestOddLeafPromotion(t *testing.T) {
	l := leaves(3)
	tree := Build(l)

	// Level 1: [h(0+1), l2 promoted]; root = h(h(0+1) + l2)
	inner := util.SHA256Hex([]byte(l[0] + l[1]))
	want := util.SHA256Hex([]byte(inner + l[2]))
	if tree.Root() != want {
		t.Errorf("root = %s, want %s", tree.Root(), want)
	}

	// The promoted leaf skips level 0: its proof has one fewer step.
	if got := len(tree.Proof(0)); got != 2 {
		t.Errorf("proof length for leaf 0 = %d, want 2", got)
	}
	if got := len(tree.Proof(2)); got != 1 {
		t.Errorf("proof length for promoted leaf = %d, want 1", got)
	}
}

func TestProofsVerifyForAllLeaves(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13} {
		l := leaves(n)
		tree := Build(l)
		for i, leaf := range l {
			if !VerifyProof(leaf, tree.Proof(i), tree.Root()) {
				t.Errorf("n=%d: proof for leaf %d did not verify", n, i)
			}
		}
	}
}

func TestTamperedProofFails(t *testing.T) {
	l := leaves(5)
	tree := Build(l)

	for i := range l {
		path := tree.Proof(i)
		if len(path) == 0 {
			continue
		}

		// Flip one byte of a sibling hash.
		bad := append([]ProofStep(nil), path...)
		sib := []byte(bad[0].SiblingHash)
		if sib[0] == 'a' {
			sib[0] = 'b'
		} else {
			sib[0] = 'a'
		}
		bad[0].SiblingHash = string(sib)
		if VerifyProof(l[i], bad, tree.Root()) {
			t.Errorf("leaf %d: tampered sibling verified", i)
		}

		// Flip a direction.
		bad = append([]ProofStep(nil), path...)
		if bad[0].Direction == DirectionLeft {
			bad[0].Direction = DirectionRight
		} else {
			bad[0].Direction = DirectionLeft
		}
		if VerifyProof(l[i], bad, tree.Root()) {
			t.Errorf("leaf %d: flipped direction verified", i)
		}
	}

	// Unknown direction is a hard fail.
	if VerifyProof(l[0], []ProofStep{{SiblingHash: l[1], Direction: "up"}}, tree.Root()) {
		t.Error("unknown direction verified")
	}
}

func TestNodes(t *testing.T) {
	l := leaves(3)
	tree := Build(l)
	nodes := tree.Nodes()

	// 3 leaves + 2 at level 1 + 1 root
	if len(nodes) != 6 {
		t.Fatalf("node count = %d, want 6", len(nodes))
	}

	byLevelIndex := make(map[[2]int]Node)
	for _, n := range nodes {
		byLevelIndex[[2]int{n.Level, n.Index}] = n
	}

	root := byLevelIndex[[2]int{2, 0}]
	if root.Hash != tree.Root() {
		t.Error("top node is not the root")
	}
	if root.LeftHash == "" || root.RightHash == "" {
		t.Error("root should record both children")
	}

	// The promoted node at level 1 has no children links.
	promoted := byLevelIndex[[2]int{1, 1}]
	if promoted.Hash != l[2] {
		t.Errorf("promoted node hash = %s, want leaf 2", promoted.Hash)
	}
	if promoted.LeftHash != "" || promoted.RightHash != "" {
		t.Error("promoted node should not record children")
	}
}
