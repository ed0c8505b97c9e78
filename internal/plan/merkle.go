package plan

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// The tree convention is fixed once and shared by construction and
// verification: pairs hash in sorted byte order, and a level with an odd
// node count duplicates its last node. Sorted pairs make verification
// index-free; duplication keeps every proof exactly tree-depth long.

var errNoLeaves = errors.New("merkle: no leaves")

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a.Bytes(), b.Bytes())
}

// BuildMerkleTree returns the root and, per leaf, the sibling path from leaf
// level to root.
func BuildMerkleTree(leaves []common.Hash) (common.Hash, [][]common.Hash, error) {
	if len(leaves) == 0 {
		return common.Hash{}, nil, errNoLeaves
	}

	proofs := make([][]common.Hash, len(leaves))
	// positions[i] tracks leaf i's node index at the current level.
	positions := make([]int, len(leaves))
	for i := range positions {
		positions[i] = i
	}

	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		for i := range proofs {
			pos := positions[i]
			proofs[i] = append(proofs[i], level[pos^1])
			positions[i] = pos / 2
		}

		next := make([]common.Hash, len(level)/2)
		for j := 0; j < len(level); j += 2 {
			next[j/2] = hashPair(level[j], level[j+1])
		}
		level = next
	}

	return level[0], proofs, nil
}

// VerifyMerkleProof folds a leaf up its sibling path and compares against
// the root.
func VerifyMerkleProof(leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	node := leaf
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node == root
}
