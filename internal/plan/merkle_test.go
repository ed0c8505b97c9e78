package plan

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLeaves(n int) []common.Hash {
	leaves := make([]common.Hash, n)
	for i := range leaves {
		leaves[i] = crypto.Keccak256Hash([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestBuildMerkleTreeEmpty(t *testing.T) {
	_, _, err := BuildMerkleTree(nil)
	assert.Error(t, err)
}

func TestBuildMerkleTreeSingleLeaf(t *testing.T) {
	leaves := testLeaves(1)

	root, proofs, err := BuildMerkleTree(leaves)
	require.NoError(t, err)
	require.Len(t, proofs, 1)

	assert.Equal(t, leaves[0], root)
	assert.Empty(t, proofs[0])
	assert.True(t, VerifyMerkleProof(leaves[0], proofs[0], root))
}

func TestBuildMerkleTreeEveryProofVerifies(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16, 33} {
		t.Run(fmt.Sprintf("%d_leaves", n), func(t *testing.T) {
			leaves := testLeaves(n)

			root, proofs, err := BuildMerkleTree(leaves)
			require.NoError(t, err)
			require.Len(t, proofs, n)

			for i, leaf := range leaves {
				assert.True(t, VerifyMerkleProof(leaf, proofs[i], root), "leaf %d", i)
			}
		})
	}
}

func TestBuildMerkleTreeUniformProofLength(t *testing.T) {
	// Odd levels duplicate the last node, so every proof has the same
	// length: the tree depth.
	leaves := testLeaves(5)

	_, proofs, err := BuildMerkleTree(leaves)
	require.NoError(t, err)

	for i := 1; i < len(proofs); i++ {
		assert.Equal(t, len(proofs[0]), len(proofs[i]))
	}
}

func TestVerifyMerkleProofRejectsWrongLeaf(t *testing.T) {
	leaves := testLeaves(4)

	root, proofs, err := BuildMerkleTree(leaves)
	require.NoError(t, err)

	wrong := crypto.Keccak256Hash([]byte("not-a-leaf"))
	assert.False(t, VerifyMerkleProof(wrong, proofs[0], root))
}

func TestVerifyMerkleProofRejectsForeignProof(t *testing.T) {
	leaves := testLeaves(4)

	root, proofs, err := BuildMerkleTree(leaves)
	require.NoError(t, err)

	// A proof for leaf 1 must not verify leaf 0.
	assert.False(t, VerifyMerkleProof(leaves[0], proofs[1], root))
}
