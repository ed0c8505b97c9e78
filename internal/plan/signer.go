package plan

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the opaque signing capability a plan consumes. The production
// deployment backs this with the user's passkey flow; tools and tests use
// LocalSigner.
type Signer interface {
	// Sign signs the plan's signing digest. Invoked at most once per plan.
	Sign(ctx context.Context, digest common.Hash) ([]byte, error)
	// SignAuthorization issues the one-time delegate-installation proof for
	// a chain.
	SignAuthorization(ctx context.Context, chainID uint64, delegate common.Address, nonce uint64) (*AuthorizationProof, error)
}

// LocalSigner signs with an in-process ECDSA key.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

// Address returns the signing account.
func (s *LocalSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *LocalSigner) Sign(_ context.Context, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

func (s *LocalSigner) SignAuthorization(_ context.Context, chainID uint64, delegate common.Address, nonce uint64) (*AuthorizationProof, error) {
	digest, err := AuthorizationDigest(chainID, delegate, nonce)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}

	return &AuthorizationProof{
		DelegateAddress: delegate,
		ChainID:         chainID,
		Nonce:           nonce,
		R:               (*hexutil.Big)(new(big.Int).SetBytes(sig[:32])),
		S:               (*hexutil.Big)(new(big.Int).SetBytes(sig[32:64])),
		YParity:         sig[64],
	}, nil
}
