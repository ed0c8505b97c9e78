package plan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// authorizationMagic is the EIP-7702 signing prefix.
const authorizationMagic = 0x05

// AuthorizationProof one-time, chain-scoped permission for the relay to
// install the delegate on the account. Valid exactly once, until the chain's
// delegate code exists.
type AuthorizationProof struct {
	DelegateAddress common.Address `json:"delegateAddress"`
	ChainID         uint64         `json:"chainId"`
	Nonce           uint64         `json:"nonce"`
	R               *hexutil.Big   `json:"r"`
	S               *hexutil.Big   `json:"s"`
	YParity         uint8          `json:"yParity"`
}

// AuthorizationDigest is the value an account signs to authorize delegate
// installation: keccak(0x05 || rlp(chainId, delegate, nonce)).
func AuthorizationDigest(chainID uint64, delegate common.Address, nonce uint64) (common.Hash, error) {
	payload, err := rlp.EncodeToBytes([]interface{}{chainID, delegate, nonce})
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode authorization payload: %w", err)
	}
	return crypto.Keccak256Hash([]byte{authorizationMagic}, payload), nil
}

// Authority recovers the signing account from the proof.
func (p *AuthorizationProof) Authority() (common.Address, error) {
	if p == nil || p.R == nil || p.S == nil {
		return common.Address{}, fmt.Errorf("authorization proof incomplete")
	}

	digest, err := AuthorizationDigest(p.ChainID, p.DelegateAddress, p.Nonce)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, 65)
	rBytes := (*big.Int)(p.R).Bytes()
	sBytes := (*big.Int)(p.S).Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return common.Address{}, fmt.Errorf("authorization signature component out of range")
	}
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = p.YParity

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover authorization signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
