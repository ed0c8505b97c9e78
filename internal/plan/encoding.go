package plan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// signingDomainTag prefixes the Merkle root before the final digest so a
// root signature can never double as a signature over anything else.
const signingDomainTag = "ExecuteX"

// mustType is a helper function to create an abi.Type from a string
func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid type: %s: %v", t, err))
	}
	return typ
}

var (
	typeAddress    = mustType("address")
	typeUint256    = mustType("uint256")
	typeBytes32    = mustType("bytes32")
	typeBytes      = mustType("bytes")
	typeBytes32Arr = mustType("bytes32[]")

	typeCallArr = func() abi.Type {
		typ, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "data", Type: "bytes"},
		})
		if err != nil {
			panic(fmt.Sprintf("invalid call tuple type: %v", err))
		}
		return typ
	}()

	typeIntent = func() abi.Type {
		typ, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint256"},
			{Name: "recipient", Type: "address"},
		})
		if err != nil {
			panic(fmt.Sprintf("invalid intent tuple type: %v", err))
		}
		return typ
	}()
)

func mustPack(args abi.Arguments, values ...interface{}) []byte {
	packed, err := args.Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("abi pack: %v", err))
	}
	return packed
}

// abiCall mirrors Call with the field names the call tuple expects.
type abiCall struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

func toABICalls(calls []Call) []abiCall {
	out := make([]abiCall, len(calls))
	for i, c := range calls {
		value := c.ValueWei
		if value == nil {
			value = new(big.Int)
		}
		out[i] = abiCall{To: c.To, Value: value, Data: c.Data}
	}
	return out
}

type abiIntent struct {
	Token     common.Address
	Amount    *big.Int
	Recipient common.Address
}

func toABIIntent(intent AccumulatorIntent) abiIntent {
	amount := intent.AmountWei
	if amount == nil {
		amount = new(big.Int)
	}
	return abiIntent{Token: intent.Token, Amount: amount, Recipient: intent.Recipient}
}

// HashCall commits one call: keccak(to, value, keccak(data)).
func HashCall(c Call) common.Hash {
	value := c.ValueWei
	if value == nil {
		value = new(big.Int)
	}
	packed := mustPack(
		abi.Arguments{{Type: typeAddress}, {Type: typeUint256}, {Type: typeBytes32}},
		c.To, value, crypto.Keccak256Hash(c.Data),
	)
	return crypto.Keccak256Hash(packed)
}

// HashCalls commits an ordered call batch.
func HashCalls(calls []Call) common.Hash {
	buf := make([]byte, 0, len(calls)*common.HashLength)
	for _, c := range calls {
		h := HashCall(c)
		buf = append(buf, h.Bytes()...)
	}
	return crypto.Keccak256Hash(buf)
}

// HashIntent commits an accumulator intent.
func HashIntent(intent AccumulatorIntent) common.Hash {
	i := toABIIntent(intent)
	packed := mustPack(
		abi.Arguments{{Type: typeAddress}, {Type: typeUint256}, {Type: typeAddress}},
		i.Token, i.Amount, i.Recipient,
	)
	return crypto.Keccak256Hash(packed)
}

// StructHash binds a leaf payload to its account, chain, nonce and the
// plan-scoped salt. This is the value the on-chain side reconstructs.
func StructHash(account common.Address, chainID uint64, payloadHash common.Hash, nonce uint64, salt common.Hash) common.Hash {
	packed := mustPack(
		abi.Arguments{
			{Type: typeAddress},
			{Type: typeUint256},
			{Type: typeBytes32},
			{Type: typeUint256},
			{Type: typeBytes32},
		},
		account,
		new(big.Int).SetUint64(chainID),
		payloadHash,
		new(big.Int).SetUint64(nonce),
		salt,
	)
	return crypto.Keccak256Hash(packed)
}

// LeafHash is the tree-membership commitment, deliberately one hash removed
// from the struct hash so the signing payload and the tree leaf are never
// the same value.
func LeafHash(structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(structHash.Bytes())
}

// SigningDigest is the single value the user signs, covering every leaf
// through the Merkle root.
func SigningDigest(merkleRoot common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte(signingDomainTag), merkleRoot.Bytes())
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

var (
	// ExecuteSelector heads calldata for execute leaves.
	ExecuteSelector = selector("executeCalls((address,uint256,bytes)[],uint256,bytes32,bytes32[],bytes)")
	// AccumulateSelector heads calldata for accumulator-intent leaves.
	AccumulateSelector = selector("accumulate((address,uint256,address),uint256,bytes32,bytes32[],bytes)")
	// InitializeSelector heads every bootstrap transaction. The gas ledger
	// keys its billing exemption on this prefix.
	InitializeSelector = selector("initializeAccount(bytes)")
)

func proofWords(proof []common.Hash) [][32]byte {
	words := make([][32]byte, len(proof))
	for i, h := range proof {
		words[i] = h
	}
	return words
}

// EncodeExecuteCalldata builds the final calldata for an execute leaf:
// struct fields, the leaf's Merkle proof and the shared plan signature.
func EncodeExecuteCalldata(calls []Call, nonce uint64, salt common.Hash, proof []common.Hash, signature []byte) []byte {
	packed := mustPack(
		abi.Arguments{
			{Type: typeCallArr},
			{Type: typeUint256},
			{Type: typeBytes32},
			{Type: typeBytes32Arr},
			{Type: typeBytes},
		},
		toABICalls(calls),
		new(big.Int).SetUint64(nonce),
		salt,
		proofWords(proof),
		signature,
	)
	return append(append([]byte{}, ExecuteSelector...), packed...)
}

// EncodeAccumulateCalldata builds the final calldata for an accumulator leaf.
func EncodeAccumulateCalldata(intent AccumulatorIntent, nonce uint64, salt common.Hash, proof []common.Hash, signature []byte) []byte {
	packed := mustPack(
		abi.Arguments{
			{Type: typeIntent},
			{Type: typeUint256},
			{Type: typeBytes32},
			{Type: typeBytes32Arr},
			{Type: typeBytes},
		},
		toABIIntent(intent),
		new(big.Int).SetUint64(nonce),
		salt,
		proofWords(proof),
		signature,
	)
	return append(append([]byte{}, AccumulateSelector...), packed...)
}

// EncodeInitializeCalldata builds bootstrap calldata. A non-empty inner
// payload is forwarded to the freshly installed delegate, so a plan whose
// carrier leaf needed initialization still submits as one transaction whose
// calldata begins with the initialization selector.
func EncodeInitializeCalldata(inner []byte) []byte {
	if inner == nil {
		inner = []byte{}
	}
	packed := mustPack(abi.Arguments{{Type: typeBytes}}, inner)
	return append(append([]byte{}, InitializeSelector...), packed...)
}

// IsInitializeCalldata reports whether calldata begins with the
// initialization selector.
func IsInitializeCalldata(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if data[i] != InitializeSelector[i] {
			return false
		}
	}
	return true
}
