package plan

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the slice of chain RPC the resolver needs.
type ChainReader interface {
	GetDeployedCode(ctx context.Context, chainID uint64, account common.Address) ([]byte, error)
	GetTransactionCount(ctx context.Context, chainID uint64, account common.Address) (uint64, error)
}

// DelegateResolver maps a chain id to the delegate contract installed on
// accounts of that chain.
type DelegateResolver func(chainID uint64) (common.Address, error)

// LeafHeader the fields every resolved leaf carries.
type LeafHeader struct {
	ChainID    uint64
	Mode       Mode
	Nonce      uint64
	StructHash common.Hash
	LeafHash   common.Hash
}

func (h LeafHeader) Header() LeafHeader { return h }

// ResolvedLeaf is a closed union: ExecuteLeaf or AccumulatorLeaf.
type ResolvedLeaf interface {
	Header() LeafHeader
	isResolvedLeaf()
}

// ExecuteLeaf a resolved call batch, possibly carrying the chain's
// initialization call and authorization proof.
type ExecuteLeaf struct {
	LeafHeader
	Calls                   []Call
	DidAppendInitializeCall bool
	AuthorizationRequired   bool
	Authorization           *AuthorizationProof
}

// AccumulatorLeaf a resolved accumulator intent.
type AccumulatorLeaf struct {
	LeafHeader
	Intent AccumulatorIntent
}

func (ExecuteLeaf) isResolvedLeaf()     {}
func (AccumulatorLeaf) isResolvedLeaf() {}

// Resolver fetches per-leaf chain state and produces hashed leaves.
type Resolver struct {
	chains    ChainReader
	delegates DelegateResolver
}

func NewResolver(chains ChainReader, delegates DelegateResolver) *Resolver {
	return &Resolver{chains: chains, delegates: delegates}
}

type leafProbe struct {
	code  []byte
	nonce uint64
	err   error
}

// ResolveLeaves fetches nonce and deployment status per leaf (concurrently,
// leaves share no mutable state), designates at most one initialization
// carrier per chain, and computes struct and leaf hashes. Any probe failure
// aborts the whole plan.
func (r *Resolver) ResolveLeaves(ctx context.Context, account common.Address, salt common.Hash, requests []LeafRequest, signer Signer) ([]ResolvedLeaf, error) {
	probes := make([]leafProbe, len(requests))

	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chainID := requests[i].ChainID
			code, err := r.chains.GetDeployedCode(ctx, chainID, account)
			if err != nil {
				probes[i].err = err
				return
			}
			nonce, err := r.chains.GetTransactionCount(ctx, chainID, account)
			if err != nil {
				probes[i].err = err
				return
			}
			probes[i].code = code
			probes[i].nonce = nonce
		}(i)
	}
	wg.Wait()

	for i, probe := range probes {
		if probe.err != nil {
			return nil, &ResolutionError{ChainID: requests[i].ChainID, Err: probe.err}
		}
	}

	// Carrier selection needs the whole-chain view: one leaf per chain
	// carries initialization, execute leaves preferred.
	needsInit := make(map[uint64]bool, len(requests))
	carrier := make(map[uint64]int, len(requests))
	for i, req := range requests {
		if _, seen := needsInit[req.ChainID]; !seen {
			needsInit[req.ChainID] = len(probes[i].code) == 0
		}
		if _, ok := carrier[req.ChainID]; !ok {
			if _, isExecute := requests[i].Payload.(ExecutePayload); isExecute {
				carrier[req.ChainID] = i
			}
		}
	}

	resolved := make([]ResolvedLeaf, 0, len(requests)+1)
	chainLeafCount := make(map[uint64]int, len(requests))

	for i, req := range requests {
		// Leaves sharing a chain consume consecutive nonces.
		nonce := probes[i].nonce + uint64(chainLeafCount[req.ChainID])
		chainLeafCount[req.ChainID]++

		switch payload := req.Payload.(type) {
		case ExecutePayload:
			leaf := ExecuteLeaf{
				Calls: append([]Call(nil), payload.Calls...),
			}
			if needsInit[req.ChainID] && carrier[req.ChainID] == i {
				auth, err := r.signAuthorization(ctx, signer, req.ChainID, nonce)
				if err != nil {
					return nil, err
				}
				initCall := Call{To: account, ValueWei: new(big.Int), Data: EncodeInitializeCalldata(nil)}
				leaf.Calls = append([]Call{initCall}, leaf.Calls...)
				leaf.DidAppendInitializeCall = true
				leaf.AuthorizationRequired = true
				leaf.Authorization = auth
			}
			leaf.LeafHeader = r.header(account, req, nonce, salt, HashCalls(leaf.Calls))
			resolved = append(resolved, leaf)

		case AccumulatorPayload:
			leaf := AccumulatorLeaf{Intent: payload.Intent}
			leaf.LeafHeader = r.header(account, req, nonce, salt, HashIntent(payload.Intent))
			resolved = append(resolved, leaf)
		}
	}

	// Chains carrying only accumulator leaves have no execute leaf to
	// piggyback on; they get a dedicated bootstrap leaf.
	for _, chainID := range AccumulatorOnlyChains(requests) {
		if !needsInit[chainID] {
			continue
		}
		mode := ModeBackground
		var baseNonce uint64
		for i, req := range requests {
			if req.ChainID == chainID {
				mode = req.Mode
				baseNonce = probes[i].nonce
				break
			}
		}
		nonce := baseNonce + uint64(chainLeafCount[chainID])
		chainLeafCount[chainID]++

		auth, err := r.signAuthorization(ctx, signer, chainID, nonce)
		if err != nil {
			return nil, err
		}
		leaf := ExecuteLeaf{
			Calls:                   []Call{{To: account, ValueWei: new(big.Int), Data: EncodeInitializeCalldata(nil)}},
			DidAppendInitializeCall: true,
			AuthorizationRequired:   true,
			Authorization:           auth,
		}
		leaf.LeafHeader = r.header(account, LeafRequest{ChainID: chainID, Mode: mode}, nonce, salt, HashCalls(leaf.Calls))
		resolved = append(resolved, leaf)
	}

	return resolved, nil
}

func (r *Resolver) header(account common.Address, req LeafRequest, nonce uint64, salt common.Hash, payloadHash common.Hash) LeafHeader {
	structHash := StructHash(account, req.ChainID, payloadHash, nonce, salt)
	return LeafHeader{
		ChainID:    req.ChainID,
		Mode:       req.Mode,
		Nonce:      nonce,
		StructHash: structHash,
		LeafHash:   LeafHash(structHash),
	}
}

func (r *Resolver) signAuthorization(ctx context.Context, signer Signer, chainID uint64, nonce uint64) (*AuthorizationProof, error) {
	delegate, err := r.delegates(chainID)
	if err != nil {
		return nil, &ResolutionError{ChainID: chainID, Err: err}
	}
	auth, err := signer.SignAuthorization(ctx, chainID, delegate, nonce)
	if err != nil {
		return nil, &ResolutionError{ChainID: chainID, Err: err}
	}
	return auth, nil
}
