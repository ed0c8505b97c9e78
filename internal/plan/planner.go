package plan

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PlanState plan build progression. Failing any step halts the build; there
// is no automatic retry, a retry is a fresh BuildPlan call with a new salt.
type PlanState string

const (
	PlanStateRequested      PlanState = "requested"
	PlanStateLeavesBuilt    PlanState = "leaves_built"
	PlanStateLeavesResolved PlanState = "leaves_resolved"
	PlanStateSigned         PlanState = "signed"
	PlanStateEnvelopesBuilt PlanState = "envelopes_built"
	PlanStateFailed         PlanState = "failed"
)

// RelayTxRequest the transaction shape handed to a relay provider.
type RelayTxRequest struct {
	From          common.Address      `json:"from"`
	To            common.Address      `json:"to"`
	Data          hexutil.Bytes       `json:"data"`
	Value         *hexutil.Big        `json:"value,omitempty"`
	GasLimit      uint64              `json:"gasLimit,omitempty"`
	Authorization *AuthorizationProof `json:"authorization,omitempty"`
}

// RelayTxEnvelope a relay request bound to its chain.
type RelayTxEnvelope struct {
	ChainID uint64         `json:"chainId"`
	Request RelayTxRequest `json:"request"`
}

// LeafPlan a resolved leaf with its Merkle proof and final envelope.
type LeafPlan struct {
	Leaf     ResolvedLeaf
	Proof    []common.Hash
	Envelope RelayTxEnvelope
}

// AccumulatorExecution a destination-side intent scheduled by the plan.
type AccumulatorExecution struct {
	ChainID  uint64
	Intent   AccumulatorIntent
	Envelope RelayTxEnvelope
}

// ExecutionPlan everything needed to submit one user action across chains
// under a single signature. Built per action, never persisted past the
// submission attempt.
type ExecutionPlan struct {
	Account               common.Address
	Salt                  common.Hash
	MerkleRoot            common.Hash
	SigningDigest         common.Hash
	Signature             []byte
	Leaves                []LeafPlan
	EnvelopesByMode       map[Mode][]RelayTxEnvelope
	AccumulatorExecutions []AccumulatorExecution
	State                 PlanState
}

// PlanRequest input to BuildPlan.
type PlanRequest struct {
	Account common.Address
	Leaves  []LeafRequest
}

// Planner composes leaf resolution, Merkle signing and envelope building.
// Plan invocations share no mutable state; two concurrent builds only meet
// at the chain RPC layer.
type Planner struct {
	resolver *Resolver
}

func NewPlanner(chains ChainReader, delegates DelegateResolver) *Planner {
	return &Planner{resolver: NewResolver(chains, delegates)}
}

// BuildPlan resolves every leaf, signs the Merkle root exactly once and
// builds per-chain relay envelopes bucketed by submission mode.
func (p *Planner) BuildPlan(ctx context.Context, req PlanRequest, signer Signer) (*ExecutionPlan, error) {
	if len(req.Leaves) == 0 {
		return nil, ErrEmptyLeaves
	}

	// Fresh salt per plan: structurally identical leaf sets built at
	// different times must not collide.
	salt, err := newSalt()
	if err != nil {
		return nil, fmt.Errorf("draw salt: %w", err)
	}

	plan := &ExecutionPlan{
		Account: req.Account,
		Salt:    salt,
		State:   PlanStateLeavesBuilt,
	}

	resolved, err := p.resolver.ResolveLeaves(ctx, req.Account, salt, req.Leaves, signer)
	if err != nil {
		plan.State = PlanStateFailed
		return nil, err
	}
	plan.State = PlanStateLeavesResolved

	leafHashes := make([]common.Hash, len(resolved))
	for i, leaf := range resolved {
		leafHashes[i] = leaf.Header().LeafHash
	}

	root, proofs, err := BuildMerkleTree(leafHashes)
	if err != nil {
		plan.State = PlanStateFailed
		return nil, err
	}
	plan.MerkleRoot = root
	plan.SigningDigest = SigningDigest(root)

	// The single signer suspension point, after every leaf is resolved.
	signature, err := signer.Sign(ctx, plan.SigningDigest)
	if err != nil {
		plan.State = PlanStateFailed
		return nil, &SigningError{Err: err}
	}
	plan.Signature = signature
	plan.State = PlanStateSigned

	plan.EnvelopesByMode = map[Mode][]RelayTxEnvelope{
		ModeImmediate:  {},
		ModeBackground: {},
		ModeDeferred:   {},
	}
	plan.Leaves = make([]LeafPlan, len(resolved))
	for i, leaf := range resolved {
		envelope := buildEnvelope(req.Account, leaf, salt, proofs[i], signature)
		plan.Leaves[i] = LeafPlan{Leaf: leaf, Proof: proofs[i], Envelope: envelope}
		mode := leaf.Header().Mode
		plan.EnvelopesByMode[mode] = append(plan.EnvelopesByMode[mode], envelope)

		if acc, ok := leaf.(AccumulatorLeaf); ok {
			plan.AccumulatorExecutions = append(plan.AccumulatorExecutions, AccumulatorExecution{
				ChainID:  acc.ChainID,
				Intent:   acc.Intent,
				Envelope: envelope,
			})
		}
	}
	plan.State = PlanStateEnvelopesBuilt

	return plan, nil
}

// BuildFlowPlan is BuildLeafRequests composed with BuildPlan.
func (p *Planner) BuildFlowPlan(ctx context.Context, req FlowRequest, signer Signer) (*ExecutionPlan, error) {
	return p.BuildPlan(ctx, PlanRequest{
		Account: req.Account,
		Leaves:  BuildLeafRequests(req),
	}, signer)
}

// buildEnvelope assembles a leaf's final calldata (struct fields, proof and
// the shared signature) into a self-addressed relay request. A leaf that
// carries initialization wraps its calldata in the bootstrap entry point so
// the submitted transaction starts with the initialization selector.
func buildEnvelope(account common.Address, leaf ResolvedLeaf, salt common.Hash, proof []common.Hash, signature []byte) RelayTxEnvelope {
	header := leaf.Header()

	var data []byte
	var auth *AuthorizationProof
	switch l := leaf.(type) {
	case ExecuteLeaf:
		data = EncodeExecuteCalldata(l.Calls, l.Nonce, salt, proof, signature)
		if l.DidAppendInitializeCall {
			data = EncodeInitializeCalldata(data)
		}
		auth = l.Authorization
	case AccumulatorLeaf:
		data = EncodeAccumulateCalldata(l.Intent, l.Nonce, salt, proof, signature)
	}

	return RelayTxEnvelope{
		ChainID: header.ChainID,
		Request: RelayTxRequest{
			From:          account,
			To:            account,
			Data:          data,
			Authorization: auth,
		},
	}
}

func newSalt() (common.Hash, error) {
	var salt common.Hash
	if _, err := rand.Read(salt[:]); err != nil {
		return common.Hash{}, err
	}
	return salt, nil
}
