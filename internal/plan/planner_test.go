package plan

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChainReader serves canned code and nonces per chain.
type fakeChainReader struct {
	mu         sync.Mutex
	code       map[uint64][]byte
	nonces     map[uint64]uint64
	codeErr    error
	codeProbes int
}

func newFakeChainReader() *fakeChainReader {
	return &fakeChainReader{
		code:   make(map[uint64][]byte),
		nonces: make(map[uint64]uint64),
	}
}

func (f *fakeChainReader) GetDeployedCode(_ context.Context, chainID uint64, _ common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeProbes++
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return f.code[chainID], nil
}

func (f *fakeChainReader) GetTransactionCount(_ context.Context, chainID uint64, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[chainID], nil
}

func testDelegates(chainID uint64) (common.Address, error) {
	return common.BytesToAddress([]byte{0xDE, byte(chainID)}), nil
}

func newTestSigner(t *testing.T) *LocalSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewLocalSigner(key)
}

// countingSigner wraps a signer and counts digest signatures.
type countingSigner struct {
	inner *LocalSigner
	signs int
}

func (s *countingSigner) Sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	s.signs++
	return s.inner.Sign(ctx, digest)
}

func (s *countingSigner) SignAuthorization(ctx context.Context, chainID uint64, delegate common.Address, nonce uint64) (*AuthorizationProof, error) {
	return s.inner.SignAuthorization(ctx, chainID, delegate, nonce)
}

func deployedChains(ids ...uint64) *fakeChainReader {
	chains := newFakeChainReader()
	for _, id := range ids {
		chains.code[id] = []byte{0x60, 0x80}
	}
	return chains
}

func TestBuildPlanEmptyLeaves(t *testing.T) {
	planner := NewPlanner(newFakeChainReader(), testDelegates)

	_, err := planner.BuildPlan(context.Background(), PlanRequest{}, newTestSigner(t))
	assert.ErrorIs(t, err, ErrEmptyLeaves)
}

func TestBuildPlanSingleSignatureAllProofsVerify(t *testing.T) {
	chains := deployedChains(1, 10, 137)
	planner := NewPlanner(chains, testDelegates)
	signer := &countingSigner{inner: newTestSigner(t)}
	account := signer.inner.Address()

	built, err := planner.BuildPlan(context.Background(), PlanRequest{
		Account: account,
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
			{ChainID: 10, Mode: ModeBackground, Payload: ExecutePayload{Calls: []Call{call(2)}}},
			{ChainID: 137, Mode: ModeBackground, Payload: ExecutePayload{Calls: []Call{call(3)}}},
		},
	}, signer)
	require.NoError(t, err)

	assert.Equal(t, 1, signer.signs)
	assert.Equal(t, PlanStateEnvelopesBuilt, built.State)
	require.Len(t, built.Leaves, 3)

	for i, leaf := range built.Leaves {
		assert.True(t, VerifyMerkleProof(leaf.Leaf.Header().LeafHash, leaf.Proof, built.MerkleRoot), "leaf %d", i)
	}
}

func TestBuildPlanSingleImmediateLeaf(t *testing.T) {
	chains := deployedChains(1)
	planner := NewPlanner(chains, testDelegates)
	signer := newTestSigner(t)

	transferCall := call(7)
	built, err := planner.BuildPlan(context.Background(), PlanRequest{
		Account: signer.Address(),
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{transferCall}}},
		},
	}, signer)
	require.NoError(t, err)

	assert.Len(t, built.Leaves, 1)
	assert.Len(t, built.EnvelopesByMode[ModeImmediate], 1)
	assert.Empty(t, built.EnvelopesByMode[ModeBackground])
	assert.NotEmpty(t, built.Signature)

	// The signature recovers to the signing account over the digest.
	recovered, err := crypto.SigToPub(built.SigningDigest.Bytes(), built.Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), crypto.PubkeyToAddress(*recovered))
}

func TestBuildPlanFreshSaltPerPlan(t *testing.T) {
	chains := deployedChains(1)
	planner := NewPlanner(chains, testDelegates)
	signer := newTestSigner(t)

	req := PlanRequest{
		Account: signer.Address(),
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
		},
	}

	first, err := planner.BuildPlan(context.Background(), req, signer)
	require.NoError(t, err)
	second, err := planner.BuildPlan(context.Background(), req, signer)
	require.NoError(t, err)

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.MerkleRoot, second.MerkleRoot)
}

func TestBuildPlanUndeployedChainCarriesInitialization(t *testing.T) {
	// Chain 42161 has no deployed code: the execute leaf carries the
	// initialization call, its envelope is self-addressed, wrapped in the
	// bootstrap entry point and carries an authorization proof.
	chains := newFakeChainReader()
	planner := NewPlanner(chains, testDelegates)
	signer := newTestSigner(t)
	account := signer.Address()

	built, err := planner.BuildPlan(context.Background(), PlanRequest{
		Account: account,
		Leaves: []LeafRequest{
			{ChainID: 42161, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
		},
	}, signer)
	require.NoError(t, err)
	require.Len(t, built.Leaves, 1)

	leaf, ok := built.Leaves[0].Leaf.(ExecuteLeaf)
	require.True(t, ok)
	assert.True(t, leaf.DidAppendInitializeCall)
	require.NotNil(t, leaf.Authorization)

	authority, err := leaf.Authorization.Authority()
	require.NoError(t, err)
	assert.Equal(t, account, authority)

	env := built.Leaves[0].Envelope
	assert.Equal(t, account, env.Request.From)
	assert.Equal(t, account, env.Request.To)
	assert.True(t, IsInitializeCalldata(env.Request.Data))
	assert.NotNil(t, env.Request.Authorization)
}

func TestBuildPlanDeployedChainSkipsInitialization(t *testing.T) {
	chains := deployedChains(1)
	planner := NewPlanner(chains, testDelegates)
	signer := newTestSigner(t)

	built, err := planner.BuildPlan(context.Background(), PlanRequest{
		Account: signer.Address(),
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
		},
	}, signer)
	require.NoError(t, err)

	leaf, ok := built.Leaves[0].Leaf.(ExecuteLeaf)
	require.True(t, ok)
	assert.False(t, leaf.DidAppendInitializeCall)
	assert.Nil(t, leaf.Authorization)
	assert.False(t, IsInitializeCalldata(built.Leaves[0].Envelope.Request.Data))
}

func TestBuildPlanAccumulatorOnlyChainGetsBootstrapLeaf(t *testing.T) {
	// Chain 137 carries only the accumulator intent and is undeployed, so a
	// dedicated bootstrap execute leaf is appended for it.
	chains := deployedChains(1)
	planner := NewPlanner(chains, testDelegates)
	signer := newTestSigner(t)

	built, err := planner.BuildPlan(context.Background(), PlanRequest{
		Account: signer.Address(),
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
			{ChainID: 137, Mode: ModeBackground, Payload: AccumulatorPayload{Intent: AccumulatorIntent{AmountWei: big.NewInt(5)}}},
		},
	}, signer)
	require.NoError(t, err)
	require.Len(t, built.Leaves, 3)

	bootstrap, ok := built.Leaves[2].Leaf.(ExecuteLeaf)
	require.True(t, ok)
	assert.Equal(t, uint64(137), bootstrap.Header().ChainID)
	assert.True(t, bootstrap.DidAppendInitializeCall)
	assert.NotNil(t, bootstrap.Authorization)

	// The accumulator leaf itself still made it into the plan.
	assert.Len(t, built.AccumulatorExecutions, 1)
}

func TestBuildPlanResolutionFailureAbortsPlan(t *testing.T) {
	chains := newFakeChainReader()
	chains.codeErr = errors.New("rpc down")
	planner := NewPlanner(chains, testDelegates)

	_, err := planner.BuildPlan(context.Background(), PlanRequest{
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
		},
	}, newTestSigner(t))

	var resolutionErr *ResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	assert.Equal(t, uint64(1), resolutionErr.ChainID)
}

func TestBuildPlanSigningFailureAbortsPlan(t *testing.T) {
	chains := deployedChains(1)
	planner := NewPlanner(chains, testDelegates)

	_, err := planner.BuildPlan(context.Background(), PlanRequest{
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
		},
	}, &failingSigner{})

	var signingErr *SigningError
	assert.ErrorAs(t, err, &signingErr)
}

type failingSigner struct{}

func (failingSigner) Sign(context.Context, common.Hash) ([]byte, error) {
	return nil, errors.New("denied")
}

func (failingSigner) SignAuthorization(context.Context, uint64, common.Address, uint64) (*AuthorizationProof, error) {
	return nil, errors.New("denied")
}

func TestBuildPlanSameChainLeavesConsumeConsecutiveNonces(t *testing.T) {
	chains := deployedChains(1)
	chains.nonces[1] = 7
	planner := NewPlanner(chains, testDelegates)
	signer := newTestSigner(t)

	built, err := planner.BuildPlan(context.Background(), PlanRequest{
		Account: signer.Address(),
		Leaves: []LeafRequest{
			{ChainID: 1, Mode: ModeImmediate, Payload: ExecutePayload{Calls: []Call{call(1)}}},
			{ChainID: 1, Mode: ModeImmediate, Payload: AccumulatorPayload{Intent: AccumulatorIntent{AmountWei: big.NewInt(1)}}},
		},
	}, signer)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), built.Leaves[0].Leaf.Header().Nonce)
	assert.Equal(t, uint64(8), built.Leaves[1].Leaf.Header().Nonce)
}
