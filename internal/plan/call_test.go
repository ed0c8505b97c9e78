package plan

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(tag byte) Call {
	return Call{
		To:       common.BytesToAddress([]byte{tag}),
		ValueWei: big.NewInt(int64(tag)),
		Data:     []byte{tag},
	}
}

func TestMergeChainActionsSameChain(t *testing.T) {
	a, b, c := call(1), call(2), call(3)

	merged := MergeChainActions([]ChainCalls{
		{ChainID: 10, Calls: []Call{a, b}},
		{ChainID: 10, Calls: []Call{c}},
	})

	require.Len(t, merged, 1)
	assert.Equal(t, uint64(10), merged[0].ChainID)
	assert.Equal(t, []Call{a, b, c}, merged[0].Calls)
}

func TestMergeChainActionsFirstSeenOrder(t *testing.T) {
	merged := MergeChainActions([]ChainCalls{
		{ChainID: 42161, Calls: []Call{call(1)}},
		{ChainID: 1, Calls: []Call{call(2)}},
		{ChainID: 42161, Calls: []Call{call(3)}},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, uint64(42161), merged[0].ChainID)
	assert.Equal(t, uint64(1), merged[1].ChainID)
	assert.Len(t, merged[0].Calls, 2)
	assert.Len(t, merged[1].Calls, 1)
}

func TestMergeChainActionsDoesNotAliasInput(t *testing.T) {
	input := []ChainCalls{{ChainID: 1, Calls: []Call{call(1), call(2)}}}

	merged := MergeChainActions(input)
	merged[0].Calls[0] = call(9)

	assert.Equal(t, call(1), input[0].Calls[0])
}

func TestBuildLeafRequestsDestinationImmediate(t *testing.T) {
	leaves := BuildLeafRequests(FlowRequest{
		DestinationChainID: 1,
		Actions: []ChainCalls{
			{ChainID: 137, Calls: []Call{call(1)}},
			{ChainID: 1, Calls: []Call{call(2)}},
		},
	})

	require.Len(t, leaves, 2)
	assert.Equal(t, ModeBackground, leaves[0].Mode)
	assert.Equal(t, ModeImmediate, leaves[1].Mode)
}

func TestBuildLeafRequestsAccumulatorAppended(t *testing.T) {
	intent := AccumulatorIntent{
		Token:     common.BytesToAddress([]byte{0xAA}),
		AmountWei: big.NewInt(100),
		Recipient: common.BytesToAddress([]byte{0xBB}),
	}

	leaves := BuildLeafRequests(FlowRequest{
		DestinationChainID: 1,
		Actions:            []ChainCalls{{ChainID: 1, Calls: []Call{call(1)}}},
		Accumulator:        &intent,
	})

	require.Len(t, leaves, 2)
	last := leaves[len(leaves)-1]
	assert.Equal(t, uint64(1), last.ChainID)
	assert.Equal(t, ModeImmediate, last.Mode)
	payload, ok := last.Payload.(AccumulatorPayload)
	require.True(t, ok)
	assert.Equal(t, intent, payload.Intent)
}

func TestBuildLeafRequestsDeferredAccumulator(t *testing.T) {
	intent := AccumulatorIntent{AmountWei: big.NewInt(1)}

	leaves := BuildLeafRequests(FlowRequest{
		DestinationChainID: 1,
		Actions:            []ChainCalls{{ChainID: 1, Calls: []Call{call(1)}}},
		Accumulator:        &intent,
		DeferAccumulator:   true,
	})

	assert.Equal(t, ModeDeferred, leaves[len(leaves)-1].Mode)
}

func TestAccumulatorOnlyChains(t *testing.T) {
	leaves := []LeafRequest{
		{ChainID: 1, Payload: ExecutePayload{}},
		{ChainID: 1, Payload: AccumulatorPayload{}},
		{ChainID: 137, Payload: AccumulatorPayload{}},
		{ChainID: 10, Payload: ExecutePayload{}},
	}

	assert.Equal(t, []uint64{137}, AccumulatorOnlyChains(leaves))
}
