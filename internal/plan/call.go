package plan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call one account-level call. Immutable once built.
type Call struct {
	To       common.Address
	ValueWei *big.Int
	Data     []byte
}

// ChainCalls a batch of calls targeting a single chain.
type ChainCalls struct {
	ChainID uint64
	Calls   []Call
}

// AccumulatorIntent destination-side intent settled after the execute leaves
// have landed.
type AccumulatorIntent struct {
	Token     common.Address
	AmountWei *big.Int
	Recipient common.Address
}

// Mode submission bucket for a leaf's relay envelope.
type Mode string

const (
	ModeImmediate  Mode = "immediate"
	ModeBackground Mode = "background"
	ModeDeferred   Mode = "deferred"
)

// LeafPayload is a closed union: ExecutePayload or AccumulatorPayload.
// Every consumer type-switches over both; adding a variant breaks those
// switches on purpose.
type LeafPayload interface {
	isLeafPayload()
}

// ExecutePayload a batch of calls to execute on the leaf's chain.
type ExecutePayload struct {
	Calls []Call
}

// AccumulatorPayload a destination-side accumulator intent.
type AccumulatorPayload struct {
	Intent AccumulatorIntent
}

func (ExecutePayload) isLeafPayload()     {}
func (AccumulatorPayload) isLeafPayload() {}

// LeafRequest one chain-scoped unit of work before resolution.
type LeafRequest struct {
	ChainID uint64
	Mode    Mode
	Payload LeafPayload
}

// FlowRequest a user action spanning several chains with one destination.
type FlowRequest struct {
	Account            common.Address
	DestinationChainID uint64
	Actions            []ChainCalls
	Accumulator        *AccumulatorIntent
	DeferAccumulator   bool
}

// MergeChainActions groups calls by chain id in first-seen order. Two input
// batches for the same chain become one entry with calls concatenated in
// their original relative order, never two.
func MergeChainActions(actions []ChainCalls) []ChainCalls {
	merged := make([]ChainCalls, 0, len(actions))
	index := make(map[uint64]int, len(actions))

	for _, action := range actions {
		if i, seen := index[action.ChainID]; seen {
			merged[i].Calls = append(merged[i].Calls, action.Calls...)
			continue
		}
		index[action.ChainID] = len(merged)
		entry := ChainCalls{ChainID: action.ChainID}
		entry.Calls = append(entry.Calls, action.Calls...)
		merged = append(merged, entry)
	}

	return merged
}

// BuildLeafRequests turns a flow request into leaf requests: the destination
// chain submits immediately, every other chain in the background, and an
// optional accumulator-intent leaf is appended for the destination chain.
func BuildLeafRequests(req FlowRequest) []LeafRequest {
	merged := MergeChainActions(req.Actions)

	leaves := make([]LeafRequest, 0, len(merged)+1)
	for _, action := range merged {
		mode := ModeBackground
		if action.ChainID == req.DestinationChainID {
			mode = ModeImmediate
		}
		leaves = append(leaves, LeafRequest{
			ChainID: action.ChainID,
			Mode:    mode,
			Payload: ExecutePayload{Calls: action.Calls},
		})
	}

	if req.Accumulator != nil {
		mode := ModeImmediate
		if req.DeferAccumulator {
			mode = ModeDeferred
		}
		leaves = append(leaves, LeafRequest{
			ChainID: req.DestinationChainID,
			Mode:    mode,
			Payload: AccumulatorPayload{Intent: *req.Accumulator},
		})
	}

	return leaves
}

// AccumulatorOnlyChains returns, in first-seen order, the chains that carry
// only accumulator-intent leaves. Those chains have no execute leaf for an
// initialization call to piggyback on and need a dedicated bootstrap leaf.
func AccumulatorOnlyChains(leaves []LeafRequest) []uint64 {
	order := make([]uint64, 0, len(leaves))
	hasExecute := make(map[uint64]bool, len(leaves))
	hasAccumulator := make(map[uint64]bool, len(leaves))
	seen := make(map[uint64]bool, len(leaves))

	for _, leaf := range leaves {
		if !seen[leaf.ChainID] {
			seen[leaf.ChainID] = true
			order = append(order, leaf.ChainID)
		}
		switch leaf.Payload.(type) {
		case ExecutePayload:
			hasExecute[leaf.ChainID] = true
		case AccumulatorPayload:
			hasAccumulator[leaf.ChainID] = true
		}
	}

	chains := make([]uint64, 0, len(order))
	for _, chainID := range order {
		if hasAccumulator[chainID] && !hasExecute[chainID] {
			chains = append(chains, chainID)
		}
	}
	return chains
}
