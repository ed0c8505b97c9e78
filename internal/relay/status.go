package relay

import "strings"

// State canonical relay task state. Every provider vocabulary collapses
// onto these seven values.
type State string

const (
	StatePending   State = "pending"
	StateWaiting   State = "waiting"
	StateExecuted  State = "executed"
	StateFailed    State = "failed"
	StateReverted  State = "reverted"
	StateCancelled State = "cancelled"
	StateUnknown   State = "unknown"
)

// Terminal reports whether no further polling can change the state.
func (s State) Terminal() bool {
	switch s {
	case StateExecuted, StateFailed, StateReverted, StateCancelled:
		return true
	default:
		return false
	}
}

// Status a normalized relay task status.
type Status struct {
	ID              string `json:"id"`
	RawStatus       string `json:"rawStatus"`
	State           State  `json:"state"`
	TransactionHash string `json:"transactionHash,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	FailureReason   string `json:"failureReason,omitempty"`
}

// exactStates catches the bare numeric/short codes some providers return.
var exactStates = map[string]State{
	"1":  StateExecuted,
	"0":  StateFailed,
	"ok": StateExecuted,
}

// NormalizeStatus maps an arbitrary provider status onto the canonical set.
// Matching is case-insensitive and keyword based; anything unrecognized maps
// to unknown. It never fails: polling loops must keep waiting on unfamiliar
// provider strings, not crash.
func NormalizeStatus(raw string) State {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return StateUnknown
	}
	if state, ok := exactStates[normalized]; ok {
		return state
	}

	// Order matters: "execution reverted" must land on reverted, not
	// executed.
	switch {
	case strings.Contains(normalized, "revert"):
		return StateReverted
	case strings.Contains(normalized, "cancel"):
		return StateCancelled
	case strings.Contains(normalized, "fail"),
		strings.Contains(normalized, "error"),
		strings.Contains(normalized, "reject"),
		strings.Contains(normalized, "invalid"),
		strings.Contains(normalized, "drop"):
		return StateFailed
	case strings.Contains(normalized, "execut"),
		strings.Contains(normalized, "success"),
		strings.Contains(normalized, "confirm"),
		strings.Contains(normalized, "mined"),
		strings.Contains(normalized, "included"),
		strings.Contains(normalized, "complete"):
		return StateExecuted
	case strings.Contains(normalized, "wait"),
		strings.Contains(normalized, "queue"),
		strings.Contains(normalized, "hold"):
		return StateWaiting
	case strings.Contains(normalized, "pend"),
		strings.Contains(normalized, "submit"),
		strings.Contains(normalized, "process"),
		strings.Contains(normalized, "sent"),
		strings.Contains(normalized, "broadcast"),
		strings.Contains(normalized, "new"):
		return StatePending
	default:
		return StateUnknown
	}
}
