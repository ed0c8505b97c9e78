package plan

import (
	"errors"
	"fmt"
)

// ErrEmptyLeaves rejects plans over an empty leaf set before any side effect.
var ErrEmptyLeaves = errors.New("plan: empty leaf set")

// ResolutionError an RPC failure while resolving a leaf. Any one of these
// aborts the whole plan; a partially-resolved leaf set is never signed.
type ResolutionError struct {
	ChainID uint64
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("plan: resolving leaf on chain %d: %v", e.ChainID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// SigningError the signer denied or failed the single signing request.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("plan: signing root: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }
