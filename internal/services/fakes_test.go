package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"relay-backend/internal/plan"
	"relay-backend/internal/relay"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeChains implements both chain.Reader and plan.ChainReader.
type fakeChains struct {
	mu          sync.Mutex
	code        map[uint64][]byte
	nonces      map[uint64]uint64
	estimateErr error
	simulateErr error
}

func newFakeChains(deployed ...uint64) *fakeChains {
	f := &fakeChains{
		code:   make(map[uint64][]byte),
		nonces: make(map[uint64]uint64),
	}
	for _, id := range deployed {
		f.code[id] = []byte{0x60, 0x80}
	}
	return f
}

func (f *fakeChains) markDeployed(chainID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[chainID] = []byte{0x60, 0x80}
}

func (f *fakeChains) GetDeployedCode(_ context.Context, chainID uint64, _ common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[chainID], nil
}

func (f *fakeChains) GetTransactionCount(_ context.Context, chainID uint64, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[chainID], nil
}

func (f *fakeChains) GetBlockTimestamp(context.Context, uint64, uint64) (time.Time, error) {
	return time.Unix(1_700_000_000, 0).UTC(), nil
}

func (f *fakeChains) SimulateCall(context.Context, uint64, common.Address, common.Address, []byte) error {
	return f.simulateErr
}

func (f *fakeChains) EstimateGas(context.Context, uint64, common.Address, common.Address, []byte) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 21_000, nil
}

// relayCall one recorded relay client invocation, in call order.
type relayCall struct {
	method  string
	chainID uint64
	request plan.RelayTxRequest
}

// fakeRelay records every call and serves canned statuses and quotes.
type fakeRelay struct {
	mu         sync.Mutex
	calls      []relayCall
	nextID     int
	quoteByTx  int64
	quoteErr   error
	sendErr    error
	syncErr    error
	failAfter  int // fail sends once this many have succeeded; <0 disables
	statuses   map[string][]relay.Status
	statusErr  error
	onSync     func(chainID uint64, req plan.RelayTxRequest)
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		quoteByTx: 1_000_000,
		failAfter: -1,
		statuses:  make(map[string][]relay.Status),
	}
}

func (f *fakeRelay) record(method string, chainID uint64, req plan.RelayTxRequest) {
	f.calls = append(f.calls, relayCall{method: method, chainID: chainID, request: req})
}

func (f *fakeRelay) callsOf(method string) []relayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []relayCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRelay) sendCount() int {
	return len(f.callsOf("send")) + len(f.callsOf("sendSync"))
}

func (f *fakeRelay) newResult() relay.SubmitResult {
	f.nextID++
	return relay.SubmitResult{
		ID:              fmt.Sprintf("relay-%d", f.nextID),
		TransactionHash: fmt.Sprintf("0x%064x", f.nextID),
	}
}

func (f *fakeRelay) SendTransaction(_ context.Context, chainID uint64, req plan.RelayTxRequest) (relay.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return relay.SubmitResult{}, f.sendErr
	}
	if f.failAfter >= 0 && f.nextID >= f.failAfter {
		return relay.SubmitResult{}, fmt.Errorf("provider unavailable")
	}
	f.record("send", chainID, req)
	return f.newResult(), nil
}

func (f *fakeRelay) SendTransactionSync(_ context.Context, chainID uint64, req plan.RelayTxRequest) (relay.SubmitResult, error) {
	f.mu.Lock()
	if f.syncErr != nil {
		f.mu.Unlock()
		return relay.SubmitResult{}, f.syncErr
	}
	if f.failAfter >= 0 && f.nextID >= f.failAfter {
		f.mu.Unlock()
		return relay.SubmitResult{}, fmt.Errorf("provider unavailable")
	}
	f.record("sendSync", chainID, req)
	result := f.newResult()
	onSync := f.onSync
	f.mu.Unlock()

	if onSync != nil {
		onSync(chainID, req)
	}
	return result, nil
}

func (f *fakeRelay) GetStatus(_ context.Context, chainID uint64, id string) (relay.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getStatus", chainID, plan.RelayTxRequest{})
	if f.statusErr != nil {
		return relay.Status{}, f.statusErr
	}

	queue := f.statuses[id]
	if len(queue) == 0 {
		return relay.Status{ID: id, RawStatus: "EXECUTED", State: relay.StateExecuted}, nil
	}
	status := queue[0]
	if len(queue) > 1 {
		f.statuses[id] = queue[1:]
	}
	return status, nil
}

func (f *fakeRelay) GetFeeQuote(_ context.Context, chainID uint64, req plan.RelayTxRequest) (relay.FeeQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getFeeQuote", chainID, req)
	if f.quoteErr != nil {
		return relay.FeeQuote{}, f.quoteErr
	}
	return relay.FeeQuote{TotalMicros: f.quoteByTx, GasLimit: 100_000}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testSigner(t *testing.T) *plan.LocalSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return plan.NewLocalSigner(key)
}

func testDelegates(chainID uint64) (common.Address, error) {
	return common.BytesToAddress([]byte{0xDE, byte(chainID)}), nil
}

// bootstrapTx builds a valid self-addressed initialization transaction for
// the signer's account.
func bootstrapTx(t *testing.T, signer *plan.LocalSigner, chainID uint64) ChainTx {
	t.Helper()
	auth, err := signer.SignAuthorization(context.Background(), chainID, common.BytesToAddress([]byte{0xDE}), 0)
	require.NoError(t, err)

	account := signer.Address()
	return ChainTx{
		ChainID: chainID,
		Request: plan.RelayTxRequest{
			From:          account,
			To:            account,
			Data:          plan.EncodeInitializeCalldata(nil),
			Authorization: auth,
		},
	}
}

// plainTx builds an ordinary billed transaction from the account.
func plainTx(account common.Address, chainID uint64) ChainTx {
	return ChainTx{
		ChainID: chainID,
		Request: plan.RelayTxRequest{
			From: account,
			To:   common.BytesToAddress([]byte{0x99}),
			Data: []byte{0xAB, 0xCD},
		},
	}
}
