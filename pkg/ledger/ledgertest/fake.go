// Package ledgertest provides an in-memory ledger.Client for tests. Read
// results are packed and unpacked through the contract ABI so callers see the
// same Go types a real node would produce.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
)

// ReadFunc produces the output values of a view call.
type ReadFunc func(args []interface{}) ([]interface{}, error)

// SendFunc applies the effect of a transaction to the fake state.
type SendFunc func(value *big.Int, args []interface{}) error

// LogFunc is a SendFunc whose transaction also emits logs.
type LogFunc func(value *big.Int, args []interface{}) ([]*types.Log, error)

// SentTx records a submitted transaction.
type SentTx struct {
	ChainID  int
	Contract common.Address
	Method   string
	Value    *big.Int
	Args     []interface{}
}

type callKey struct {
	chainID  int
	contract common.Address
	method   string
}

type retryKey struct {
	chainID    int
	srcChainID int
	sequence   uint64
}

// Fake is a scriptable ledger.
type Fake struct {
	mu sync.Mutex

	senders     map[int]common.Address
	deployments map[int]ledger.Deployment
	balances    map[int]map[common.Address]*big.Int
	reads       map[callKey]ReadFunc
	sends       map[callKey]LogFunc
	retries     map[retryKey][]byte

	// FailReads makes every read on the chain return a RemoteCallError.
	FailReads map[int]error

	Sent []SentTx
}

var _ ledger.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		senders:     make(map[int]common.Address),
		deployments: make(map[int]ledger.Deployment),
		balances:    make(map[int]map[common.Address]*big.Int),
		reads:       make(map[callKey]ReadFunc),
		sends:       make(map[callKey]LogFunc),
		retries:     make(map[retryKey][]byte),
		FailReads:   make(map[int]error),
	}
}

// AddChain registers a chain with its wallet and deploy report.
func (f *Fake) AddChain(chainID int, sender common.Address, deployment ledger.Deployment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders[chainID] = sender
	f.deployments[chainID] = deployment
	f.balances[chainID] = make(map[common.Address]*big.Int)
}

// OnRead stubs a view call.
func (f *Fake) OnRead(chainID int, contract common.Address, method string, fn ReadFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[callKey{chainID, contract, method}] = fn
}

// OnSend stubs the effect of a transaction.
func (f *Fake) OnSend(chainID int, contract common.Address, method string, fn SendFunc) {
	f.OnSendLogs(chainID, contract, method, func(value *big.Int, args []interface{}) ([]*types.Log, error) {
		return nil, fn(value, args)
	})
}

// OnSendLogs stubs a transaction whose receipt carries the returned logs.
func (f *Fake) OnSendLogs(chainID int, contract common.Address, method string, fn LogFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[callKey{chainID, contract, method}] = fn
}

// AddBalance credits native currency.
func (f *Fake) AddBalance(chainID int, account common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addBalance(chainID, account, amount)
}

func (f *Fake) addBalance(chainID int, account common.Address, amount *big.Int) {
	bals, ok := f.balances[chainID]
	if !ok {
		bals = make(map[common.Address]*big.Int)
		f.balances[chainID] = bals
	}
	cur, ok := bals[account]
	if !ok {
		cur = new(big.Int)
	}
	bals[account] = new(big.Int).Add(cur, amount)
}

// SetRetry stores a pending retry payload; nil clears it.
func (f *Fake) SetRetry(chainID, srcChainID int, sequence uint64, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := retryKey{chainID, srcChainID, sequence}
	if payload == nil {
		delete(f.retries, key)
		return
	}
	f.retries[key] = payload
}

// SentMethods lists submitted methods in order.
func (f *Fake) SentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Sent))
	for i, tx := range f.Sent {
		out[i] = tx.Method
	}
	return out
}

func (f *Fake) Sender(chainID int) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.senders[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ledger.ErrUnknownChain, chainID)
	}
	return addr, nil
}

func (f *Fake) Deployment(chainID int) (ledger.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ledger.ErrUnknownChain, chainID)
	}
	return d, nil
}

func (f *Fake) GetBalance(_ context.Context, chainID int, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailReads[chainID]; err != nil {
		return nil, &ledger.RemoteCallError{ChainID: chainID, Op: "getBalance", Err: err}
	}
	if bal, ok := f.balances[chainID][account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (f *Fake) CallRead(_ context.Context, chainID int, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	fail := f.FailReads[chainID]
	fn, ok := f.reads[callKey{chainID, contract, method}]
	f.mu.Unlock()

	if fail != nil {
		return nil, &ledger.RemoteCallError{ChainID: chainID, Op: "call " + method, Err: fail}
	}
	if !ok {
		return nil, fmt.Errorf("no stub for %s on %s (chain %d)", method, contract.Hex(), chainID)
	}
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not in abi", method)
	}
	if _, err := m.Inputs.Pack(args...); err != nil {
		return nil, fmt.Errorf("bad arguments for %s: %w", method, err)
	}

	values, err := fn(args)
	if err != nil {
		return nil, err
	}
	packed, err := m.Outputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("stub for %s returned values that do not fit the abi: %w", method, err)
	}
	return m.Outputs.Unpack(packed)
}

func (f *Fake) SendAndConfirm(_ context.Context, chainID int, contract common.Address, contractABI abi.ABI, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not in abi", method)
	}
	if _, err := m.Inputs.Pack(args...); err != nil {
		return nil, fmt.Errorf("bad arguments for %s: %w", method, err)
	}

	f.mu.Lock()
	if _, ok := f.senders[chainID]; !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ledger.ErrUnknownChain, chainID)
	}
	f.Sent = append(f.Sent, SentTx{ChainID: chainID, Contract: contract, Method: method, Value: value, Args: args})
	block := int64(len(f.Sent))
	fn := f.sends[callKey{chainID, contract, method}]
	f.mu.Unlock()

	var logs []*types.Log
	if fn != nil {
		var err error
		if logs, err = fn(value, args); err != nil {
			return &types.Receipt{Status: types.ReceiptStatusFailed}, fmt.Errorf("%s: %w", method, ledger.ErrTxReverted)
		}
	}
	for _, l := range logs {
		l.BlockNumber = uint64(block)
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(block), Logs: logs}, nil
}

func (f *Fake) Transfer(_ context.Context, chainID int, to common.Address, value *big.Int) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentTx{ChainID: chainID, Contract: to, Method: "transfer", Value: value})
	f.addBalance(chainID, to, value)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (f *Fake) GetPendingRetryPayload(_ context.Context, chainID, srcChainID int, sequence uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailReads[chainID]; err != nil {
		return nil, &ledger.RemoteCallError{ChainID: chainID, Op: "call revertReceive", Err: err}
	}
	return f.retries[retryKey{chainID, srcChainID, sequence}], nil
}

// FailChain makes every read on chainID fail until cleared with a nil error.
func (f *Fake) FailChain(chainID int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.FailReads, chainID)
		return
	}
	f.FailReads[chainID] = err
}

// PeerPoolInfoValue shapes info the way getPeerPoolInfo returns it.
func PeerPoolInfoValue(info ledger.PeerPoolInfo) interface{} {
	return struct {
		ChainId          *big.Int
		Id               *big.Int
		Weight           *big.Int
		Balance          *big.Int
		TargetBalance    *big.Int
		LastKnownBalance *big.Int
		Credits          *big.Int
		Ready            bool
	}{
		ChainId:          orZero(info.ChainID),
		Id:               orZero(info.ID),
		Weight:           orZero(info.Weight),
		Balance:          orZero(info.Balance),
		TargetBalance:    orZero(info.TargetBalance),
		LastKnownBalance: orZero(info.LastKnownBalance),
		Credits:          orZero(info.Credits),
		Ready:            info.Ready,
	}
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// PacketLog is the SendPacket log an IBC handler emits for a packet sent on
// (port, channel).
func PacketLog(handler common.Address, sequence uint64, port, channel string) *types.Log {
	event := contracts.MustABI(contracts.IBCHandler).Events["SendPacket"]
	height := struct {
		RevisionNumber uint64
		RevisionHeight uint64
	}{}
	data, err := event.Inputs.NonIndexed().Pack(sequence, port, channel, height, uint64(0), []byte{})
	if err != nil {
		panic(fmt.Sprintf("pack SendPacket: %v", err))
	}
	return &types.Log{Address: handler, Topics: []common.Hash{event.ID}, Data: data}
}
