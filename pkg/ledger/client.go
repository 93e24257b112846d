// Package ledger is the harness's only way to talk to a chain: balance and
// contract reads, confirmed transaction submission and the bridge's
// pending-retry view.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrUnknownChain is returned for a chain id with no configured connection.
	ErrUnknownChain = errors.New("unknown chain")
	// ErrUnknownContract is returned when the deploy report has no such entry.
	ErrUnknownContract = errors.New("contract not in deploy report")
	// ErrTxReverted is returned when a transaction has a failed status or is
	// rejected by gas estimation.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrCallReverted is returned when a view call reverts.
	ErrCallReverted = errors.New("call reverted")
)

// RemoteCallError wraps a failure talking to a chain's RPC endpoint.
type RemoteCallError struct {
	ChainID int
	Op      string
	Err     error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("chain %d: %s: %v", e.ChainID, e.Op, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// IsRemoteCallError reports whether err is, or wraps, a RemoteCallError.
func IsRemoteCallError(err error) bool {
	var rce *RemoteCallError
	return errors.As(err, &rce)
}

// Client is the ledger surface scenarios are written against.
type Client interface {
	GetBalance(ctx context.Context, chainID int, account common.Address) (*big.Int, error)
	CallRead(ctx context.Context, chainID int, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	// SendAndConfirm submits a transaction from the chain's wallet and returns
	// its receipt once the configured confirmation depth is reached.
	SendAndConfirm(ctx context.Context, chainID int, contract common.Address, contractABI abi.ABI, method string, value *big.Int, args ...interface{}) (*types.Receipt, error)
	// Transfer sends native currency from the chain's wallet.
	Transfer(ctx context.Context, chainID int, to common.Address, value *big.Int) (*types.Receipt, error)
	// GetPendingRetryPayload returns the raw retry payload the bridge on
	// chainID holds for (srcChainID, sequence). An empty result means nothing
	// is pending.
	GetPendingRetryPayload(ctx context.Context, chainID, srcChainID int, sequence uint64) ([]byte, error)

	Sender(chainID int) (common.Address, error)
	Deployment(chainID int) (Deployment, error)
}

// Deployment maps deploy-report names to addresses.
type Deployment map[string]common.Address

// Lookup returns the address registered under name.
func (d Deployment) Lookup(name string) (common.Address, error) {
	addr, ok := d[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	return addr, nil
}

// PoolName is the deploy-report key of a pool contract.
func PoolName(poolID uint64) string {
	return fmt.Sprintf("Pool%d.Pool", poolID)
}
