package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/metrics"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
)

// DefaultConfirmations matches the depth the deploy tooling waits for.
const DefaultConfirmations = 3

// Backend is what EthClient needs from a chain connection. Both
// *ethclient.Client and the simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Chain is one connected ledger.
type Chain struct {
	ID         int
	Name       string
	Backend    Backend
	Auth       *bind.TransactOpts
	Deployment Deployment
}

// EthClientConfig tunes submission.
type EthClientConfig struct {
	Confirmations uint64
	// ConfirmInterval is how often the head is polled while waiting for depth.
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
	Logger          logger.Logger
}

// EthClient implements Client over go-ethereum backends.
type EthClient struct {
	chains map[int]*Chain
	nonces *NonceManager
	cfg    EthClientConfig
	mu     sync.RWMutex
}

var _ Client = (*EthClient)(nil)

// NewEthClient creates a client without any chain attached.
func NewEthClient(cfg EthClientConfig) *EthClient {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = &logger.EmptyLogger{}
	}
	return &EthClient{
		chains: make(map[int]*Chain),
		nonces: NewNonceManager(5*time.Minute, cfg.Logger),
		cfg:    cfg,
	}
}

// Dial connects to rpcURL, derives the signer from privateKeyHex and attaches
// the chain under the id the node reports.
func (c *EthClient) Dial(ctx context.Context, name, rpcURL, privateKeyHex string, deployment Deployment) (*Chain, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key for %s: %w", name, err)
	}
	return c.Attach(ctx, name, backend, key, deployment)
}

// Attach registers an existing backend.
func (c *EthClient) Attach(ctx context.Context, name string, backend Backend, key *ecdsa.PrivateKey, deployment Deployment) (*Chain, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID of %s: %w", name, err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor for %s: %w", name, err)
	}

	chain := &Chain{
		ID:         int(chainID.Int64()),
		Name:       name,
		Backend:    backend,
		Auth:       auth,
		Deployment: deployment,
	}

	c.mu.Lock()
	c.chains[chain.ID] = chain
	c.mu.Unlock()

	c.cfg.Logger.InfoWithChain(chain.ID, "attached %s, wallet %s", name, auth.From.Hex())
	return chain, nil
}

// Chain returns an attached chain.
func (c *EthClient) Chain(chainID int) (*Chain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chain, ok := c.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return chain, nil
}

// Chains returns the ids of every attached chain.
func (c *EthClient) Chains() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int, 0, len(c.chains))
	for id := range c.chains {
		ids = append(ids, id)
	}
	return ids
}

func (c *EthClient) Sender(chainID int) (common.Address, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return chain.Auth.From, nil
}

func (c *EthClient) Deployment(chainID int) (Deployment, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}
	return chain.Deployment, nil
}

func (c *EthClient) GetBalance(ctx context.Context, chainID int, account common.Address) (*big.Int, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}
	bal, err := chain.Backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, c.remoteErr(chainID, "getBalance", err)
	}
	return bal, nil
}

func (c *EthClient) CallRead(ctx context.Context, chainID int, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}
	bound := bind.NewBoundContract(contract, contractABI, chain.Backend, chain.Backend, chain.Backend)

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		if IsRevert(err) {
			return nil, fmt.Errorf("chain %d: call %s: %w: %v", chainID, method, ErrCallReverted, err)
		}
		return nil, c.remoteErr(chainID, "call "+method, err)
	}
	return out, nil
}

func (c *EthClient) SendAndConfirm(ctx context.Context, chainID int, contract common.Address, contractABI abi.ABI, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}
	bound := bind.NewBoundContract(contract, contractABI, chain.Backend, chain.Backend, chain.Backend)

	return c.submit(ctx, chain, method, value, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return bound.Transact(opts, method, args...)
	})
}

func (c *EthClient) Transfer(ctx context.Context, chainID int, to common.Address, value *big.Int) (*types.Receipt, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}
	bound := bind.NewBoundContract(to, abi.ABI{}, chain.Backend, chain.Backend, chain.Backend)

	return c.submit(ctx, chain, "transfer", value, bound.Transfer)
}

func (c *EthClient) GetPendingRetryPayload(ctx context.Context, chainID, srcChainID int, sequence uint64) ([]byte, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}
	bridge, err := chain.Deployment.Lookup(contracts.Bridge)
	if err != nil {
		return nil, err
	}
	out, err := c.CallRead(ctx, chainID, bridge, contracts.MustABI(contracts.Bridge), "revertReceive",
		big.NewInt(int64(srcChainID)), sequence)
	if err != nil {
		return nil, err
	}
	payload, ok := out[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("revertReceive returned %T", out[0])
	}
	return payload, nil
}

func (c *EthClient) submit(
	ctx context.Context,
	chain *Chain,
	method string,
	value *big.Int,
	send func(opts *bind.TransactOpts) (*types.Transaction, error),
) (*types.Receipt, error) {
	from := chain.Auth.From
	nonce, err := c.nonces.GetNonce(ctx, chain.ID, chain.Backend, from)
	if err != nil {
		return nil, c.remoteErr(chain.ID, "nonce", err)
	}

	opts := *chain.Auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.Value = value

	tx, err := send(&opts)
	if err != nil {
		c.nonces.ReleaseNonce(chain.ID, from, nonce)
		// gas estimation executes the call, so a revert surfaces here
		if IsRevert(err) {
			return nil, fmt.Errorf("chain %d: %s: %w: %v", chain.ID, method, ErrTxReverted, err)
		}
		return nil, c.remoteErr(chain.ID, "send "+method, err)
	}
	c.nonces.TrackTransaction(chain.ID, from, tx.Hash(), nonce, method)

	receipt, err := bind.WaitMined(ctx, chain.Backend, tx)
	if err != nil {
		return nil, c.remoteErr(chain.ID, "wait "+method, err)
	}
	c.nonces.MarkTransactionConfirmed(chain.ID, from, nonce)
	metrics.GasUsed.WithLabelValues(fmt.Sprintf("%d", chain.ID), method).Observe(float64(receipt.GasUsed))

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain %d: %s %s: %w", chain.ID, method, tx.Hash().Hex(), ErrTxReverted)
	}

	if err := c.waitConfirmations(ctx, chain, receipt); err != nil {
		return receipt, err
	}
	c.cfg.Logger.DebugWithChain(chain.ID, "%s confirmed in block %s: %s", method, receipt.BlockNumber, tx.Hash().Hex())
	return receipt, nil
}

// waitConfirmations blocks until the receipt's block has the configured depth.
// The mined block counts as the first confirmation.
func (c *EthClient) waitConfirmations(ctx context.Context, chain *Chain, receipt *types.Receipt) error {
	if c.cfg.Confirmations <= 1 || receipt.BlockNumber == nil {
		return nil
	}
	target := receipt.BlockNumber.Uint64() + c.cfg.Confirmations - 1

	_, err := poller.WaitFor(ctx, poller.Options{
		Timeout:  c.cfg.ConfirmTimeout,
		Interval: c.cfg.ConfirmInterval,
		Logger:   c.cfg.Logger,
	}, "confirmations",
		func(ctx context.Context) (uint64, error) {
			head, err := chain.Backend.BlockNumber(ctx)
			if err != nil {
				return 0, c.remoteErr(chain.ID, "blockNumber", err)
			}
			return head, nil
		},
		func(head uint64) bool { return head >= target },
	)
	return err
}

// revertCode is the JSON-RPC error code nodes use for execution reverted.
const revertCode = 3

// IsRevert reports whether err is the node refusing to execute a call, as
// opposed to failing to answer. Reverts are domain failures and must not
// count against the chain's health.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertCode {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func (c *EthClient) remoteErr(chainID int, op string, err error) error {
	metrics.RPCErrors.WithLabelValues(fmt.Sprintf("%d", chainID), strings.Fields(op)[0]).Inc()
	return &RemoteCallError{ChainID: chainID, Op: op, Err: err}
}
