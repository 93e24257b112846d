// Package scenario drives end-to-end bridge flows against the connected
// ledgers: submit a transaction, wait for the destination to reconcile, then
// assert on balances and pending retries.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/metrics"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

// DefaultDepositInterval is the poll cadence while credit propagates after a
// deposit.
const DefaultDepositInterval = 3 * time.Second

var (
	// ErrNoRoute is returned when no channel connects two chains.
	ErrNoRoute = errors.New("no channel between chains")
	// ErrInsufficientLiquidity means the source pool cannot cover the transfer
	// until credit has been deposited.
	ErrInsufficientLiquidity = errors.New("insufficient peer pool balance, run the deposit scenario first")
	// ErrUnderfunded means the transaction value cannot cover the fees.
	ErrUnderfunded = errors.New("transaction value below relayer fee plus destination native amount")
)

// Route is the channel pair a packet travels from Src to Dst.
type Route struct {
	SrcPort    string
	SrcChannel string
	DstPort    string
	DstChannel string
}

// Routes indexes routes by (src chain, dst chain).
type Routes map[[2]int]Route

// Get returns the route from src to dst.
func (r Routes) Get(src, dst int) (Route, error) {
	route, ok := r[[2]int{src, dst}]
	if !ok {
		return Route{}, fmt.Errorf("%w: %d -> %d", ErrNoRoute, src, dst)
	}
	return route, nil
}

// ChannelEnd is the end of a channel configured on ChainID, facing PeerChainID.
type ChannelEnd struct {
	ChainID     int
	PeerChainID int
	Port        string
	Channel     string
}

// BuildRoutes pairs channel ends into routes in both directions. An end whose
// peer has no matching end is an error.
func BuildRoutes(ends []ChannelEnd) (Routes, error) {
	index := make(map[[2]int]ChannelEnd, len(ends))
	for _, e := range ends {
		key := [2]int{e.ChainID, e.PeerChainID}
		if _, dup := index[key]; dup {
			return nil, fmt.Errorf("duplicate channel from %d to %d", e.ChainID, e.PeerChainID)
		}
		index[key] = e
	}

	routes := make(Routes, len(ends))
	for key, src := range index {
		dst, ok := index[[2]int{key[1], key[0]}]
		if !ok {
			return nil, fmt.Errorf("%w: chain %d has no channel back to %d", ErrNoRoute, key[1], key[0])
		}
		routes[key] = Route{
			SrcPort:    src.Port,
			SrcChannel: src.Channel,
			DstPort:    dst.Port,
			DstChannel: dst.Channel,
		}
	}
	return routes, nil
}

// Env is everything a scenario needs to talk to the ledgers.
type Env struct {
	Ledger ledger.Client
	Units  *units.Converter
	Routes Routes
	// Candidates are the pools considered during peer discovery.
	Candidates []units.Pool

	Poll            poller.Options
	DepositInterval time.Duration

	Logger logger.Logger

	// NewAccount returns a fresh recipient so concurrent scenarios never
	// observe each other's balance changes.
	NewAccount func() common.Address

	// allowances serializes approve-then-spend per wallet and token, since
	// approve overwrites whatever allowance a concurrent scenario set.
	allowances keyedLocks
}

// NewEnv fills defaults.
func NewEnv(c ledger.Client, routes Routes, candidates []units.Pool, poll poller.Options, log logger.Logger) *Env {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	poll.Logger = log
	return &Env{
		Ledger:          c,
		Units:           units.NewConverter(ledger.Rates{Client: c}),
		Routes:          routes,
		Candidates:      candidates,
		Poll:            poll,
		DepositInterval: DefaultDepositInterval,
		Logger:          log,
		NewAccount:      RandomAccount,
	}
}

// RandomAccount derives an address from a freshly generated key.
func RandomAccount() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(fmt.Sprintf("generate key: %v", err))
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func (e *Env) pollOptions(interval time.Duration) poller.Options {
	opts := e.Poll
	if interval > 0 {
		opts.Interval = interval
	}
	return opts
}

// side is a pool resolved to the contracts a scenario touches.
type side struct {
	pool     units.Pool
	address  common.Address
	token    common.Address
	decimals uint8
	bridge   common.Address
	wallet   common.Address
}

func (e *Env) resolve(ctx context.Context, pool units.Pool) (*side, error) {
	addr, err := ledger.PoolAddress(e.Ledger, pool)
	if err != nil {
		return nil, err
	}
	d, err := e.Ledger.Deployment(pool.ChainID)
	if err != nil {
		return nil, err
	}
	bridge, err := d.Lookup(contracts.Bridge)
	if err != nil {
		return nil, err
	}
	wallet, err := e.Ledger.Sender(pool.ChainID)
	if err != nil {
		return nil, err
	}
	token, err := ledger.PoolToken(ctx, e.Ledger, pool)
	if err != nil {
		return nil, fmt.Errorf("%s: token: %w", pool, err)
	}
	decimals, err := ledger.TokenDecimals(ctx, e.Ledger, pool.ChainID, token)
	if err != nil {
		return nil, fmt.Errorf("%s: decimals: %w", pool, err)
	}
	return &side{
		pool:     pool,
		address:  addr,
		token:    token,
		decimals: decimals,
		bridge:   bridge,
		wallet:   wallet,
	}, nil
}

func (e *Env) contract(chainID int, name string) (common.Address, error) {
	d, err := e.Ledger.Deployment(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return d.Lookup(name)
}

func (e *Env) send(ctx context.Context, chainID int, to common.Address, abiName, method string, value *big.Int, args ...interface{}) error {
	_, err := e.sendTx(ctx, chainID, to, abiName, method, value, args...)
	return err
}

func (e *Env) sendTx(ctx context.Context, chainID int, to common.Address, abiName, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	receipt, err := e.Ledger.SendAndConfirm(ctx, chainID, to, contracts.MustABI(abiName), method, value, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return receipt, nil
}

func (e *Env) bridgeCall(ctx context.Context, s *side, method string, value *big.Int, args ...interface{}) error {
	return e.send(ctx, s.pool.ChainID, s.bridge, contracts.Bridge, method, value, args...)
}

// bridgePacket submits a bridge call that sends a packet over route and
// returns the sequence the destination will receive it under.
func (e *Env) bridgePacket(ctx context.Context, chainID int, bridge common.Address, route Route, method string, value *big.Int, args ...interface{}) (uint64, error) {
	receipt, err := e.sendTx(ctx, chainID, bridge, contracts.Bridge, method, value, args...)
	if err != nil {
		return 0, err
	}
	seq, err := ledger.SentPacketSequence(e.Ledger, chainID, receipt, route.SrcPort, route.SrcChannel)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	return seq, nil
}

// mint creates pseudo tokens for the wallet.
func (e *Env) mint(ctx context.Context, s *side, amount *big.Int) error {
	return e.send(ctx, s.pool.ChainID, s.token, contracts.PooledToken, "mint", nil, s.wallet, amount)
}

// spend approves the bridge for amount and runs pull, which submits the
// transaction consuming the allowance. The wallet's allowance for the token
// is held until pull returns.
func (e *Env) spend(ctx context.Context, s *side, amount *big.Int, pull func() error) error {
	unlock := e.allowances.lock(fmt.Sprintf("%d/%s/%s", s.pool.ChainID, s.token.Hex(), s.wallet.Hex()))
	defer unlock()
	if err := e.approveBridge(ctx, s, amount); err != nil {
		return err
	}
	return pull()
}

// approveBridge lets the bridge pull amount from the wallet. An allowance that
// already covers amount is left alone.
func (e *Env) approveBridge(ctx context.Context, s *side, amount *big.Int) error {
	out, err := e.Ledger.CallRead(ctx, s.pool.ChainID, s.token, contracts.MustABI(contracts.PooledToken), "allowance", s.wallet, s.bridge)
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	if current := out[0].(*big.Int); current.Cmp(amount) >= 0 {
		e.Logger.DebugWithChain(s.pool.ChainID, "allowance %s already covers %s", current, amount)
		return nil
	}
	return e.send(ctx, s.pool.ChainID, s.token, contracts.PooledToken, "approve", nil, s.bridge, amount)
}

// fund tops account up to at least amount of native currency.
func (e *Env) fund(ctx context.Context, chainID int, account common.Address, amount *big.Int) error {
	current, err := e.Ledger.GetBalance(ctx, chainID, account)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	if _, err := e.Ledger.Transfer(ctx, chainID, account, new(big.Int).Sub(amount, current)); err != nil {
		return fmt.Errorf("fund %s: %w", account.Hex(), err)
	}
	return nil
}

func (e *Env) tokenBalance(ctx context.Context, s *side, account common.Address) (*big.Int, error) {
	return ledger.TokenBalance(ctx, e.Ledger, s.pool.ChainID, s.token, account)
}

// balances is the pooled and native balance of one account.
type balances struct {
	Pooled *big.Int
	Native *big.Int
}

func (b balances) String() string {
	return fmt.Sprintf("pooled=%s native=%s", b.Pooled, b.Native)
}

func (e *Env) balancesOf(ctx context.Context, s *side, account common.Address) (balances, error) {
	pooled, err := e.tokenBalance(ctx, s, account)
	if err != nil {
		return balances{}, err
	}
	native, err := e.Ledger.GetBalance(ctx, s.pool.ChainID, account)
	if err != nil {
		return balances{}, err
	}
	return balances{Pooled: pooled, Native: native}, nil
}

// pendingRetry reads and decodes what the destination bridge holds for
// (src chain, sequence). A nil record means nothing is pending.
func (e *Env) pendingRetry(ctx context.Context, dstChainID, srcChainID int, sequence uint64) (retry.Record, []byte, error) {
	payload, err := e.Ledger.GetPendingRetryPayload(ctx, dstChainID, srcChainID, sequence)
	if err != nil {
		return nil, nil, err
	}
	rec, ok, err := retry.DecodePending(payload)
	if err != nil {
		return nil, payload, err
	}
	if !ok {
		return nil, nil, nil
	}
	metrics.RetriesDecoded.WithLabelValues(fmt.Sprintf("%d", dstChainID), rec.Kind().String()).Inc()
	return rec, payload, nil
}

// milliEther is n/1000 of an ether in wei.
func milliEther(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

// minAmount is the 98.8% slippage floor used for every transfer.
func minAmount(amountLD *big.Int) *big.Int {
	out := new(big.Int).Mul(amountLD, big.NewInt(988))
	return out.Quo(out, big.NewInt(1000))
}
