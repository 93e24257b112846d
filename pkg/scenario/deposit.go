package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/settlement"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

const (
	depositWhole = 100000
	// sendCreditLD is a raw local amount, not scaled by decimals.
	sendCreditLD = 3900
)

// ErrNoPeers is returned when a pool lists none of the candidate pools.
var ErrNoPeers = errors.New("pool has no peers among the configured pools")

// Deposit adds liquidity to pool, distributes the resulting credit to every
// peer and waits until the peers' records of pool add up to the deposit.
// It shares the peers' records with SendCredit on the same pool, so the two
// never run together.
func Deposit(pool units.Pool) Scenario {
	return Scenario{
		Name:       poolName("deposit", pool),
		SrcChainID: pool.ChainID,
		DstChainID: pool.ChainID,
		Exclusive:  []string{creditKey(pool)},
		Run: func(ctx context.Context, e *Env, r *Report) error {
			return runCredit(ctx, e, r, pool, true)
		},
	}
}

// SendCredit deposits a small raw amount and requires each peer to receive
// its share.
func SendCredit(pool units.Pool) Scenario {
	return Scenario{
		Name:       poolName("sendCredit", pool),
		SrcChainID: pool.ChainID,
		DstChainID: pool.ChainID,
		Exclusive:  []string{creditKey(pool)},
		Run: func(ctx context.Context, e *Env, r *Report) error {
			return runCredit(ctx, e, r, pool, false)
		},
	}
}

func runCredit(ctx context.Context, e *Env, r *Report, pool units.Pool, aggregate bool) error {
	s, err := e.resolve(ctx, pool)
	if err != nil {
		return err
	}

	amountLD := big.NewInt(sendCreditLD)
	if aggregate {
		amountLD = units.Scale(depositWhole, s.decimals)
	}
	amountGD, err := e.Units.ToGlobal(ctx, pool, amountLD)
	if err != nil {
		return err
	}

	// a pool may list itself as a peer
	peers, err := ledger.PeerPools(ctx, e.Ledger, pool, e.Candidates)
	if err != nil {
		return fmt.Errorf("peer discovery: %w", err)
	}
	if len(peers) == 0 {
		return fmt.Errorf("%s: %w", pool, ErrNoPeers)
	}
	r.Set("peers", len(peers))
	r.Set("amount_gd", amountGD)

	before, err := ledger.ReversePeerBalances(ctx, e.Ledger, pool, peers)
	if err != nil {
		return err
	}

	if err := e.mint(ctx, s, amountLD); err != nil {
		return err
	}
	if err := e.deposit(ctx, s, amountLD, aggregate); err != nil {
		return err
	}

	for _, peer := range peers {
		if err := e.sendCredit(ctx, s, peer); err != nil {
			return fmt.Errorf("credit %s: %w", peer, err)
		}
	}

	done := settlement.PerPeerCreditSettled(before, amountGD)
	interval := time.Duration(0)
	description := "sendCredit on " + pool.String()
	if aggregate {
		done = settlement.CreditsSettled(before, amountGD)
		interval = e.DepositInterval
		description = "deposit credit on " + pool.String()
	}

	after, err := poller.WaitFor(ctx, e.pollOptions(interval), description,
		func(ctx context.Context) ([]*big.Int, error) {
			return ledger.ReversePeerBalances(ctx, e.Ledger, pool, peers)
		},
		done,
	)
	if sum, sumErr := settlement.SumDeltas(before, after); sumErr == nil {
		r.Set("credit_delta", sum)
	}
	return err
}

// deposit adds amountLD of the wallet's tokens to the pool. With delta set, a
// batched pool is made to apply the delta right away.
func (e *Env) deposit(ctx context.Context, s *side, amountLD *big.Int, delta bool) error {
	poolID := new(big.Int).SetUint64(s.pool.PoolID)
	err := e.spend(ctx, s, amountLD, func() error {
		return e.bridgeCall(ctx, s, "deposit", nil, poolID, amountLD, s.wallet)
	})
	if err != nil || !delta {
		return err
	}
	batched, lpMode, err := ledger.Batched(ctx, e.Ledger, s.pool)
	if err != nil {
		return err
	}
	if !batched {
		return nil
	}
	return e.bridgeCall(ctx, s, "callDelta", nil, poolID, lpMode)
}

func (e *Env) sendCredit(ctx context.Context, s *side, peer units.Pool) error {
	srcID := new(big.Int).SetUint64(s.pool.PoolID)
	dstID := new(big.Int).SetUint64(peer.PoolID)
	if peer.ChainID == s.pool.ChainID {
		return e.bridgeCall(ctx, s, "sendCreditInLedger", nil, srcID, dstID)
	}
	route, err := e.Routes.Get(s.pool.ChainID, peer.ChainID)
	if err != nil {
		return err
	}
	fee, err := ledger.RelayerFee(ctx, e.Ledger, s.pool.ChainID, peer.ChainID, contracts.FunctionSendCredit)
	if err != nil {
		return fmt.Errorf("relayer fee: %w", err)
	}
	return e.bridgeCall(ctx, s, "sendCredit", fee, route.SrcChannel, srcID, dstID, s.wallet)
}
