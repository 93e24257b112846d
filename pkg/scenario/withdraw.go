package scenario

import (
	"context"
	"math/big"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/settlement"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

const withdrawWhole = 4700

// withdrawMinAmountGD is the slippage floor passed with every remote
// withdrawal, in global decimals.
var withdrawMinAmountGD = big.NewInt(10)

// lpBalances is the destination recipient's pooled balance next to the
// source wallet's liquidity tokens.
type lpBalances struct {
	Pooled *big.Int
	LP     *big.Int
}

// WithdrawRemote deposits into srcPool, then burns the liquidity tokens to
// have dstPool pay the withdrawal to a fresh account. The wallet's LP balance
// must fall by the burned amount and the recipient must receive the fee
// estimate. The wallet's LP tokens in srcPool are shared with every deposit
// there, so it runs alone on that pool.
func WithdrawRemote(srcPool, dstPool units.Pool) Scenario {
	return Scenario{
		Name:       pairName("withdrawRemote", srcPool, dstPool),
		SrcChainID: srcPool.ChainID,
		DstChainID: dstPool.ChainID,
		Stage:      1,
		Exclusive:  []string{contractKey(srcPool.ChainID, ledger.PoolName(srcPool.PoolID))},
		Run: func(ctx context.Context, e *Env, r *Report) error {
			return runWithdrawRemote(ctx, e, r, srcPool, dstPool)
		},
	}
}

func runWithdrawRemote(ctx context.Context, e *Env, r *Report, srcPool, dstPool units.Pool) error {
	src, err := e.resolve(ctx, srcPool)
	if err != nil {
		return err
	}
	dst, err := e.resolve(ctx, dstPool)
	if err != nil {
		return err
	}
	route, err := e.Routes.Get(srcPool.ChainID, dstPool.ChainID)
	if err != nil {
		return err
	}

	amountLD := units.Scale(withdrawWhole, src.decimals)
	amountGD, err := e.Units.ToGlobal(ctx, srcPool, amountLD)
	if err != nil {
		return err
	}
	if err := e.requireLiquidity(ctx, src, dst, amountLD); err != nil {
		return err
	}
	if err := e.fund(ctx, dstPool.ChainID, dst.bridge, milliEther(1000)); err != nil {
		return err
	}

	// the wallet needs LP tokens to burn
	depositLD := new(big.Int).Mul(amountLD, big.NewInt(2))
	if err := e.mint(ctx, src, depositLD); err != nil {
		return err
	}
	if err := e.deposit(ctx, src, depositLD, true); err != nil {
		return err
	}

	expected, err := e.expectedCredit(ctx, src, dst, amountLD)
	if err != nil {
		return err
	}
	recipient := e.NewAccount()
	read := func(ctx context.Context) (lpBalances, error) {
		pooled, err := e.tokenBalance(ctx, dst, recipient)
		if err != nil {
			return lpBalances{}, err
		}
		lp, err := ledger.LPBalance(ctx, e.Ledger, srcPool, src.wallet)
		if err != nil {
			return lpBalances{}, err
		}
		return lpBalances{Pooled: pooled, LP: lp}, nil
	}
	before, err := read(ctx)
	if err != nil {
		return err
	}
	r.Set("recipient", recipient.Hex())
	r.Set("expected_pooled", expected)
	r.Set("amount_gd", amountGD)

	e.Logger.InfoWithChain(srcPool.ChainID, "withdrawRemote %s -> %s amount_gd=%s to=%s",
		srcPool, dstPool, amountGD, recipient.Hex())
	seq, err := e.bridgePacket(ctx, srcPool.ChainID, src.bridge, route, "withdrawRemote", milliEther(1000),
		route.SrcChannel,
		new(big.Int).SetUint64(srcPool.PoolID),
		new(big.Int).SetUint64(dstPool.PoolID),
		amountGD,
		withdrawMinAmountGD,
		recipient.Bytes(),
		src.wallet,
	)
	if err != nil {
		return err
	}
	r.Set("sequence", seq)

	lpFloor := new(big.Int).Sub(before.LP, amountGD)
	after, err := poller.WaitFor(ctx, e.pollOptions(0), "withdrawRemote to "+dstPool.String(), read,
		func(b lpBalances) bool {
			return new(big.Int).Sub(b.Pooled, before.Pooled).Cmp(expected) >= 0 && b.LP.Cmp(lpFloor) <= 0
		},
	)
	if after.Pooled != nil {
		r.SetDelta("pooled_delta", before.Pooled, after.Pooled)
		r.SetDelta("lp_delta", before.LP, after.LP)
	}
	if err != nil {
		return err
	}

	if err := settlement.CheckDeltaAtLeast(recipient, contracts.PooledToken, before.Pooled, after.Pooled, expected); err != nil {
		return err
	}
	// burned = before - after
	return settlement.CheckDeltaAtLeast(src.wallet, contracts.Pool, after.LP, before.LP, amountGD)
}
