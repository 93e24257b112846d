package scenario

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/settlement"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

const transferWhole = 4700

// transferRequest is one transferPool call.
type transferRequest struct {
	amountLD *big.Int
	to       common.Address
	refuel   *big.Int
	external retry.ExternalInfo
	value    *big.Int
}

// submitTransfer approves and sends one transferPool and returns the packet's
// sequence.
func (e *Env) submitTransfer(ctx context.Context, src, dst *side, route Route, req transferRequest) (uint64, error) {
	external := req.external
	if external.Payload == nil {
		external.Payload = []byte{}
	}
	if external.DstOuterGas == nil {
		external.DstOuterGas = new(big.Int)
	}
	e.Logger.InfoWithChain(src.pool.ChainID, "transferPool %s -> %s amount=%s refuel=%s to=%s",
		src.pool, dst.pool, req.amountLD, req.refuel, req.to.Hex())

	var seq uint64
	err := e.spend(ctx, src, req.amountLD, func() error {
		var err error
		seq, err = e.bridgePacket(ctx, src.pool.ChainID, src.bridge, route, "transferPool", req.value,
			route.SrcChannel,
			new(big.Int).SetUint64(src.pool.PoolID),
			new(big.Int).SetUint64(dst.pool.PoolID),
			req.amountLD,
			minAmount(req.amountLD),
			req.to.Bytes(),
			req.refuel,
			external,
			src.wallet,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.Logger.DebugWithChain(src.pool.ChainID, "transferPool sent as sequence %d", seq)
	return seq, nil
}

// expectedCredit is the fee estimate for amountLD converted to the
// destination's local decimals.
func (e *Env) expectedCredit(ctx context.Context, src, dst *side, amountLD *big.Int) (*big.Int, error) {
	fee, err := ledger.CalcFee(ctx, e.Ledger, src.pool, dst.pool, src.wallet, amountLD)
	if err != nil {
		return nil, fmt.Errorf("calcFee: %w", err)
	}
	return e.Units.ToLocal(ctx, dst.pool, fee.AmountGD)
}

// requireLiquidity fails when src has not been credited enough by dst to send
// amountLD.
func (e *Env) requireLiquidity(ctx context.Context, src, dst *side, amountLD *big.Int) error {
	amountGD, err := e.Units.ToGlobal(ctx, src.pool, amountLD)
	if err != nil {
		return err
	}
	info, err := ledger.GetPeerPoolInfo(ctx, e.Ledger, src.pool, dst.pool)
	if err != nil {
		return err
	}
	if info.Balance.Cmp(amountGD) < 0 {
		return fmt.Errorf("%w: %s holds %s for %s, need %s",
			ErrInsufficientLiquidity, src.pool, info.Balance, dst.pool, amountGD)
	}
	return nil
}

// TransferPool moves pooled tokens to a fresh account on dst with a refuel and
// waits for both to arrive.
func TransferPool(srcPool, dstPool units.Pool) Scenario {
	return Scenario{
		Name:       pairName("transferPool", srcPool, dstPool),
		SrcChainID: srcPool.ChainID,
		DstChainID: dstPool.ChainID,
		Stage:      1,
		Run: func(ctx context.Context, e *Env, r *Report) error {
			return runTransferPool(ctx, e, r, srcPool, dstPool)
		},
	}
}

func runTransferPool(ctx context.Context, e *Env, r *Report, srcPool, dstPool units.Pool) error {
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

	amountLD := units.Scale(transferWhole, src.decimals)
	refuel := milliEther(10)
	if err := e.requireLiquidity(ctx, src, dst, amountLD); err != nil {
		return err
	}

	if err := e.mint(ctx, src, amountLD); err != nil {
		return err
	}
	if err := e.fund(ctx, dstPool.ChainID, dst.bridge, milliEther(1000)); err != nil {
		return err
	}

	expected, err := e.expectedCredit(ctx, src, dst, amountLD)
	if err != nil {
		return err
	}
	recipient := e.NewAccount()
	before, err := e.balancesOf(ctx, dst, recipient)
	if err != nil {
		return err
	}
	r.Set("recipient", recipient.Hex())
	r.Set("expected_pooled", expected)

	seq, err := e.submitTransfer(ctx, src, dst, route, transferRequest{
		amountLD: amountLD,
		to:       recipient,
		refuel:   refuel,
		value:    milliEther(1000),
	})
	if err != nil {
		return err
	}
	r.Set("sequence", seq)

	after, err := poller.WaitFor(ctx, e.pollOptions(0), "transferPool credit on "+dstPool.String(),
		func(ctx context.Context) (balances, error) {
			return e.balancesOf(ctx, dst, recipient)
		},
		func(b balances) bool {
			return new(big.Int).Sub(b.Pooled, before.Pooled).Cmp(expected) >= 0 &&
				new(big.Int).Sub(b.Native, before.Native).Cmp(refuel) >= 0
		},
	)
	if after.Pooled != nil {
		r.SetDelta("pooled_delta", before.Pooled, after.Pooled)
		r.SetDelta("native_delta", before.Native, after.Native)
	}
	if err != nil {
		return err
	}

	if err := settlement.CheckDeltaAtLeast(recipient, contracts.PooledToken, before.Pooled, after.Pooled, expected); err != nil {
		return err
	}
	return settlement.CheckDeltaAtLeast(recipient, "native", before.Native, after.Native, refuel)
}
