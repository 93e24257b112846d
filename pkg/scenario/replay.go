package scenario

import (
	"context"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/settlement"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

// RetryReplay parks a refuel the way fail_revert does, lets the receiver
// accept native currency again and replays the packet. Afterwards nothing is
// pending and the refuel has been delivered.
func RetryReplay(srcPool, dstPool units.Pool) Scenario {
	return Scenario{
		Name:       pairName("retryReplay", srcPool, dstPool),
		SrcChainID: srcPool.ChainID,
		DstChainID: dstPool.ChainID,
		Stage:      1,
		Exclusive:  []string{contractKey(dstPool.ChainID, contracts.MockPayable)},
		Run: func(ctx context.Context, e *Env, r *Report) error {
			return runRetryReplay(ctx, e, r, srcPool, dstPool)
		},
	}
}

func runRetryReplay(ctx context.Context, e *Env, r *Report, srcPool, dstPool units.Pool) error {
	o, err := e.submitOuterCall(ctx, r, srcPool, dstPool, true)
	if err != nil {
		return err
	}
	if err := e.verifyRefuelParked(ctx, r, o); err != nil {
		return err
	}

	if err := e.send(ctx, dstPool.ChainID, o.target, contracts.MockPayable, "setReceiveFail", nil, false); err != nil {
		return err
	}
	parked, err := e.balancesOf(ctx, o.dst, o.target)
	if err != nil {
		return err
	}
	e.Logger.InfoWithChain(dstPool.ChainID, "replaying sequence %d from chain %d", o.sequence, srcPool.ChainID)
	if err := e.bridgeCall(ctx, o.dst, "retryOnReceive", nil, o.route.DstChannel, o.sequence); err != nil {
		return err
	}

	rec, _, err := e.pendingRetry(ctx, dstPool.ChainID, srcPool.ChainID, o.sequence)
	if err != nil {
		return err
	}
	if err := settlement.CheckRetryKind(o.target, rec, retry.KindRefuelCall, false); err != nil {
		return err
	}
	replayed, err := e.balancesOf(ctx, o.dst, o.target)
	if err != nil {
		return err
	}
	r.SetDelta("replay_native_delta", parked.Native, replayed.Native)
	return settlement.CheckDeltaAtLeast(o.target, "native", parked.Native, replayed.Native, outerCallRefuel)
}
