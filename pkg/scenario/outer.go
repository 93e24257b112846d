package scenario

import (
	"context"
	"errors"
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

// OuterCallMode selects how the destination receiver treats the refuel.
type OuterCallMode string

const (
	OuterCallSuccess    OuterCallMode = "success"
	OuterCallFailRevert OuterCallMode = "fail_revert"
	// OuterCallFailBridgeGas empties the destination bridge so it cannot pay
	// the refuel at all.
	OuterCallFailBridgeGas OuterCallMode = "fail_bridge_gas"
)

// OuterServiceMode selects how the external call on the destination ends.
type OuterServiceMode string

const (
	OuterServiceSuccess  OuterServiceMode = "success"
	OuterServiceOutOfGas OuterServiceMode = "outOfGas"
	OuterServiceRevert   OuterServiceMode = "revert"
)

const (
	outerCallWhole    = 390
	outerServiceWhole = 47
	outerServiceGas   = 10_000_000
)

var outerServicePayload = []byte{39, 40, 41}

// checkNativeBudget fails with ErrUnderfunded when value cannot pay the
// relayer and the source side of the destination native amount.
func (e *Env) checkNativeBudget(ctx context.Context, src, dst *side, value, gas, refuel *big.Int) error {
	relayerFee, err := ledger.RelayerFee(ctx, e.Ledger, src.pool.ChainID, dst.pool.ChainID, contracts.FunctionTransferPool)
	if err != nil {
		return fmt.Errorf("relayer fee: %w", err)
	}
	out, err := e.Ledger.CallRead(ctx, src.pool.ChainID, src.bridge, contracts.MustABI(contracts.Bridge), "calcSrcNativeAmount",
		big.NewInt(int64(dst.pool.ChainID)), gas, refuel)
	if err != nil {
		return fmt.Errorf("calcSrcNativeAmount: %w", err)
	}
	need := new(big.Int).Add(relayerFee, out[0].(*big.Int))
	if value.Cmp(need) < 0 {
		return fmt.Errorf("%w: value %s, need %s", ErrUnderfunded, value, need)
	}
	return nil
}

// outerSetup is the state shared by the outer call and outer service flows
// once tokens are minted.
type outerSetup struct {
	src, dst *side
	route    Route
	target   common.Address
	sequence uint64
	expected *big.Int
	before   balances
}

func (e *Env) prepareOuter(ctx context.Context, r *Report, srcPool, dstPool units.Pool, target string, whole int64, bridgeFloat *big.Int) (*outerSetup, *big.Int, error) {
	src, err := e.resolve(ctx, srcPool)
	if err != nil {
		return nil, nil, err
	}
	dst, err := e.resolve(ctx, dstPool)
	if err != nil {
		return nil, nil, err
	}
	route, err := e.Routes.Get(srcPool.ChainID, dstPool.ChainID)
	if err != nil {
		return nil, nil, err
	}
	addr, err := e.contract(dstPool.ChainID, target)
	if err != nil {
		return nil, nil, err
	}

	amountLD := units.Scale(whole, src.decimals)
	if err := e.requireLiquidity(ctx, src, dst, amountLD); err != nil {
		return nil, nil, err
	}
	if err := e.fund(ctx, dstPool.ChainID, dst.bridge, bridgeFloat); err != nil {
		return nil, nil, err
	}
	if err := e.mint(ctx, src, amountLD); err != nil {
		return nil, nil, err
	}
	r.Set("target", addr.Hex())
	return &outerSetup{src: src, dst: dst, route: route, target: addr}, amountLD, nil
}

// snapshot records the fee estimate and the target's balances right before
// submission.
func (e *Env) snapshot(ctx context.Context, r *Report, o *outerSetup, amountLD *big.Int) error {
	expected, err := e.expectedCredit(ctx, o.src, o.dst, amountLD)
	if err != nil {
		return err
	}
	before, err := e.balancesOf(ctx, o.dst, o.target)
	if err != nil {
		return err
	}
	o.expected, o.before = expected, before
	r.Set("expected_pooled", expected)
	return nil
}

// submit sends the transfer and keeps the packet's sequence for the retry
// lookups that follow.
func (e *Env) submit(ctx context.Context, r *Report, o *outerSetup, req transferRequest) error {
	seq, err := e.submitTransfer(ctx, o.src, o.dst, o.route, req)
	if err != nil {
		return err
	}
	o.sequence = seq
	r.Set("sequence", seq)
	return nil
}

func (e *Env) waitNativeIncrease(ctx context.Context, o *outerSetup) (balances, error) {
	return poller.WaitFor(ctx, e.pollOptions(0), "native refuel of "+o.target.Hex(),
		func(ctx context.Context) (balances, error) {
			return e.balancesOf(ctx, o.dst, o.target)
		},
		func(b balances) bool {
			return b.Native.Cmp(o.before.Native) > 0
		},
	)
}

func (e *Env) waitPendingRetry(ctx context.Context, o *outerSetup) error {
	return e.waitPending(ctx, o.dst.pool.ChainID, o.src.pool.ChainID, o.sequence)
}

// waitPending blocks until dstChainID parks the packet (srcChainID, sequence).
func (e *Env) waitPending(ctx context.Context, dstChainID, srcChainID int, sequence uint64) error {
	_, err := poller.WaitFor(ctx, e.pollOptions(0), fmt.Sprintf("pending retry %d/%d", srcChainID, sequence),
		func(ctx context.Context) ([]byte, error) {
			return e.Ledger.GetPendingRetryPayload(ctx, dstChainID, srcChainID, sequence)
		},
		func(payload []byte) bool {
			return !retry.IsEmpty(payload)
		},
	)
	return err
}

func (e *Env) observePending(ctx context.Context, r *Report, o *outerSetup) (retry.Record, error) {
	rec, payload, err := e.pendingRetry(ctx, o.dst.pool.ChainID, o.src.pool.ChainID, o.sequence)
	if err != nil {
		return nil, err
	}
	r.observeRetry(o.dst.pool.ChainID, o.src.pool.ChainID, o.sequence, rec, payload)
	return rec, nil
}

// OuterCall transfers to the payable mock with a refuel. In fail_revert mode
// the mock rejects native currency, and in fail_bridge_gas mode the
// destination bridge has nothing to pay the refuel with. Either way the refuel
// must be parked as a RefuelCall retry while the pooled tokens still arrive.
//
// fail_bridge_gas runs in its own stage since every other transfer into the
// destination relies on the bridge's float.
func OuterCall(srcPool, dstPool units.Pool, mode OuterCallMode) Scenario {
	s := Scenario{
		Name:       pairName("outerCall/"+string(mode), srcPool, dstPool),
		SrcChainID: srcPool.ChainID,
		DstChainID: dstPool.ChainID,
		Stage:      1,
		Exclusive:  []string{contractKey(dstPool.ChainID, contracts.MockPayable)},
		Run: func(ctx context.Context, e *Env, r *Report) error {
			switch mode {
			case OuterCallFailBridgeGas:
				return runOuterCallFailBridgeGas(ctx, e, r, srcPool, dstPool)
			case OuterCallFailRevert:
				o, err := e.submitOuterCall(ctx, r, srcPool, dstPool, true)
				if err != nil {
					return err
				}
				return e.verifyRefuelParked(ctx, r, o)
			default:
				o, err := e.submitOuterCall(ctx, r, srcPool, dstPool, false)
				if err != nil {
					return err
				}
				return e.verifyRefuelDelivered(ctx, r, o)
			}
		},
	}
	if mode == OuterCallFailBridgeGas {
		s.Stage = 2
		s.Exclusive = append(s.Exclusive, contractKey(dstPool.ChainID, contracts.Bridge))
	}
	return s
}

var (
	outerCallRefuel = milliEther(1)
	outerCallValue  = milliEther(150)
)

// prepareOuterCall readies the payable mock. It accepts native currency
// unless receiveFail is set; its fallback always fails.
func (e *Env) prepareOuterCall(ctx context.Context, r *Report, srcPool, dstPool units.Pool, receiveFail bool) (*outerSetup, *big.Int, error) {
	o, amountLD, err := e.prepareOuter(ctx, r, srcPool, dstPool, contracts.MockPayable, outerCallWhole, milliEther(1))
	if err != nil {
		return nil, nil, err
	}
	if err := e.checkNativeBudget(ctx, o.src, o.dst, outerCallValue, new(big.Int), outerCallRefuel); err != nil {
		return nil, nil, err
	}
	if err := e.send(ctx, dstPool.ChainID, o.target, contracts.MockPayable, "setReceiveFail", nil, receiveFail); err != nil {
		return nil, nil, err
	}
	if err := e.send(ctx, dstPool.ChainID, o.target, contracts.MockPayable, "setFallbackFail", nil, true); err != nil {
		return nil, nil, err
	}
	return o, amountLD, nil
}

func (e *Env) sendOuterCall(ctx context.Context, r *Report, o *outerSetup, amountLD *big.Int) error {
	if err := e.snapshot(ctx, r, o, amountLD); err != nil {
		return err
	}
	r.Set("refuel", outerCallRefuel)
	return e.submit(ctx, r, o, transferRequest{
		amountLD: amountLD,
		to:       o.target,
		refuel:   outerCallRefuel,
		value:    outerCallValue,
	})
}

func (e *Env) submitOuterCall(ctx context.Context, r *Report, srcPool, dstPool units.Pool, receiveFail bool) (*outerSetup, error) {
	o, amountLD, err := e.prepareOuterCall(ctx, r, srcPool, dstPool, receiveFail)
	if err != nil {
		return nil, err
	}
	if err := e.sendOuterCall(ctx, r, o, amountLD); err != nil {
		return nil, err
	}
	return o, nil
}

func runOuterCallFailBridgeGas(ctx context.Context, e *Env, r *Report, srcPool, dstPool units.Pool) (err error) {
	o, amountLD, err := e.prepareOuterCall(ctx, r, srcPool, dstPool, false)
	if err != nil {
		return err
	}
	drained, err := e.drainBridge(ctx, o.dst)
	if err != nil {
		return err
	}
	r.Set("bridge_drained", drained)
	defer func() {
		if refillErr := e.refillBridge(context.WithoutCancel(ctx), o.dst, drained); refillErr != nil {
			err = errors.Join(err, refillErr)
		}
	}()

	if err := e.sendOuterCall(ctx, r, o, amountLD); err != nil {
		return err
	}
	return e.verifyRefuelParked(ctx, r, o)
}

// drainBridge moves the bridge's whole native balance to the wallet and
// returns how much was taken.
func (e *Env) drainBridge(ctx context.Context, s *side) (*big.Int, error) {
	balance, err := e.Ledger.GetBalance(ctx, s.pool.ChainID, s.bridge)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return balance, nil
	}
	e.Logger.InfoWithChain(s.pool.ChainID, "drawing %s from bridge %s", balance, s.bridge.Hex())
	if err := e.bridgeCall(ctx, s, "draw", nil, balance, s.wallet); err != nil {
		return nil, err
	}
	return balance, nil
}

func (e *Env) refillBridge(ctx context.Context, s *side, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if _, err := e.Ledger.Transfer(ctx, s.pool.ChainID, s.bridge, amount); err != nil {
		return fmt.Errorf("refill bridge: %w", err)
	}
	return nil
}

func (e *Env) verifyRefuelDelivered(ctx context.Context, r *Report, o *outerSetup) error {
	refuel := outerCallRefuel
	after, err := e.waitNativeIncrease(ctx, o)
	if after.Native != nil {
		r.SetDelta("native_delta", o.before.Native, after.Native)
		r.SetDelta("pooled_delta", o.before.Pooled, after.Pooled)
	}
	if err != nil {
		return err
	}
	rec, err := e.observePending(ctx, r, o)
	if err != nil {
		return err
	}

	if err := settlement.CheckDeltaAtLeast(o.target, "native", o.before.Native, after.Native, refuel); err != nil {
		return err
	}
	if err := settlement.CheckDeltaAtLeast(o.target, contracts.PooledToken, o.before.Pooled, after.Pooled, o.expected); err != nil {
		return err
	}
	return settlement.CheckRetryKind(o.target, rec, retry.KindRefuelCall, false)
}

func (e *Env) verifyRefuelParked(ctx context.Context, r *Report, o *outerSetup) error {
	if err := e.waitPendingRetry(ctx, o); err != nil {
		return err
	}
	rec, err := e.observePending(ctx, r, o)
	if err != nil {
		return err
	}
	after, err := e.balancesOf(ctx, o.dst, o.target)
	if err != nil {
		return err
	}
	r.SetDelta("native_delta", o.before.Native, after.Native)
	r.SetDelta("pooled_delta", o.before.Pooled, after.Pooled)

	if err := settlement.CheckRetryKind(o.target, rec, retry.KindRefuelCall, true); err != nil {
		return err
	}
	if err := settlement.CheckDeltaAtLeast(o.target, contracts.PooledToken, o.before.Pooled, after.Pooled, o.expected); err != nil {
		return err
	}
	return settlement.CheckUnchanged(o.target, "native", o.before.Native, after.Native)
}

// OuterService transfers to the outer service mock with an external call.
// Only the success mode leaves no ExternalCall retry behind.
func OuterService(srcPool, dstPool units.Pool, mode OuterServiceMode) Scenario {
	return Scenario{
		Name:       pairName("outerService/"+string(mode), srcPool, dstPool),
		SrcChainID: srcPool.ChainID,
		DstChainID: dstPool.ChainID,
		Stage:      1,
		Exclusive:  []string{contractKey(dstPool.ChainID, contracts.MockOuterService)},
		Run: func(ctx context.Context, e *Env, r *Report) error {
			return runOuterService(ctx, e, r, srcPool, dstPool, mode)
		},
	}
}

func runOuterService(ctx context.Context, e *Env, r *Report, srcPool, dstPool units.Pool, mode OuterServiceMode) error {
	refuel := milliEther(20)
	gas := big.NewInt(outerServiceGas)
	if mode == OuterServiceOutOfGas {
		gas = new(big.Int)
	}

	o, amountLD, err := e.prepareOuter(ctx, r, srcPool, dstPool, contracts.MockOuterService, outerServiceWhole, milliEther(3000))
	if err != nil {
		return err
	}
	if err := e.send(ctx, dstPool.ChainID, o.target, contracts.MockOuterService, "setForceFail", nil, mode == OuterServiceRevert); err != nil {
		return err
	}
	if err := e.snapshot(ctx, r, o, amountLD); err != nil {
		return err
	}
	r.Set("dst_outer_gas", gas)

	err = e.submit(ctx, r, o, transferRequest{
		amountLD: amountLD,
		to:       o.target,
		refuel:   refuel,
		external: retry.ExternalInfo{Payload: outerServicePayload, DstOuterGas: gas},
		value:    milliEther(2000),
	})
	if err != nil {
		return err
	}

	after, err := e.waitNativeIncrease(ctx, o)
	if after.Native != nil {
		r.SetDelta("native_delta", o.before.Native, after.Native)
		r.SetDelta("pooled_delta", o.before.Pooled, after.Pooled)
	}
	if err != nil {
		return err
	}
	rec, err := e.observePending(ctx, r, o)
	if err != nil {
		return err
	}

	if err := settlement.CheckDeltaAtLeast(o.target, "native", o.before.Native, after.Native, refuel); err != nil {
		return err
	}
	if err := settlement.CheckDeltaAtLeast(o.target, contracts.PooledToken, o.before.Pooled, after.Pooled, o.expected); err != nil {
		return err
	}
	return settlement.CheckRetryKind(o.target, rec, retry.KindExternalCall, mode != OuterServiceSuccess)
}
