package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/settlement"
)

const tokenDenom = "denom"

var (
	// raw token units, not scaled by decimals
	tokenAmount = big.NewInt(3900)
	tokenRefuel = big.NewInt(39)
)

// tokenSide is one chain's bridged token and the accounts around it.
type tokenSide struct {
	chainID int
	token   common.Address
	bridge  common.Address
	wallet  common.Address
}

func (e *Env) resolveToken(chainID int) (*tokenSide, error) {
	token, err := e.contract(chainID, contracts.TokiToken)
	if err != nil {
		return nil, err
	}
	bridge, err := e.contract(chainID, contracts.Bridge)
	if err != nil {
		return nil, err
	}
	wallet, err := e.Ledger.Sender(chainID)
	if err != nil {
		return nil, err
	}
	return &tokenSide{chainID: chainID, token: token, bridge: bridge, wallet: wallet}, nil
}

func (e *Env) tokenRead(ctx context.Context, t *tokenSide, method string, args ...interface{}) (interface{}, error) {
	out, err := e.Ledger.CallRead(ctx, t.chainID, t.token, contracts.MustABI(contracts.TokiToken), method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out[0], nil
}

// grantRole gives the wallet the role the token exposes under roleMethod.
func (e *Env) grantRole(ctx context.Context, t *tokenSide, roleMethod string) error {
	role, err := e.tokenRead(ctx, t, roleMethod)
	if err != nil {
		return err
	}
	return e.send(ctx, t.chainID, t.token, contracts.TokiToken, "grantRole", nil, role.([32]byte), t.wallet)
}

func (e *Env) tokenBalances(ctx context.Context, t *tokenSide, account common.Address) (balances, error) {
	held, err := e.tokenRead(ctx, t, "balanceOf", account)
	if err != nil {
		return balances{}, err
	}
	native, err := e.Ledger.GetBalance(ctx, t.chainID, account)
	if err != nil {
		return balances{}, err
	}
	return balances{Pooled: held.(*big.Int), Native: native}, nil
}

// TransferToken bridges freshly minted tokens to a fresh account with a
// refuel and waits for both to arrive.
func TransferToken(srcChainID, dstChainID int) Scenario {
	return tokenScenario("transferToken", srcChainID, dstChainID, runTransferToken)
}

// TransferTokenFailCap lowers the destination softcap below what the transfer
// would mint. The packet must be parked as a ReceiveToken retry and the
// recipient's balances must not move.
func TransferTokenFailCap(srcChainID, dstChainID int) Scenario {
	return tokenScenario("transferToken/fail_cap", srcChainID, dstChainID, runTransferTokenFailCap)
}

type tokenRun func(ctx context.Context, e *Env, r *Report, src, dst *tokenSide, route Route) error

// tokenScenario holds both chains' tokens: supply and softcap move on each.
func tokenScenario(kind string, srcChainID, dstChainID int, run tokenRun) Scenario {
	return Scenario{
		Name:       fmt.Sprintf("%s/%d-%d", kind, srcChainID, dstChainID),
		SrcChainID: srcChainID,
		DstChainID: dstChainID,
		Stage:      1,
		Exclusive: []string{
			contractKey(srcChainID, contracts.TokiToken),
			contractKey(dstChainID, contracts.TokiToken),
		},
		Run: func(ctx context.Context, e *Env, r *Report) error {
			src, err := e.resolveToken(srcChainID)
			if err != nil {
				return err
			}
			dst, err := e.resolveToken(dstChainID)
			if err != nil {
				return err
			}
			route, err := e.Routes.Get(srcChainID, dstChainID)
			if err != nil {
				return err
			}
			return run(ctx, e, r, src, dst, route)
		},
	}
}

// prepareTokenTransfer mints the amount on src and tops up the destination
// bridge so it can pay the refuel.
func (e *Env) prepareTokenTransfer(ctx context.Context, src, dst *tokenSide) error {
	if err := e.grantRole(ctx, src, "MINTER_ROLE"); err != nil {
		return err
	}
	if err := e.send(ctx, src.chainID, src.token, contracts.TokiToken, "mint", nil, src.wallet, tokenAmount); err != nil {
		return err
	}
	return e.fund(ctx, dst.chainID, dst.bridge, milliEther(1000))
}

func (e *Env) submitTokenTransfer(ctx context.Context, r *Report, src *tokenSide, route Route, to common.Address) (uint64, error) {
	e.Logger.InfoWithChain(src.chainID, "transferToken amount=%s refuel=%s to=%s", tokenAmount, tokenRefuel, to.Hex())
	seq, err := e.bridgePacket(ctx, src.chainID, src.bridge, route, "transferToken", milliEther(1000),
		route.SrcChannel,
		tokenDenom,
		tokenAmount,
		to.Bytes(),
		tokenRefuel,
		retry.ExternalInfo{Payload: []byte{}, DstOuterGas: new(big.Int)},
		src.wallet,
	)
	if err != nil {
		return 0, err
	}
	r.Set("sequence", seq)
	return seq, nil
}

func runTransferToken(ctx context.Context, e *Env, r *Report, src, dst *tokenSide, route Route) error {
	if err := e.prepareTokenTransfer(ctx, src, dst); err != nil {
		return err
	}
	recipient := e.NewAccount()
	before, err := e.tokenBalances(ctx, dst, recipient)
	if err != nil {
		return err
	}
	r.Set("recipient", recipient.Hex())

	if _, err := e.submitTokenTransfer(ctx, r, src, route, recipient); err != nil {
		return err
	}

	after, err := poller.WaitFor(ctx, e.pollOptions(0), fmt.Sprintf("transferToken on chain %d", dst.chainID),
		func(ctx context.Context) (balances, error) {
			return e.tokenBalances(ctx, dst, recipient)
		},
		func(b balances) bool {
			return new(big.Int).Sub(b.Pooled, before.Pooled).Cmp(tokenAmount) >= 0 &&
				new(big.Int).Sub(b.Native, before.Native).Cmp(tokenRefuel) >= 0
		},
	)
	if after.Pooled != nil {
		r.SetDelta("token_delta", before.Pooled, after.Pooled)
		r.SetDelta("native_delta", before.Native, after.Native)
	}
	if err != nil {
		return err
	}

	if err := settlement.CheckDeltaAtLeast(recipient, contracts.TokiToken, before.Pooled, after.Pooled, tokenAmount); err != nil {
		return err
	}
	return settlement.CheckDeltaAtLeast(recipient, "native", before.Native, after.Native, tokenRefuel)
}

func runTransferTokenFailCap(ctx context.Context, e *Env, r *Report, src, dst *tokenSide, route Route) (err error) {
	if err := e.prepareTokenTransfer(ctx, src, dst); err != nil {
		return err
	}

	if err := e.grantRole(ctx, dst, "SOFTCAP_ADMIN_ROLE"); err != nil {
		return err
	}
	supply, err := e.tokenRead(ctx, dst, "totalSupply")
	if err != nil {
		return err
	}
	softcap, err := e.tokenRead(ctx, dst, "softcap")
	if err != nil {
		return err
	}
	lowered := new(big.Int).Add(supply.(*big.Int), tokenAmount)
	lowered.Sub(lowered, big.NewInt(1))
	if err := e.send(ctx, dst.chainID, dst.token, contracts.TokiToken, "setSoftcap", nil, lowered); err != nil {
		return err
	}
	r.Set("softcap", lowered)
	defer func() {
		restoreErr := e.send(context.WithoutCancel(ctx), dst.chainID, dst.token, contracts.TokiToken, "setSoftcap", nil, softcap.(*big.Int))
		if restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("restore softcap: %w", restoreErr))
		}
	}()

	recipient := e.NewAccount()
	before, err := e.tokenBalances(ctx, dst, recipient)
	if err != nil {
		return err
	}
	r.Set("recipient", recipient.Hex())

	seq, err := e.submitTokenTransfer(ctx, r, src, route, recipient)
	if err != nil {
		return err
	}
	if err := e.waitPending(ctx, dst.chainID, src.chainID, seq); err != nil {
		return err
	}
	rec, payload, err := e.pendingRetry(ctx, dst.chainID, src.chainID, seq)
	if err != nil {
		return err
	}
	r.observeRetry(dst.chainID, src.chainID, seq, rec, payload)
	after, err := e.tokenBalances(ctx, dst, recipient)
	if err != nil {
		return err
	}
	r.SetDelta("token_delta", before.Pooled, after.Pooled)
	r.SetDelta("native_delta", before.Native, after.Native)

	if err := settlement.CheckRetryKind(recipient, rec, retry.KindReceiveToken, true); err != nil {
		return err
	}
	if err := settlement.CheckUnchanged(recipient, contracts.TokiToken, before.Pooled, after.Pooled); err != nil {
		return err
	}
	return settlement.CheckUnchanged(recipient, "native", before.Native, after.Native)
}
