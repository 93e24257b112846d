package scenario

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/settlement"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

func run(t *testing.T, w *world, s Scenario) (*Report, error) {
	t.Helper()
	r := &Report{}
	return r, s.Run(context.Background(), w.env(), r)
}

func TestTransferPoolSuccess(t *testing.T) {
	w := newWorld(t)

	r, err := run(t, w, TransferPool(bnbPool, ethPool))
	require.NoError(t, err)

	amountLD := units.Scale(4700, 18)
	tx, ok := w.sentTx("transferPool")
	require.True(t, ok)
	assert.Equal(t, "channel-0", tx.Args[0])
	assert.Equal(t, amountLD, tx.Args[3])
	assert.Equal(t, units.Scale(46436, 17), tx.Args[4], "98.8% floor")
	assert.Equal(t, freshRecipient.Bytes(), tx.Args[5])
	assert.Equal(t, milliEther(10), tx.Args[6])
	assert.Equal(t, milliEther(1000), tx.Value)

	// 4700 minus the one percent fee
	want := units.Scale(4653, 18)
	details := r.Details()
	assert.Equal(t, want.String(), details["expected_pooled"])
	assert.Equal(t, want.String(), details["pooled_delta"])
	assert.Equal(t, milliEther(10).String(), details["native_delta"])
	assert.Nil(t, r.Retry())

	assert.Equal(t, []string{"mint", "transfer", "approve", "transferPool"}, w.f.SentMethods())
}

func TestTransferPoolRequiresLiquidity(t *testing.T) {
	w := newWorld(t)
	w.liquidity = units.Scale(4699, 6)

	_, err := run(t, w, TransferPool(bnbPool, ethPool))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	_, sent := w.sentTx("transferPool")
	assert.False(t, sent)
}

func TestTransferPoolTimesOut(t *testing.T) {
	w := newWorld(t)
	w.stalled = true
	start := w.clock()

	r, err := run(t, w, TransferPool(bnbPool, ethPool))

	var timeout *poller.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.False(t, w.clock().Before(start.Add(poller.DefaultTimeout)), "gave up before the deadline")
	assert.Equal(t, "0", r.Details()["pooled_delta"])
}

func TestTransferPoolNoRoute(t *testing.T) {
	w := newWorld(t)
	e := w.env()
	e.Routes = Routes{}

	err := TransferPool(bnbPool, ethPool).Run(context.Background(), e, &Report{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestOuterCallSuccess(t *testing.T) {
	w := newWorld(t)

	r, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallSuccess))
	require.NoError(t, err)

	tx, ok := w.sentTx("transferPool")
	require.True(t, ok)
	assert.Equal(t, ethPayable.Bytes(), tx.Args[5])
	assert.Equal(t, milliEther(150), tx.Value)
	assert.Equal(t, "7", r.Details()["sequence"])
	assert.Equal(t, milliEther(1).String(), r.Details()["native_delta"])
	assert.Nil(t, r.Retry())
}

func TestOuterCallFailRevertParksRefuel(t *testing.T) {
	w := newWorld(t)

	r, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallFailRevert))
	require.NoError(t, err)

	obs := r.Retry()
	require.NotNil(t, obs)
	assert.Equal(t, retry.KindRefuelCall.String(), obs.Kind)
	assert.Equal(t, uint64(7), obs.Sequence)
	assert.Equal(t, eth, obs.ChainID)
	assert.Equal(t, bnb, obs.SrcChainID)

	rec, err := retry.Decode(obs.Payload)
	require.NoError(t, err)
	refuel := rec.(retry.RefuelCall)
	assert.Equal(t, ethPayable, refuel.Recipient)
	assert.Equal(t, milliEther(1), refuel.RefuelAmount)

	assert.Equal(t, "0", r.Details()["native_delta"])
	assert.Equal(t, units.Scale(3861, 17).String(), r.Details()["pooled_delta"])
}

func TestOuterCallFailRevertAcceptsPooledAboveEstimate(t *testing.T) {
	w := newWorld(t)
	w.reward = big.NewInt(17)

	r, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallFailRevert))
	require.NoError(t, err)

	want := new(big.Int).Add(units.Scale(3861, 17), big.NewInt(17))
	assert.Equal(t, want.String(), r.Details()["pooled_delta"])
	assert.Equal(t, units.Scale(3861, 17).String(), r.Details()["expected_pooled"])
}

func TestOuterCallFailRevertDetectsDeliveredRefuel(t *testing.T) {
	w := newWorld(t)
	// the receiver accepted the refuel and nothing was parked
	w.f.OnSend(eth, ethPayable, "setReceiveFail", func(*big.Int, []interface{}) error { return nil })

	_, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallFailRevert))
	var timeout *poller.TimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestOuterCallUnderfunded(t *testing.T) {
	w := newWorld(t)
	w.nativeCost = milliEther(146)

	_, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallSuccess))
	assert.ErrorIs(t, err, ErrUnderfunded)
	_, sent := w.sentTx("transferPool")
	assert.False(t, sent)
}

func TestOuterService(t *testing.T) {
	tests := []struct {
		mode      OuterServiceMode
		wantRetry bool
		wantGas   int64
	}{
		{mode: OuterServiceSuccess, wantRetry: false, wantGas: 10_000_000},
		{mode: OuterServiceOutOfGas, wantRetry: true, wantGas: 0},
		{mode: OuterServiceRevert, wantRetry: true, wantGas: 10_000_000},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			w := newWorld(t)

			r, err := run(t, w, OuterService(bnbPool, ethPool, tt.mode))
			require.NoError(t, err)

			tx, ok := w.sentTx("transferPool")
			require.True(t, ok)
			external := tx.Args[7].(retry.ExternalInfo)
			assert.Equal(t, []byte{39, 40, 41}, external.Payload)
			assert.Equal(t, tt.wantGas, external.DstOuterGas.Int64())
			assert.Equal(t, milliEther(2000), tx.Value)

			if !tt.wantRetry {
				assert.Nil(t, r.Retry())
				return
			}
			require.NotNil(t, r.Retry())
			assert.Equal(t, retry.KindExternalCall.String(), r.Retry().Kind)
		})
	}
}

func TestOuterServiceMissingRetryFails(t *testing.T) {
	w := newWorld(t)
	// the mock ignores setForceFail, so the external call succeeds
	w.f.OnSend(eth, ethOuterSvc, "setForceFail", func(*big.Int, []interface{}) error { return nil })

	_, err := run(t, w, OuterService(bnbPool, ethPool, OuterServiceRevert))
	var assertion *settlement.AssertionError
	require.ErrorAs(t, err, &assertion)
	assert.Equal(t, settlement.Present, assertion.Relation)
}

func TestRetryReplay(t *testing.T) {
	w := newWorld(t)

	r, err := run(t, w, RetryReplay(bnbPool, ethPool))
	require.NoError(t, err)

	require.NotNil(t, r.Retry(), "the parked retry is still reported")
	assert.Equal(t, milliEther(1).String(), r.Details()["replay_native_delta"])

	tx, ok := w.sentTx("retryOnReceive")
	require.True(t, ok)
	assert.Equal(t, "channel-1", tx.Args[0])
	assert.Equal(t, uint64(7), tx.Args[1])

	payload, err := w.f.GetPendingRetryPayload(context.Background(), eth, bnb, 7)
	require.NoError(t, err)
	assert.True(t, retry.IsEmpty(payload))
}

func TestDeposit(t *testing.T) {
	w := newWorld(t)
	w.batched = true

	r, err := run(t, w, Deposit(bnbPool))
	require.NoError(t, err)

	assert.Equal(t, []string{"mint", "approve", "deposit", "callDelta", "sendCredit"}, w.f.SentMethods())
	tx, _ := w.sentTx("sendCredit")
	assert.Equal(t, milliEther(5), tx.Value)
	assert.Equal(t, "channel-0", tx.Args[0])
	assert.Equal(t, units.Scale(100000, 6).String(), r.Details()["credit_delta"])
	assert.Equal(t, "1", r.Details()["peers"])
}

func TestSendCredit(t *testing.T) {
	w := newWorld(t)
	w.rate = big.NewInt(1)

	r, err := run(t, w, SendCredit(bnbPool))
	require.NoError(t, err)
	assert.Equal(t, "3900", r.Details()["credit_delta"])
	assert.NotContains(t, w.f.SentMethods(), "callDelta")
}

func TestSendCreditTimesOutWithoutRelay(t *testing.T) {
	w := newWorld(t)
	w.rate = big.NewInt(1)
	w.stalled = true

	r, err := run(t, w, SendCredit(bnbPool))
	var timeout *poller.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "0", r.Details()["credit_delta"])
}

func TestDepositCreditsSelfPeer(t *testing.T) {
	w := newWorld(t)
	w.selfPeer = true

	r, err := run(t, w, Deposit(bnbPool))
	require.NoError(t, err)

	assert.Equal(t, "2", r.Details()["peers"])
	assert.Equal(t, []string{"mint", "approve", "deposit", "sendCreditInLedger", "sendCredit"}, w.f.SentMethods())
	assert.Equal(t, units.Scale(100000, 6).String(), r.Details()["credit_delta"])
	assert.Equal(t, units.Scale(50000, 6), w.selfCredit)
}

func TestDepositWithoutPeers(t *testing.T) {
	w := newWorld(t)
	e := w.env()
	e.Candidates = []units.Pool{bnbPool}

	err := Deposit(bnbPool).Run(context.Background(), e, &Report{})
	assert.ErrorIs(t, err, ErrNoPeers)
}

func TestRemoteFailureSurfaces(t *testing.T) {
	w := newWorld(t)
	w.f.FailChain(eth, errors.New("connection refused"))

	_, err := run(t, w, TransferPool(bnbPool, ethPool))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCatalog(t *testing.T) {
	all := Catalog(map[int][]uint64{bnb: {0}, eth: {0, 1}})

	names := make(map[string]Scenario, len(all))
	for _, s := range all {
		names[s.Name] = s
	}
	assert.Len(t, names, len(all), "names are unique")

	assert.Contains(t, names, "deposit/9999:0")
	assert.Contains(t, names, "sendCredit/1337:1")
	assert.Contains(t, names, "transferPool/9999:0-1337:1")
	assert.Contains(t, names, "transferPool/1337:1-9999:0")
	assert.Contains(t, names, "outerCall/fail_revert/9999:0-1337:1")
	assert.Contains(t, names, "outerService/outOfGas/1337:0-9999:0")
	assert.Contains(t, names, "retryReplay/9999:0-1337:1")

	assert.Contains(t, names, "withdrawRemote/9999:0-1337:1")

	assert.Equal(t, 0, names["deposit/9999:0"].Stage)
	assert.Equal(t, 1, names["transferPool/9999:0-1337:1"].Stage)
	assert.Equal(t, []string{"1337/MockPayable"}, names["outerCall/success/9999:0-1337:1"].Exclusive)

	// deposit and sendCredit on one pool write the same peer records
	assert.Equal(t, []string{"credit/9999:0"}, names["deposit/9999:0"].Exclusive)
	assert.Equal(t, names["deposit/1337:1"].Exclusive, names["sendCredit/1337:1"].Exclusive)
	assert.NotEqual(t, names["deposit/1337:0"].Exclusive, names["deposit/1337:1"].Exclusive)

	drained := names["outerCall/fail_bridge_gas/9999:0-1337:1"]
	assert.Equal(t, 2, drained.Stage)
	assert.Equal(t, []string{"1337/MockPayable", "1337/Bridge"}, drained.Exclusive)
	assert.Equal(t, []string{"9999/Pool0.Pool"}, names["withdrawRemote/9999:0-1337:1"].Exclusive)
}

func TestTokenCatalog(t *testing.T) {
	all := TokenCatalog([]int{eth, bnb})

	var names []string
	for _, s := range all {
		names = append(names, s.Name)
		assert.Equal(t, 1, s.Stage)
		assert.ElementsMatch(t, []string{"1337/TokiToken", "9999/TokiToken"}, s.Exclusive)
	}
	assert.Equal(t, []string{
		"transferToken/1337-9999",
		"transferToken/fail_cap/1337-9999",
		"transferToken/9999-1337",
		"transferToken/fail_cap/9999-1337",
	}, names)
}

func TestSelect(t *testing.T) {
	all := Catalog(map[int][]uint64{bnb: {0}, eth: {0}})

	got, err := Select(all, []string{"outerCall", "outerCall/success", "deposit/1337:0"})
	require.NoError(t, err)
	var names []string
	for _, s := range got {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{
		"outerCall/success/9999:0-1337:0",
		"outerCall/fail_revert/9999:0-1337:0",
		"outerCall/fail_bridge_gas/9999:0-1337:0",
		"outerCall/success/1337:0-9999:0",
		"outerCall/fail_revert/1337:0-9999:0",
		"outerCall/fail_bridge_gas/1337:0-9999:0",
		"deposit/1337:0",
	}, names)

	_, err = Select(all, []string{"bogus"})
	assert.Error(t, err)

	everything, err := Select(all, nil)
	require.NoError(t, err)
	assert.Len(t, everything, len(all))
}

func TestBuildRoutes(t *testing.T) {
	routes, err := BuildRoutes([]ChannelEnd{
		{ChainID: bnb, PeerChainID: eth, Port: "transfer", Channel: "channel-0"},
		{ChainID: eth, PeerChainID: bnb, Port: "transfer", Channel: "channel-1"},
	})
	require.NoError(t, err)

	there, err := routes.Get(bnb, eth)
	require.NoError(t, err)
	assert.Equal(t, Route{SrcPort: "transfer", SrcChannel: "channel-0", DstPort: "transfer", DstChannel: "channel-1"}, there)

	back, err := routes.Get(eth, bnb)
	require.NoError(t, err)
	assert.Equal(t, "channel-1", back.SrcChannel)
	assert.Equal(t, "channel-0", back.DstChannel)

	_, err = BuildRoutes([]ChannelEnd{{ChainID: bnb, PeerChainID: eth, Port: "transfer", Channel: "channel-0"}})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestConcurrentTransfersKeepTheirAllowance(t *testing.T) {
	w := newWorld(t)
	e := w.env()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = TransferPool(bnbPool, ethPool).Run(context.Background(), e, &Report{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "transfer %d", i)
	}
	assert.Zero(t, w.allowance(bnbToken).Sign(), "every approval was spent by its own transfer")
	assert.Zero(t, w.tokenBalance(bnbToken, bnbWallet).Sign())
}

func TestSequenceComesFromReceipt(t *testing.T) {
	w := newWorld(t)
	// other senders take 7, 8 and 9 between snapshot and submission
	w.foreign = 3

	r, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallFailRevert))
	require.NoError(t, err)

	assert.Equal(t, "10", r.Details()["sequence"])
	require.NotNil(t, r.Retry())
	assert.Equal(t, uint64(10), r.Retry().Sequence)
}

func TestSequenceMissingFromReceipt(t *testing.T) {
	w := newWorld(t)
	w.f.OnSend(bnb, bnbBridge, "transferPool", func(*big.Int, []interface{}) error { return nil })

	_, err := run(t, w, TransferPool(bnbPool, ethPool))
	assert.ErrorIs(t, err, ledger.ErrNoPacket)
}

func TestOuterCallFailBridgeGas(t *testing.T) {
	w := newWorld(t)

	r, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallFailBridgeGas))
	require.NoError(t, err)

	obs := r.Retry()
	require.NotNil(t, obs)
	assert.Equal(t, retry.KindRefuelCall.String(), obs.Kind)
	assert.Equal(t, milliEther(1).String(), r.Details()["bridge_drained"])
	assert.Equal(t, "0", r.Details()["native_delta"])

	tx, ok := w.sentTx("draw")
	require.True(t, ok)
	assert.Equal(t, milliEther(1), tx.Args[0])
	assert.Equal(t, ethWallet, tx.Args[1])

	float, err := w.f.GetBalance(context.Background(), eth, ethBridge)
	require.NoError(t, err)
	assert.Equal(t, milliEther(1), float, "bridge refilled")
}

func TestOuterCallFailBridgeGasRefillsOnFailure(t *testing.T) {
	w := newWorld(t)
	w.stalled = true

	_, err := run(t, w, OuterCall(bnbPool, ethPool, OuterCallFailBridgeGas))
	var timeout *poller.TimeoutError
	require.ErrorAs(t, err, &timeout)

	float, err := w.f.GetBalance(context.Background(), eth, ethBridge)
	require.NoError(t, err)
	assert.Equal(t, milliEther(1), float)
}

func TestWithdrawRemote(t *testing.T) {
	w := newWorld(t)

	r, err := run(t, w, WithdrawRemote(bnbPool, ethPool))
	require.NoError(t, err)

	amountGD := units.Scale(4700, 6)
	tx, ok := w.sentTx("withdrawRemote")
	require.True(t, ok)
	assert.Equal(t, "channel-0", tx.Args[0])
	assert.Equal(t, amountGD, tx.Args[3])
	assert.Equal(t, big.NewInt(10), tx.Args[4])
	assert.Equal(t, freshRecipient.Bytes(), tx.Args[5])
	assert.Equal(t, bnbWallet, tx.Args[6])
	assert.Equal(t, milliEther(1000), tx.Value)

	details := r.Details()
	assert.Equal(t, units.Scale(4653, 18).String(), details["pooled_delta"])
	assert.Equal(t, new(big.Int).Neg(amountGD).String(), details["lp_delta"])
	assert.Equal(t, "7", details["sequence"])
	assert.Equal(t, []string{"transfer", "mint", "approve", "deposit", "withdrawRemote"}, w.f.SentMethods())
}

func TestWithdrawRemoteTimesOut(t *testing.T) {
	w := newWorld(t)
	w.stalled = true

	r, err := run(t, w, WithdrawRemote(bnbPool, ethPool))
	var timeout *poller.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "0", r.Details()["pooled_delta"])
}

func TestTransferToken(t *testing.T) {
	w := newWorld(t)

	r, err := run(t, w, TransferToken(bnb, eth))
	require.NoError(t, err)

	tx, ok := w.sentTx("transferToken")
	require.True(t, ok)
	assert.Equal(t, "channel-0", tx.Args[0])
	assert.Equal(t, "denom", tx.Args[1])
	assert.Equal(t, big.NewInt(3900), tx.Args[2])
	assert.Equal(t, big.NewInt(39), tx.Args[4])

	assert.Equal(t, "3900", r.Details()["token_delta"])
	assert.Equal(t, "39", r.Details()["native_delta"])
	assert.Nil(t, r.Retry())
	assert.True(t, w.hasRole(bnbToki, minterRole))
}

func TestTransferTokenFailCap(t *testing.T) {
	w := newWorld(t)
	initial := new(big.Int).Set(w.softcap)

	r, err := run(t, w, TransferTokenFailCap(bnb, eth))
	require.NoError(t, err)

	obs := r.Retry()
	require.NotNil(t, obs)
	assert.Equal(t, retry.KindReceiveToken.String(), obs.Kind)
	assert.Equal(t, "3899", r.Details()["softcap"])
	assert.Equal(t, "0", r.Details()["token_delta"])
	assert.Equal(t, "0", r.Details()["native_delta"])
	assert.Equal(t, initial, w.softcap, "softcap restored")
}

func TestTransferTokenFailCapDetectsDelivery(t *testing.T) {
	w := newWorld(t)
	// the softcap admin call is accepted but ignored
	w.f.OnSend(eth, ethToki, "setSoftcap", func(*big.Int, []interface{}) error { return nil })

	_, err := run(t, w, TransferTokenFailCap(bnb, eth))
	var timeout *poller.TimeoutError
	assert.ErrorAs(t, err, &timeout)
}
