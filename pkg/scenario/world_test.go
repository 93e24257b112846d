package scenario

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger/ledgertest"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

const (
	bnb = 9999
	eth = 1337
)

var (
	bnbPool = units.Pool{ChainID: bnb, PoolID: 0}
	ethPool = units.Pool{ChainID: eth, PoolID: 0}

	bnbWallet = common.HexToAddress("0x0b")
	ethWallet = common.HexToAddress("0x0e")

	bnbBridge     = common.HexToAddress("0xb1d6e")
	bnbPoolAddr   = common.HexToAddress("0xb0")
	bnbToken      = common.HexToAddress("0xb7")
	bnbHandler    = common.HexToAddress("0xb1bc")
	bnbCalculator = common.HexToAddress("0xbfee")
	bnbToki       = common.HexToAddress("0xb70c")

	ethBridge      = common.HexToAddress("0xe1d6e")
	ethPoolAddr    = common.HexToAddress("0xe0")
	ethToken       = common.HexToAddress("0xe7")
	ethHandler     = common.HexToAddress("0xe1bc")
	ethCalculator  = common.HexToAddress("0xefee")
	ethPayable     = common.HexToAddress("0xa1")
	ethOuterSvc    = common.HexToAddress("0xa2")
	ethToki        = common.HexToAddress("0xe70c")
	freshRecipient = common.HexToAddress("0x5eed")

	minterRole  = [32]byte{1}
	softcapRole = [32]byte{2}

	// 18 local decimals over 6 global decimals
	defaultRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)
)

// world is a two chain bridge simulated on the fake ledger. Cross-chain
// effects are queued and only land when the poller sleeps, the way a relayer
// delivers them some time after submission. Packets from bnb are numbered
// when they are sent and the number is only visible in the receipt.
type world struct {
	t *testing.T
	f *ledgertest.Fake

	rate *big.Int

	mu         sync.Mutex
	tokens     map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]*big.Int // wallet to bridge, per token
	lp         *big.Int                    // bnb wallet's LP tokens in bnb pool
	queued     []func()
	stalled    bool
	sequence   uint64
	// foreign counts packets other senders slip in before the next bnb send
	foreign  uint64
	now      time.Time
	accounts uint64

	liquidity   *big.Int
	credit      *big.Int // eth pool's record of bnb pool
	deposited   *big.Int // GD waiting to be sent as credit
	receiveFail bool
	forceFail   bool
	nativeCost  *big.Int
	batched     bool
	// reward is added to every pooled delivery on top of the fee estimate
	reward *big.Int

	// selfPeer makes bnb pool list itself as a peer next to eth pool
	selfPeer   bool
	selfCredit *big.Int // bnb pool's record of itself
	selfOwed   *big.Int

	roles   map[common.Address]map[[32]byte]bool
	softcap *big.Int // eth toki
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		t:    t,
		f:    ledgertest.New(),
		rate: defaultRate,
		tokens: map[common.Address]map[common.Address]*big.Int{
			bnbToken: {}, ethToken: {}, bnbToki: {}, ethToki: {},
		},
		allowances: make(map[common.Address]*big.Int),
		lp:         big.NewInt(0),
		sequence:   7,
		now:        time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		liquidity:  units.Scale(1_000_000, 6),
		credit:     big.NewInt(0),
		deposited:  big.NewInt(0),
		nativeCost: milliEther(20),
		selfCredit: big.NewInt(0),
		selfOwed:   big.NewInt(0),
		roles:      map[common.Address]map[[32]byte]bool{bnbToki: {}, ethToki: {}},
		softcap:    units.Scale(1_000_000_000, 18),
	}

	w.f.AddChain(bnb, bnbWallet, ledger.Deployment{
		contracts.Bridge:     bnbBridge,
		ledger.PoolName(0):   bnbPoolAddr,
		contracts.IBCHandler: bnbHandler,
		contracts.TokiToken:  bnbToki,
	})
	w.f.AddChain(eth, ethWallet, ledger.Deployment{
		contracts.Bridge:           ethBridge,
		ledger.PoolName(0):         ethPoolAddr,
		contracts.IBCHandler:       ethHandler,
		contracts.MockPayable:      ethPayable,
		contracts.MockOuterService: ethOuterSvc,
		contracts.TokiToken:        ethToki,
	})

	w.stubPool(bnb, bnbPoolAddr, bnbToken)
	w.stubPool(eth, ethPoolAddr, ethToken)
	w.stubBridge(bnb, bnbBridge, bnbCalculator)
	w.stubBridge(eth, ethBridge, ethCalculator)
	w.stubToki(bnb, bnbToki)
	w.stubToki(eth, ethToki)

	w.f.OnRead(bnb, bnbPoolAddr, "getPeerPoolInfo", func(args []interface{}) ([]interface{}, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if args[0].(*big.Int).Int64() == bnb {
			return []interface{}{ledgertest.PeerPoolInfoValue(ledger.PeerPoolInfo{
				ChainID: big.NewInt(bnb),
				Balance: new(big.Int).Set(w.selfCredit),
				Ready:   true,
			})}, nil
		}
		return []interface{}{ledgertest.PeerPoolInfoValue(ledger.PeerPoolInfo{
			ChainID: big.NewInt(eth),
			Balance: new(big.Int).Set(w.liquidity),
			Ready:   true,
		})}, nil
	})
	w.f.OnRead(eth, ethPoolAddr, "getPeerPoolInfo", func([]interface{}) ([]interface{}, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		return []interface{}{ledgertest.PeerPoolInfoValue(ledger.PeerPoolInfo{
			ChainID: big.NewInt(bnb),
			Balance: new(big.Int).Set(w.credit),
			Ready:   true,
		})}, nil
	})

	// bnb pool 0 lists eth pool 0 at index 1 and, with selfPeer, itself at 2
	w.f.OnRead(bnb, bnbPoolAddr, "peerPoolInfoIndexSeek", func(args []interface{}) ([]interface{}, error) {
		chainID, id := args[0].(*big.Int).Int64(), args[1].(*big.Int)
		w.mu.Lock()
		self := w.selfPeer
		w.mu.Unlock()
		switch {
		case chainID == eth && id.Sign() == 0:
			return []interface{}{big.NewInt(1)}, nil
		case chainID == bnb && id.Sign() == 0 && self:
			return []interface{}{big.NewInt(2)}, nil
		}
		return []interface{}{big.NewInt(0)}, nil
	})
	w.f.OnRead(bnb, bnbPoolAddr, "peerPoolInfos", func(args []interface{}) ([]interface{}, error) {
		chainID := int64(0)
		switch args[0].(*big.Int).Int64() {
		case 1:
			chainID = eth
		case 2:
			chainID = bnb
		}
		zero := big.NewInt(0)
		return []interface{}{big.NewInt(chainID), zero, zero, zero, zero, zero, zero, true}, nil
	})
	w.f.OnRead(bnb, bnbPoolAddr, "balanceOf", func([]interface{}) ([]interface{}, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		return []interface{}{new(big.Int).Set(w.lp)}, nil
	})

	w.stubMocks()
	w.stubBnbSends()
	return w
}

func (w *world) stubPool(chainID int, pool, token common.Address) {
	w.f.OnRead(chainID, pool, "token", func([]interface{}) ([]interface{}, error) {
		return []interface{}{token}, nil
	})
	w.f.OnRead(chainID, pool, "convertRate", func([]interface{}) ([]interface{}, error) {
		return []interface{}{new(big.Int).Set(w.rate)}, nil
	})
	w.f.OnRead(chainID, pool, "batched", func([]interface{}) ([]interface{}, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		return []interface{}{w.batched}, nil
	})
	w.f.OnRead(chainID, pool, "defaultLPMode", func([]interface{}) ([]interface{}, error) {
		return []interface{}{true}, nil
	})
	// one percent fee
	w.f.OnRead(chainID, pool, "calcFee", func(args []interface{}) ([]interface{}, error) {
		amountGD := new(big.Int).Quo(args[3].(*big.Int), w.rate)
		fee := new(big.Int).Quo(amountGD, big.NewInt(100))
		return []interface{}{retry.FeeInfo{
			AmountGD:         new(big.Int).Sub(amountGD, fee),
			ProtocolFee:      fee,
			LpFee:            big.NewInt(0),
			EqFee:            big.NewInt(0),
			EqReward:         big.NewInt(0),
			LastKnownBalance: big.NewInt(0),
		}}, nil
	})

	w.f.OnRead(chainID, token, "decimals", func([]interface{}) ([]interface{}, error) {
		return []interface{}{uint8(18)}, nil
	})
	w.f.OnRead(chainID, token, "allowance", func([]interface{}) ([]interface{}, error) {
		return []interface{}{w.allowance(token)}, nil
	})
	w.f.OnSend(chainID, token, "approve", func(_ *big.Int, args []interface{}) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.allowances[token] = new(big.Int).Set(args[1].(*big.Int))
		return nil
	})
	w.f.OnRead(chainID, token, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{w.tokenBalance(token, args[0].(common.Address))}, nil
	})
	w.f.OnSend(chainID, token, "mint", func(_ *big.Int, args []interface{}) error {
		w.credit20(token, args[0].(common.Address), args[1].(*big.Int))
		return nil
	})
}

func (w *world) stubBridge(chainID int, bridge, calculator common.Address) {
	w.f.OnRead(chainID, bridge, "relayerFeeCalculator", func([]interface{}) ([]interface{}, error) {
		return []interface{}{calculator}, nil
	})
	w.f.OnRead(chainID, calculator, "calcFee", func([]interface{}) ([]interface{}, error) {
		return []interface{}{struct{ Fee *big.Int }{Fee: milliEther(5)}}, nil
	})
	w.f.OnRead(chainID, bridge, "calcSrcNativeAmount", func([]interface{}) ([]interface{}, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		return []interface{}{new(big.Int).Set(w.nativeCost)}, nil
	})
	w.f.OnSend(chainID, bridge, "draw", func(_ *big.Int, args []interface{}) error {
		amount, to := args[0].(*big.Int), args[1].(common.Address)
		if !w.payNative(chainID, bridge, to, amount) {
			return ledger.ErrTxReverted
		}
		return nil
	})
}

func (w *world) stubToki(chainID int, token common.Address) {
	w.f.OnRead(chainID, token, "MINTER_ROLE", func([]interface{}) ([]interface{}, error) {
		return []interface{}{minterRole}, nil
	})
	w.f.OnRead(chainID, token, "SOFTCAP_ADMIN_ROLE", func([]interface{}) ([]interface{}, error) {
		return []interface{}{softcapRole}, nil
	})
	w.f.OnSend(chainID, token, "grantRole", func(_ *big.Int, args []interface{}) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.roles[token][args[0].([32]byte)] = true
		return nil
	})
	w.f.OnSend(chainID, token, "mint", func(_ *big.Int, args []interface{}) error {
		if !w.hasRole(token, minterRole) {
			return ledger.ErrTxReverted
		}
		w.credit20(token, args[0].(common.Address), args[1].(*big.Int))
		return nil
	})
	w.f.OnRead(chainID, token, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{w.tokenBalance(token, args[0].(common.Address))}, nil
	})
	w.f.OnRead(chainID, token, "totalSupply", func([]interface{}) ([]interface{}, error) {
		return []interface{}{w.supply(token)}, nil
	})
	w.f.OnRead(chainID, token, "softcap", func([]interface{}) ([]interface{}, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		return []interface{}{new(big.Int).Set(w.softcap)}, nil
	})
	w.f.OnSend(chainID, token, "setSoftcap", func(_ *big.Int, args []interface{}) error {
		if !w.hasRole(token, softcapRole) {
			return ledger.ErrTxReverted
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.softcap = new(big.Int).Set(args[0].(*big.Int))
		return nil
	})
}

func (w *world) stubMocks() {
	w.f.OnSend(eth, ethPayable, "setReceiveFail", func(_ *big.Int, args []interface{}) error {
		w.mu.Lock()
		w.receiveFail = args[0].(bool)
		w.mu.Unlock()
		return nil
	})
	w.f.OnSend(eth, ethOuterSvc, "setForceFail", func(_ *big.Int, args []interface{}) error {
		w.mu.Lock()
		w.forceFail = args[0].(bool)
		w.mu.Unlock()
		return nil
	})
	w.f.OnSend(eth, ethBridge, "retryOnReceive", func(_ *big.Int, args []interface{}) error {
		seq := args[1].(uint64)
		payload, err := w.f.GetPendingRetryPayload(context.Background(), eth, bnb, seq)
		if err != nil || retry.IsEmpty(payload) {
			return err
		}
		rec, err := retry.Decode(payload)
		if err != nil {
			return err
		}
		refuel, ok := rec.(retry.RefuelCall)
		if !ok {
			return nil
		}
		w.mu.Lock()
		fail := w.receiveFail
		w.mu.Unlock()
		if fail || !w.payNative(eth, ethBridge, refuel.Recipient, refuel.RefuelAmount) {
			return ledger.ErrTxReverted
		}
		w.f.SetRetry(eth, bnb, seq, nil)
		return nil
	})
}

func (w *world) stubBnbSends() {
	w.f.OnSendLogs(bnb, bnbBridge, "transferPool", func(_ *big.Int, args []interface{}) ([]*types.Log, error) {
		amountLD := args[3].(*big.Int)
		to := common.BytesToAddress(args[5].([]byte))
		refuel := args[6].(*big.Int)
		external := args[7].(retry.ExternalInfo)

		if err := w.pull(bnbToken, amountLD); err != nil {
			return nil, err
		}
		w.mu.Lock()
		receiveFail, forceFail, reward := w.receiveFail, w.forceFail, w.reward
		w.mu.Unlock()
		seq := w.nextSequence()

		amountGD := new(big.Int).Quo(amountLD, w.rate)
		delivered := new(big.Int).Mul(new(big.Int).Sub(amountGD, new(big.Int).Quo(amountGD, big.NewInt(100))), w.rate)
		if reward != nil {
			delivered.Add(delivered, reward)
		}

		w.enqueue(func() {
			w.credit20(ethToken, to, delivered)
			switch to {
			case ethPayable:
				if receiveFail {
					w.park(seq, retry.RefuelCall{Recipient: to, RefuelAmount: refuel})
					return
				}
			case ethOuterSvc:
				if forceFail || external.DstOuterGas.Sign() == 0 {
					w.park(seq, retry.ExternalCall{Token: ethToken, Amount: delivered, Recipient: to, ExternalInfo: external})
				}
			}
			w.refuel(seq, to, refuel)
		})
		return w.packet(seq, args[0].(string)), nil
	})

	w.f.OnSendLogs(bnb, bnbBridge, "withdrawRemote", func(_ *big.Int, args []interface{}) ([]*types.Log, error) {
		amountGD := args[3].(*big.Int)
		to := common.BytesToAddress(args[5].([]byte))

		w.mu.Lock()
		if w.lp.Cmp(amountGD) < 0 {
			w.mu.Unlock()
			return nil, ledger.ErrTxReverted
		}
		w.lp.Sub(w.lp, amountGD)
		w.mu.Unlock()
		seq := w.nextSequence()

		delivered := new(big.Int).Mul(new(big.Int).Sub(amountGD, new(big.Int).Quo(amountGD, big.NewInt(100))), w.rate)
		w.enqueue(func() {
			w.credit20(ethToken, to, delivered)
		})
		return w.packet(seq, args[0].(string)), nil
	})

	w.f.OnSendLogs(bnb, bnbBridge, "transferToken", func(_ *big.Int, args []interface{}) ([]*types.Log, error) {
		denom := args[1].(string)
		amount := args[2].(*big.Int)
		to := common.BytesToAddress(args[3].([]byte))
		refuel := args[4].(*big.Int)
		external := args[5].(retry.ExternalInfo)

		if err := w.burn(bnbToki, bnbWallet, amount); err != nil {
			return nil, err
		}
		seq := w.nextSequence()

		w.enqueue(func() {
			w.mu.Lock()
			capped := w.softcap
			w.mu.Unlock()
			if new(big.Int).Add(w.supply(ethToki), amount).Cmp(capped) > 0 {
				w.park(seq, retry.ReceiveToken{
					Denom: denom, Amount: amount, Recipient: to, RefuelAmount: refuel, ExternalInfo: external,
				})
				return
			}
			w.credit20(ethToki, to, amount)
			w.refuel(seq, to, refuel)
		})
		return w.packet(seq, args[0].(string)), nil
	})

	w.f.OnSend(bnb, bnbBridge, "deposit", func(_ *big.Int, args []interface{}) error {
		amountLD := args[1].(*big.Int)
		if err := w.pull(bnbToken, amountLD); err != nil {
			return err
		}
		amountGD := new(big.Int).Quo(amountLD, w.rate)
		w.mu.Lock()
		defer w.mu.Unlock()
		w.lp.Add(w.lp, amountGD)
		if w.selfPeer {
			share := new(big.Int).Quo(amountGD, big.NewInt(2))
			w.selfOwed.Add(w.selfOwed, share)
			w.deposited.Add(w.deposited, share)
			return nil
		}
		w.deposited.Add(w.deposited, amountGD)
		return nil
	})
	w.f.OnSend(bnb, bnbBridge, "sendCredit", func(value *big.Int, _ []interface{}) error {
		if value == nil || value.Cmp(milliEther(5)) < 0 {
			return ledger.ErrTxReverted
		}
		w.mu.Lock()
		owed := w.deposited
		w.deposited = big.NewInt(0)
		w.mu.Unlock()
		w.enqueue(func() {
			w.mu.Lock()
			w.credit.Add(w.credit, owed)
			w.mu.Unlock()
		})
		return nil
	})
	w.f.OnSend(bnb, bnbBridge, "sendCreditInLedger", func(_ *big.Int, args []interface{}) error {
		if args[0].(*big.Int).Sign() != 0 || args[1].(*big.Int).Sign() != 0 {
			return ledger.ErrTxReverted
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.selfCredit.Add(w.selfCredit, w.selfOwed)
		w.selfOwed = big.NewInt(0)
		return nil
	})
}

// nextSequence numbers a packet sent from bnb, after any foreign packets.
func (w *world) nextSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sequence += w.foreign
	w.foreign = 0
	seq := w.sequence
	w.sequence++
	return seq
}

func (w *world) packet(seq uint64, channel string) []*types.Log {
	return []*types.Log{ledgertest.PacketLog(bnbHandler, seq, "transfer", channel)}
}

// pull moves amount from the bnb wallet to the bridge through the allowance.
func (w *world) pull(token common.Address, amount *big.Int) error {
	w.mu.Lock()
	allowed, ok := w.allowances[token]
	if !ok || allowed.Cmp(amount) < 0 {
		w.mu.Unlock()
		return ledger.ErrTxReverted
	}
	w.allowances[token] = new(big.Int).Sub(allowed, amount)
	w.mu.Unlock()
	return w.burn(token, bnbWallet, amount)
}

func (w *world) burn(token, holder common.Address, amount *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.tokens[token][holder]
	if !ok || cur.Cmp(amount) < 0 {
		return ledger.ErrTxReverted
	}
	w.tokens[token][holder] = new(big.Int).Sub(cur, amount)
	return nil
}

// refuel pays the destination native amount out of the eth bridge. A bridge
// that cannot cover it parks the refuel instead.
func (w *world) refuel(seq uint64, to common.Address, amount *big.Int) {
	if !w.payNative(eth, ethBridge, to, amount) {
		w.park(seq, retry.RefuelCall{Recipient: to, RefuelAmount: amount})
	}
}

func (w *world) payNative(chainID int, from, to common.Address, amount *big.Int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal, err := w.f.GetBalance(context.Background(), chainID, from)
	if err != nil || bal.Cmp(amount) < 0 {
		return false
	}
	w.f.AddBalance(chainID, from, new(big.Int).Neg(amount))
	w.f.AddBalance(chainID, to, amount)
	return true
}

func (w *world) park(seq uint64, rec retry.Record) {
	payload, err := retry.Encode(rec)
	require.NoError(w.t, err)
	w.f.SetRetry(eth, bnb, seq, payload)
}

func (w *world) enqueue(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queued = append(w.queued, fn)
}

// relay delivers everything queued, unless the relayer is stalled.
func (w *world) relay() {
	w.mu.Lock()
	if w.stalled {
		w.mu.Unlock()
		return
	}
	queued := w.queued
	w.queued = nil
	w.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}

func (w *world) allowance(token common.Address) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a, ok := w.allowances[token]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

func (w *world) hasRole(token common.Address, role [32]byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.roles[token][role]
}

func (w *world) supply(token common.Address) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := new(big.Int)
	for _, bal := range w.tokens[token] {
		total.Add(total, bal)
	}
	return total
}

func (w *world) tokenBalance(token, holder common.Address) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if bal, ok := w.tokens[token][holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (w *world) credit20(token, holder common.Address, amount *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.tokens[token][holder]
	if !ok {
		cur = big.NewInt(0)
	}
	w.tokens[token][holder] = new(big.Int).Add(cur, amount)
}

func (w *world) clock() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *world) sleep(_ context.Context, d time.Duration) error {
	w.mu.Lock()
	w.now = w.now.Add(d)
	w.mu.Unlock()
	w.relay()
	return nil
}

// newAccount hands out freshRecipient first and distinct addresses after it.
func (w *world) newAccount() common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.accounts
	w.accounts++
	return common.BigToAddress(new(big.Int).Add(freshRecipient.Big(), new(big.Int).SetUint64(n)))
}

func (w *world) env() *Env {
	routes := Routes{
		{bnb, eth}: {SrcPort: "transfer", SrcChannel: "channel-0", DstPort: "transfer", DstChannel: "channel-1"},
		{eth, bnb}: {SrcPort: "transfer", SrcChannel: "channel-1", DstPort: "transfer", DstChannel: "channel-0"},
	}
	e := NewEnv(w.f, routes, []units.Pool{bnbPool, ethPool}, poller.Options{
		Timeout:  poller.DefaultTimeout,
		Interval: poller.DefaultInterval,
		Now:      w.clock,
		Sleep:    w.sleep,
	}, nil)
	e.NewAccount = w.newAccount
	return e
}

func (w *world) sentTx(method string) (ledgertest.SentTx, bool) {
	for _, tx := range w.f.Sent {
		if tx.Method == method {
			return tx, true
		}
	}
	return ledgertest.SentTx{}, false
}
