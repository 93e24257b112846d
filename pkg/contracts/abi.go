package contracts

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract names as they appear in the deploy report.
const (
	Bridge               = "Bridge"
	Pool                 = "Pool"
	PooledToken          = "PooledToken"
	IBCHandler           = "OwnableIBCHandler"
	RelayerFeeCalculator = "RelayerFeeCalculator"
	MockPayable          = "MockPayable"
	MockUnpayable        = "MockUnpayable"
	MockOuterService     = "MockOuterService"
	TokiToken            = "TokiToken"
)

// Function types understood by the relayer fee calculator.
const (
	FunctionTransferPool  uint8 = 0
	FunctionTransferToken uint8 = 1
	FunctionWithdrawLocal uint8 = 2
	FunctionSendCredit    uint8 = 3
	FunctionOther         uint8 = 4
)

const externalInfoComponents = `[{"name":"payload","type":"bytes"},{"name":"dstOuterGas","type":"uint256"}]`

const feeInfoComponents = `[
	{"name":"amountGD","type":"uint256"},
	{"name":"protocolFee","type":"uint256"},
	{"name":"lpFee","type":"uint256"},
	{"name":"eqFee","type":"uint256"},
	{"name":"eqReward","type":"uint256"},
	{"name":"lastKnownBalance","type":"uint256"}]`

const peerPoolInfoComponents = `[
	{"name":"chainId","type":"uint256"},
	{"name":"id","type":"uint256"},
	{"name":"weight","type":"uint256"},
	{"name":"balance","type":"uint256"},
	{"name":"targetBalance","type":"uint256"},
	{"name":"lastKnownBalance","type":"uint256"},
	{"name":"credits","type":"uint256"},
	{"name":"ready","type":"bool"}]`

// BridgeABI covers the bridge entry points the harness drives and the
// pending-retry view.
const BridgeABI = `[
	{"type":"function","name":"transferPool","stateMutability":"payable","outputs":[],"inputs":[
		{"name":"srcChannel","type":"string"},
		{"name":"srcPoolId","type":"uint256"},
		{"name":"dstPoolId","type":"uint256"},
		{"name":"amountLD","type":"uint256"},
		{"name":"minAmountLD","type":"uint256"},
		{"name":"to","type":"bytes"},
		{"name":"refuelAmount","type":"uint256"},
		{"name":"externalInfo","type":"tuple","components":` + externalInfoComponents + `},
		{"name":"refundTo","type":"address"}]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"poolId","type":"uint256"},
		{"name":"amountLD","type":"uint256"},
		{"name":"to","type":"address"}]},
	{"type":"function","name":"callDelta","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"poolId","type":"uint256"},
		{"name":"fullMode","type":"bool"}]},
	{"type":"function","name":"sendCredit","stateMutability":"payable","outputs":[],"inputs":[
		{"name":"srcChannel","type":"string"},
		{"name":"srcPoolId","type":"uint256"},
		{"name":"dstPoolId","type":"uint256"},
		{"name":"refundTo","type":"address"}]},
	{"type":"function","name":"sendCreditInLedger","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"srcPoolId","type":"uint256"},
		{"name":"dstPoolId","type":"uint256"}]},
	{"type":"function","name":"withdrawRemote","stateMutability":"payable","outputs":[],"inputs":[
		{"name":"srcChannel","type":"string"},
		{"name":"srcPoolId","type":"uint256"},
		{"name":"dstPoolId","type":"uint256"},
		{"name":"amountGD","type":"uint256"},
		{"name":"minAmountGD","type":"uint256"},
		{"name":"to","type":"bytes"},
		{"name":"refundTo","type":"address"}]},
	{"type":"function","name":"transferToken","stateMutability":"payable","outputs":[],"inputs":[
		{"name":"srcChannel","type":"string"},
		{"name":"denom","type":"string"},
		{"name":"amount","type":"uint256"},
		{"name":"to","type":"bytes"},
		{"name":"refuelAmount","type":"uint256"},
		{"name":"externalInfo","type":"tuple","components":` + externalInfoComponents + `},
		{"name":"refundTo","type":"address"}]},
	{"type":"function","name":"draw","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"to","type":"address"}]},
	{"type":"function","name":"retryOnReceive","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"srcChannel","type":"string"},
		{"name":"sequence","type":"uint64"}]},
	{"type":"function","name":"revertReceive","stateMutability":"view","inputs":[
		{"name":"chainId","type":"uint256"},
		{"name":"sequence","type":"uint64"}],
		"outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"refuelDstCap","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"relayerFeeCalculator","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"calcSrcNativeAmount","stateMutability":"view","inputs":[
		{"name":"dstChainId","type":"uint256"},
		{"name":"gas","type":"uint256"},
		{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getChainId","stateMutability":"view","inputs":[
		{"name":"localChannel","type":"string"},
		{"name":"checksAppVersion","type":"bool"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"RevertReceive","anonymous":false,"inputs":[
		{"name":"retryType","type":"uint8","indexed":false},
		{"name":"srcChainId","type":"uint256","indexed":false},
		{"name":"sequence","type":"uint64","indexed":false}]}
]`

// PoolABI is the subset of the pool read interface used for reconciliation.
const PoolABI = `[
	{"type":"function","name":"convertRate","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPeerPoolInfo","stateMutability":"view","inputs":[
		{"name":"peerChainId","type":"uint256"},
		{"name":"peerPoolId","type":"uint256"}],
		"outputs":[{"name":"","type":"tuple","components":` + peerPoolInfoComponents + `}]},
	{"type":"function","name":"calcFee","stateMutability":"view","inputs":[
		{"name":"dstChainId","type":"uint256"},
		{"name":"dstPoolId","type":"uint256"},
		{"name":"from","type":"address"},
		{"name":"amountLD","type":"uint256"}],
		"outputs":[{"name":"","type":"tuple","components":` + feeInfoComponents + `}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"batched","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"defaultLPMode","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"token","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"peerPoolInfoIndexSeek","stateMutability":"view","inputs":[
		{"name":"chainId","type":"uint256"},
		{"name":"id","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"peerPoolInfos","stateMutability":"view","inputs":[
		{"name":"index","type":"uint256"}],
		"outputs":` + peerPoolInfoComponents + `}
]`

// ERC20ABI includes the mint entry point of the test pseudo tokens.
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},
		{"name":"spender","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"Approval","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"spender","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

// IBCHandlerABI carries the event a packet send emits. The sequence in it is
// the one the destination receives the packet under.
const IBCHandlerABI = `[
	{"type":"event","name":"SendPacket","anonymous":false,"inputs":[
		{"name":"sequence","type":"uint64","indexed":false},
		{"name":"sourcePort","type":"string","indexed":false},
		{"name":"sourceChannel","type":"string","indexed":false},
		{"name":"timeoutHeight","type":"tuple","indexed":false,"components":[
			{"name":"revision_number","type":"uint64"},
			{"name":"revision_height","type":"uint64"}]},
		{"name":"timeoutTimestamp","type":"uint64","indexed":false},
		{"name":"data","type":"bytes","indexed":false}]}
]`

// TokiTokenABI is the bridged governance token with its role and softcap
// administration.
const TokiTokenABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"softcap","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"setSoftcap","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"softcap","type":"uint256"}]},
	{"type":"function","name":"MINTER_ROLE","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"SOFTCAP_ADMIN_ROLE","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"grantRole","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"role","type":"bytes32"},
		{"name":"account","type":"address"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}]}
]`

// RelayerFeeCalculatorABI prices relayer work per function type.
const RelayerFeeCalculatorABI = `[
	{"type":"function","name":"calcFee","stateMutability":"view","inputs":[
		{"name":"ftype","type":"uint8"},
		{"name":"dstChainId","type":"uint256"}],
		"outputs":[{"name":"","type":"tuple","components":[{"name":"fee","type":"uint256"}]}]}
]`

// MockReceiverABI is shared by the payable and unpayable test receivers.
const MockReceiverABI = `[
	{"type":"function","name":"setReceiveFail","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"fail","type":"bool"}]},
	{"type":"function","name":"setFallbackFail","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"fail","type":"bool"}]},
	{"type":"event","name":"MockPayableReceived","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":false},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"MockUnpayableReceived","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":false},
		{"name":"value","type":"uint256","indexed":false}]}
]`

// MockOuterServiceABI controls the external-call target.
const MockOuterServiceABI = `[
	{"type":"function","name":"setForceFail","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"forceFail","type":"bool"}]},
	{"type":"event","name":"OnReceived","anonymous":false,"inputs":[
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"payload","type":"bytes","indexed":false}]}
]`

var (
	parseOnce sync.Once
	parsed    map[string]abi.ABI
	parseErr  error
)

var sources = map[string]string{
	Bridge:               BridgeABI,
	Pool:                 PoolABI,
	PooledToken:          ERC20ABI,
	IBCHandler:           IBCHandlerABI,
	RelayerFeeCalculator: RelayerFeeCalculatorABI,
	MockPayable:          MockReceiverABI,
	MockUnpayable:        MockReceiverABI,
	MockOuterService:     MockOuterServiceABI,
	TokiToken:            TokiTokenABI,
}

func parseAll() {
	parsed = make(map[string]abi.ABI, len(sources))
	for name, src := range sources {
		a, err := abi.JSON(strings.NewReader(src))
		if err != nil {
			parseErr = fmt.Errorf("parse %s abi: %w", name, err)
			return
		}
		parsed[name] = a
	}
}

// ABI returns the parsed ABI for a contract name.
func ABI(name string) (abi.ABI, error) {
	parseOnce.Do(parseAll)
	if parseErr != nil {
		return abi.ABI{}, parseErr
	}
	a, ok := parsed[name]
	if !ok {
		return abi.ABI{}, fmt.Errorf("no abi registered for contract %q", name)
	}
	return a, nil
}

// MustABI is ABI for the fixed names above; it panics on an unknown name.
func MustABI(name string) abi.ABI {
	a, err := ABI(name)
	if err != nil {
		panic(err)
	}
	return a
}

// Names lists every contract with a registered ABI.
func Names() []string {
	out := make([]string, 0, len(sources))
	for name := range sources {
		out = append(out, name)
	}
	return out
}
