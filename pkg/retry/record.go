package retry

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the leading discriminant of a retry payload.
type Kind uint8

const (
	KindReceivePool           Kind = 1
	KindWithdrawConfirm       Kind = 2
	KindReceiveToken          Kind = 5
	KindExternalCall          Kind = 10
	KindRefuelCall            Kind = 11
	KindRefuelAndExternalCall Kind = 12
)

var kindNames = map[Kind]string{
	KindReceivePool:           "RECEIVE_POOL",
	KindWithdrawConfirm:       "WITHDRAW_CONFIRM",
	KindReceiveToken:          "RECEIVE_TOKEN",
	KindExternalCall:          "EXTERNAL_CALL",
	KindRefuelCall:            "REFUEL_CALL",
	KindRefuelAndExternalCall: "REFUEL_AND_EXTERNAL_CALL",
}

// Kinds returns every supported discriminant in ascending order.
func Kinds() []Kind {
	return []Kind{
		KindReceivePool,
		KindWithdrawConfirm,
		KindReceiveToken,
		KindExternalCall,
		KindRefuelCall,
		KindRefuelAndExternalCall,
	}
}

// Valid reports whether k is a known discriminant.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// String returns the typename of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
}

// ParseKind resolves a typename back to its discriminant.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// FeeInfo is the fee breakdown computed by the source pool.
type FeeInfo struct {
	AmountGD         *big.Int
	ProtocolFee      *big.Int
	LpFee            *big.Int
	EqFee            *big.Int
	EqReward         *big.Int
	LastKnownBalance *big.Int
}

// ExternalInfo carries the outer-call payload and its gas budget.
type ExternalInfo struct {
	Payload     []byte
	DstOuterGas *big.Int
}

// Record is a decoded retry payload. The concrete type is one of the six
// variant structs in this package.
type Record interface {
	Kind() Kind
	// Header returns the fields every variant starts with.
	Header() (appVersion, lastValidHeight *big.Int)

	isRecord()
}

type ReceivePool struct {
	AppVersion      *big.Int
	LastValidHeight *big.Int
	SrcPoolID       *big.Int
	DstPoolID       *big.Int
	Recipient       common.Address
	FeeInfo         FeeInfo
	RefuelAmount    *big.Int
	ExternalInfo    ExternalInfo
}

type WithdrawConfirm struct {
	AppVersion      *big.Int
	LastValidHeight *big.Int
	SrcPoolID       *big.Int
	DstPoolID       *big.Int
	Recipient       common.Address
	TransferAmount  *big.Int
	MintAmount      *big.Int
}

type ReceiveToken struct {
	AppVersion      *big.Int
	LastValidHeight *big.Int
	Denom           string
	Amount          *big.Int
	Recipient       common.Address
	RefuelAmount    *big.Int
	ExternalInfo    ExternalInfo
}

type ExternalCall struct {
	AppVersion      *big.Int
	LastValidHeight *big.Int
	Token           common.Address
	Amount          *big.Int
	Recipient       common.Address
	ExternalInfo    ExternalInfo
}

type RefuelCall struct {
	AppVersion      *big.Int
	LastValidHeight *big.Int
	Recipient       common.Address
	RefuelAmount    *big.Int
}

type RefuelAndExternalCall struct {
	AppVersion      *big.Int
	LastValidHeight *big.Int
	Token           common.Address
	Amount          *big.Int
	Recipient       common.Address
	RefuelAmount    *big.Int
	ExternalInfo    ExternalInfo
}

func (ReceivePool) Kind() Kind           { return KindReceivePool }
func (WithdrawConfirm) Kind() Kind       { return KindWithdrawConfirm }
func (ReceiveToken) Kind() Kind          { return KindReceiveToken }
func (ExternalCall) Kind() Kind          { return KindExternalCall }
func (RefuelCall) Kind() Kind            { return KindRefuelCall }
func (RefuelAndExternalCall) Kind() Kind { return KindRefuelAndExternalCall }

func (r ReceivePool) Header() (*big.Int, *big.Int)     { return r.AppVersion, r.LastValidHeight }
func (r WithdrawConfirm) Header() (*big.Int, *big.Int) { return r.AppVersion, r.LastValidHeight }
func (r ReceiveToken) Header() (*big.Int, *big.Int)    { return r.AppVersion, r.LastValidHeight }
func (r ExternalCall) Header() (*big.Int, *big.Int)    { return r.AppVersion, r.LastValidHeight }
func (r RefuelCall) Header() (*big.Int, *big.Int)      { return r.AppVersion, r.LastValidHeight }
func (r RefuelAndExternalCall) Header() (*big.Int, *big.Int) {
	return r.AppVersion, r.LastValidHeight
}

func (ReceivePool) isRecord()           {}
func (WithdrawConfirm) isRecord()       {}
func (ReceiveToken) isRecord()          {}
func (ExternalCall) isRecord()          {}
func (RefuelCall) isRecord()            {}
func (RefuelAndExternalCall) isRecord() {}

func IsReceivePool(r Record) bool           { return r != nil && r.Kind() == KindReceivePool }
func IsWithdrawConfirm(r Record) bool       { return r != nil && r.Kind() == KindWithdrawConfirm }
func IsReceiveToken(r Record) bool          { return r != nil && r.Kind() == KindReceiveToken }
func IsExternalCall(r Record) bool          { return r != nil && r.Kind() == KindExternalCall }
func IsRefuelCall(r Record) bool            { return r != nil && r.Kind() == KindRefuelCall }
func IsRefuelAndExternalCall(r Record) bool { return r != nil && r.Kind() == KindRefuelAndExternalCall }

// Equal compares two records field by field. Nil integers compare equal to zero.
func Equal(a, b Record) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	av, ah := a.Header()
	bv, bh := b.Header()
	if !eqInt(av, bv) || !eqInt(ah, bh) {
		return false
	}

	switch x := a.(type) {
	case ReceivePool:
		y := b.(ReceivePool)
		return eqInt(x.SrcPoolID, y.SrcPoolID) &&
			eqInt(x.DstPoolID, y.DstPoolID) &&
			x.Recipient == y.Recipient &&
			eqFeeInfo(x.FeeInfo, y.FeeInfo) &&
			eqInt(x.RefuelAmount, y.RefuelAmount) &&
			eqExternal(x.ExternalInfo, y.ExternalInfo)
	case WithdrawConfirm:
		y := b.(WithdrawConfirm)
		return eqInt(x.SrcPoolID, y.SrcPoolID) &&
			eqInt(x.DstPoolID, y.DstPoolID) &&
			x.Recipient == y.Recipient &&
			eqInt(x.TransferAmount, y.TransferAmount) &&
			eqInt(x.MintAmount, y.MintAmount)
	case ReceiveToken:
		y := b.(ReceiveToken)
		return x.Denom == y.Denom &&
			eqInt(x.Amount, y.Amount) &&
			x.Recipient == y.Recipient &&
			eqInt(x.RefuelAmount, y.RefuelAmount) &&
			eqExternal(x.ExternalInfo, y.ExternalInfo)
	case ExternalCall:
		y := b.(ExternalCall)
		return x.Token == y.Token &&
			eqInt(x.Amount, y.Amount) &&
			x.Recipient == y.Recipient &&
			eqExternal(x.ExternalInfo, y.ExternalInfo)
	case RefuelCall:
		y := b.(RefuelCall)
		return x.Recipient == y.Recipient && eqInt(x.RefuelAmount, y.RefuelAmount)
	case RefuelAndExternalCall:
		y := b.(RefuelAndExternalCall)
		return x.Token == y.Token &&
			eqInt(x.Amount, y.Amount) &&
			x.Recipient == y.Recipient &&
			eqInt(x.RefuelAmount, y.RefuelAmount) &&
			eqExternal(x.ExternalInfo, y.ExternalInfo)
	}
	return false
}

func eqInt(a, b *big.Int) bool {
	return orZero(a).Cmp(orZero(b)) == 0
}

func eqFeeInfo(a, b FeeInfo) bool {
	return eqInt(a.AmountGD, b.AmountGD) &&
		eqInt(a.ProtocolFee, b.ProtocolFee) &&
		eqInt(a.LpFee, b.LpFee) &&
		eqInt(a.EqFee, b.EqFee) &&
		eqInt(a.EqReward, b.EqReward) &&
		eqInt(a.LastKnownBalance, b.LastKnownBalance)
}

func eqExternal(a, b ExternalInfo) bool {
	return bytes.Equal(a.Payload, b.Payload) && eqInt(a.DstOuterGas, b.DstOuterGas)
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
