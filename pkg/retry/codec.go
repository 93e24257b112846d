package retry

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrEmptyPayload is returned by Decode when it is handed the sentinel.
var ErrEmptyPayload = errors.New("empty retry payload")

// DecodeError reports a payload that does not match any known layout.
type DecodeError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "retry: " + e.Reason
	if e.Kind != 0 {
		msg = fmt.Sprintf("retry: %s (kind %s)", e.Reason, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	uint8Type   = mustType("uint8", nil)
	uint256Type = mustType("uint256", nil)
	addressType = mustType("address", nil)
	stringType  = mustType("string", nil)

	feeInfoType = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "amountGD", Type: "uint256"},
		{Name: "protocolFee", Type: "uint256"},
		{Name: "lpFee", Type: "uint256"},
		{Name: "eqFee", Type: "uint256"},
		{Name: "eqReward", Type: "uint256"},
		{Name: "lastKnownBalance", Type: "uint256"},
	})
	externalInfoType = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "payload", Type: "bytes"},
		{Name: "dstOuterGas", Type: "uint256"},
	})

	tagArguments = abi.Arguments{{Type: uint8Type}}

	layouts = map[Kind]abi.Arguments{
		KindReceivePool: args(uint8Type, uint256Type, uint256Type, uint256Type, uint256Type,
			addressType, feeInfoType, uint256Type, externalInfoType),
		KindWithdrawConfirm: args(uint8Type, uint256Type, uint256Type, uint256Type, uint256Type,
			addressType, uint256Type, uint256Type),
		KindReceiveToken: args(uint8Type, uint256Type, uint256Type, stringType, uint256Type,
			addressType, uint256Type, externalInfoType),
		KindExternalCall: args(uint8Type, uint256Type, uint256Type, addressType, uint256Type,
			addressType, externalInfoType),
		KindRefuelCall: args(uint8Type, uint256Type, uint256Type, addressType, uint256Type),
		KindRefuelAndExternalCall: args(uint8Type, uint256Type, uint256Type, addressType, uint256Type,
			addressType, uint256Type, externalInfoType),
	}
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("retry: abi type %s: %v", t, err))
	}
	return typ
}

func args(types ...abi.Type) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: t}
	}
	return out
}

// IsEmpty reports whether payload is the "nothing pending" sentinel.
func IsEmpty(payload []byte) bool {
	return len(payload) == 0
}

// ParsePayload decodes the 0x-prefixed hex form returned over JSON-RPC.
func ParsePayload(hexPayload string) ([]byte, error) {
	if hexPayload == "" || hexPayload == "0x" {
		return nil, nil
	}
	b, err := hexutil.Decode(hexPayload)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid hex payload", Err: err}
	}
	return b, nil
}

// DecodePending decodes payload unless it is the sentinel, in which case it
// returns ok=false and no error.
func DecodePending(payload []byte) (rec Record, ok bool, err error) {
	if IsEmpty(payload) {
		return nil, false, nil
	}
	rec, err = Decode(payload)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Decode parses a non-empty retry payload into its typed record. The payload
// must be the canonical encoding of the variant: trailing or malformed bytes
// are rejected.
func Decode(payload []byte) (Record, error) {
	if IsEmpty(payload) {
		return nil, &DecodeError{Reason: "nothing to decode", Err: ErrEmptyPayload}
	}

	head, err := tagArguments.Unpack(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "read discriminant", Err: err}
	}
	kind := Kind(head[0].(uint8))

	layout, ok := layouts[kind]
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown retry type %d", uint8(kind))}
	}

	values, err := layout.Unpack(payload)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Reason: "layout mismatch", Err: err}
	}

	rec := fromValues(kind, values)

	canonical, err := Encode(rec)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Reason: "re-encode", Err: err}
	}
	if !bytes.Equal(canonical, payload) {
		return nil, &DecodeError{Kind: kind, Reason: "non-canonical encoding"}
	}
	return rec, nil
}

// Encode produces the canonical payload for r.
func Encode(r Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("retry: encode nil record")
	}
	layout, ok := layouts[r.Kind()]
	if !ok {
		return nil, fmt.Errorf("retry: encode unknown kind %s", r.Kind())
	}

	version, height := r.Header()
	values := []interface{}{uint8(r.Kind()), orZero(version), orZero(height)}

	switch x := r.(type) {
	case ReceivePool:
		values = append(values,
			orZero(x.SrcPoolID), orZero(x.DstPoolID), x.Recipient,
			feeInfoValue(x.FeeInfo), orZero(x.RefuelAmount), externalValue(x.ExternalInfo))
	case WithdrawConfirm:
		values = append(values,
			orZero(x.SrcPoolID), orZero(x.DstPoolID), x.Recipient,
			orZero(x.TransferAmount), orZero(x.MintAmount))
	case ReceiveToken:
		values = append(values,
			x.Denom, orZero(x.Amount), x.Recipient,
			orZero(x.RefuelAmount), externalValue(x.ExternalInfo))
	case ExternalCall:
		values = append(values,
			x.Token, orZero(x.Amount), x.Recipient, externalValue(x.ExternalInfo))
	case RefuelCall:
		values = append(values, x.Recipient, orZero(x.RefuelAmount))
	case RefuelAndExternalCall:
		values = append(values,
			x.Token, orZero(x.Amount), x.Recipient,
			orZero(x.RefuelAmount), externalValue(x.ExternalInfo))
	default:
		return nil, fmt.Errorf("retry: unsupported record %T", r)
	}

	out, err := layout.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("retry: pack %s: %w", r.Kind(), err)
	}
	return out, nil
}

// fromValues maps unpacked values onto the variant struct. The value types
// are fixed by the layout, so the assertions cannot fail.
func fromValues(kind Kind, v []interface{}) Record {
	version, height := v[1].(*big.Int), v[2].(*big.Int)

	switch kind {
	case KindReceivePool:
		return ReceivePool{
			AppVersion:      version,
			LastValidHeight: height,
			SrcPoolID:       v[3].(*big.Int),
			DstPoolID:       v[4].(*big.Int),
			Recipient:       v[5].(common.Address),
			FeeInfo:         *abi.ConvertType(v[6], new(FeeInfo)).(*FeeInfo),
			RefuelAmount:    v[7].(*big.Int),
			ExternalInfo:    *abi.ConvertType(v[8], new(ExternalInfo)).(*ExternalInfo),
		}
	case KindWithdrawConfirm:
		return WithdrawConfirm{
			AppVersion:      version,
			LastValidHeight: height,
			SrcPoolID:       v[3].(*big.Int),
			DstPoolID:       v[4].(*big.Int),
			Recipient:       v[5].(common.Address),
			TransferAmount:  v[6].(*big.Int),
			MintAmount:      v[7].(*big.Int),
		}
	case KindReceiveToken:
		return ReceiveToken{
			AppVersion:      version,
			LastValidHeight: height,
			Denom:           v[3].(string),
			Amount:          v[4].(*big.Int),
			Recipient:       v[5].(common.Address),
			RefuelAmount:    v[6].(*big.Int),
			ExternalInfo:    *abi.ConvertType(v[7], new(ExternalInfo)).(*ExternalInfo),
		}
	case KindExternalCall:
		return ExternalCall{
			AppVersion:      version,
			LastValidHeight: height,
			Token:           v[3].(common.Address),
			Amount:          v[4].(*big.Int),
			Recipient:       v[5].(common.Address),
			ExternalInfo:    *abi.ConvertType(v[6], new(ExternalInfo)).(*ExternalInfo),
		}
	case KindRefuelCall:
		return RefuelCall{
			AppVersion:      version,
			LastValidHeight: height,
			Recipient:       v[3].(common.Address),
			RefuelAmount:    v[4].(*big.Int),
		}
	default:
		return RefuelAndExternalCall{
			AppVersion:      version,
			LastValidHeight: height,
			Token:           v[3].(common.Address),
			Amount:          v[4].(*big.Int),
			Recipient:       v[5].(common.Address),
			RefuelAmount:    v[6].(*big.Int),
			ExternalInfo:    *abi.ConvertType(v[7], new(ExternalInfo)).(*ExternalInfo),
		}
	}
}

func feeInfoValue(f FeeInfo) FeeInfo {
	return FeeInfo{
		AmountGD:         orZero(f.AmountGD),
		ProtocolFee:      orZero(f.ProtocolFee),
		LpFee:            orZero(f.LpFee),
		EqFee:            orZero(f.EqFee),
		EqReward:         orZero(f.EqReward),
		LastKnownBalance: orZero(f.LastKnownBalance),
	}
}

func externalValue(e ExternalInfo) ExternalInfo {
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	return ExternalInfo{Payload: payload, DstOuterGas: orZero(e.DstOuterGas)}
}
