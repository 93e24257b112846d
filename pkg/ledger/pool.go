package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

var (
	// ErrNoPool is returned when a chain has no pool with the requested id.
	ErrNoPool = errors.New("pool not deployed")
	// ErrNoPacket is returned when a receipt carries no SendPacket log for the
	// expected channel.
	ErrNoPacket = errors.New("no packet sent")
)

// PeerPoolInfo is a pool's view of one of its peers.
type PeerPoolInfo struct {
	ChainID          *big.Int
	ID               *big.Int
	Weight           *big.Int
	Balance          *big.Int
	TargetBalance    *big.Int
	LastKnownBalance *big.Int
	Credits          *big.Int
	Ready            bool
}

// field names follow the tuple components so abi.ConvertType can map them
type peerPoolInfoABI struct {
	ChainId          *big.Int
	Id               *big.Int
	Weight           *big.Int
	Balance          *big.Int
	TargetBalance    *big.Int
	LastKnownBalance *big.Int
	Credits          *big.Int
	Ready            bool
}

func (p peerPoolInfoABI) info() PeerPoolInfo {
	return PeerPoolInfo{
		ChainID:          p.ChainId,
		ID:               p.Id,
		Weight:           p.Weight,
		Balance:          p.Balance,
		TargetBalance:    p.TargetBalance,
		LastKnownBalance: p.LastKnownBalance,
		Credits:          p.Credits,
		Ready:            p.Ready,
	}
}

// PoolAddress resolves a pool contract from the deploy report.
func PoolAddress(c Client, pool units.Pool) (common.Address, error) {
	d, err := c.Deployment(pool.ChainID)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := d.Lookup(PoolName(pool.PoolID))
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", pool, ErrNoPool)
	}
	return addr, nil
}

func callPool(ctx context.Context, c Client, pool units.Pool, method string, args ...interface{}) ([]interface{}, error) {
	addr, err := PoolAddress(c, pool)
	if err != nil {
		return nil, err
	}
	return c.CallRead(ctx, pool.ChainID, addr, contracts.MustABI(contracts.Pool), method, args...)
}

// GetPeerPoolInfo reads pool's record for (peerChainID, peerPoolID).
func GetPeerPoolInfo(ctx context.Context, c Client, pool units.Pool, peer units.Pool) (PeerPoolInfo, error) {
	out, err := callPool(ctx, c, pool, "getPeerPoolInfo", big.NewInt(int64(peer.ChainID)), new(big.Int).SetUint64(peer.PoolID))
	if err != nil {
		return PeerPoolInfo{}, err
	}
	raw := *abi.ConvertType(out[0], new(peerPoolInfoABI)).(*peerPoolInfoABI)
	return raw.info(), nil
}

// ConvertRate reads the pool's LD/GD conversion rate.
func ConvertRate(ctx context.Context, c Client, pool units.Pool) (*big.Int, error) {
	out, err := callPool(ctx, c, pool, "convertRate")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Rates adapts a Client to units.RateSource.
type Rates struct {
	Client Client
}

func (r Rates) ConvertRate(ctx context.Context, pool units.Pool) (*big.Int, error) {
	return ConvertRate(ctx, r.Client, pool)
}

// CalcFee asks the source pool to price a transfer.
func CalcFee(ctx context.Context, c Client, src units.Pool, dst units.Pool, from common.Address, amountLD *big.Int) (retry.FeeInfo, error) {
	out, err := callPool(ctx, c, src, "calcFee",
		big.NewInt(int64(dst.ChainID)), new(big.Int).SetUint64(dst.PoolID), from, amountLD)
	if err != nil {
		return retry.FeeInfo{}, err
	}
	return *abi.ConvertType(out[0], new(retry.FeeInfo)).(*retry.FeeInfo), nil
}

// PoolToken returns the pooled token contract of a pool.
func PoolToken(ctx context.Context, c Client, pool units.Pool) (common.Address, error) {
	out, err := callPool(ctx, c, pool, "token")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// Batched reports whether the pool defers delta until callDelta, and the LP
// mode to call it with.
func Batched(ctx context.Context, c Client, pool units.Pool) (batched bool, defaultLPMode bool, err error) {
	out, err := callPool(ctx, c, pool, "batched")
	if err != nil {
		return false, false, err
	}
	if !out[0].(bool) {
		return false, false, nil
	}
	out, err = callPool(ctx, c, pool, "defaultLPMode")
	if err != nil {
		return true, false, err
	}
	return true, out[0].(bool), nil
}

// TokenBalance reads an ERC20 balance.
func TokenBalance(ctx context.Context, c Client, chainID int, token, account common.Address) (*big.Int, error) {
	out, err := c.CallRead(ctx, chainID, token, contracts.MustABI(contracts.PooledToken), "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// TokenDecimals reads an ERC20's decimals.
func TokenDecimals(ctx context.Context, c Client, chainID int, token common.Address) (uint8, error) {
	out, err := c.CallRead(ctx, chainID, token, contracts.MustABI(contracts.PooledToken), "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// SentPacketSequence returns the sequence of the packet receipt's transaction
// sent on (port, channel), read from the IBC handler's SendPacket log. The
// destination receives and parks the packet under this sequence.
func SentPacketSequence(c Client, chainID int, receipt *types.Receipt, port, channel string) (uint64, error) {
	d, err := c.Deployment(chainID)
	if err != nil {
		return 0, err
	}
	handler, err := d.Lookup(contracts.IBCHandler)
	if err != nil {
		return 0, err
	}
	event := contracts.MustABI(contracts.IBCHandler).Events["SendPacket"]
	for _, l := range receipt.Logs {
		if l.Address != handler || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.Unpack(l.Data)
		if err != nil {
			return 0, fmt.Errorf("decode SendPacket: %w", err)
		}
		if values[1].(string) != port || values[2].(string) != channel {
			continue
		}
		return values[0].(uint64), nil
	}
	return 0, fmt.Errorf("%w on %s/%s", ErrNoPacket, port, channel)
}

// LPBalance reads the liquidity tokens account holds in pool.
func LPBalance(ctx context.Context, c Client, pool units.Pool, account common.Address) (*big.Int, error) {
	out, err := callPool(ctx, c, pool, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// RelayerFee prices relayer work for ftype from srcChainID to dstChainID.
func RelayerFee(ctx context.Context, c Client, srcChainID, dstChainID int, ftype uint8) (*big.Int, error) {
	d, err := c.Deployment(srcChainID)
	if err != nil {
		return nil, err
	}
	bridge, err := d.Lookup(contracts.Bridge)
	if err != nil {
		return nil, err
	}
	out, err := c.CallRead(ctx, srcChainID, bridge, contracts.MustABI(contracts.Bridge), "relayerFeeCalculator")
	if err != nil {
		return nil, err
	}
	calculator := out[0].(common.Address)

	out, err = c.CallRead(ctx, srcChainID, calculator, contracts.MustABI(contracts.RelayerFeeCalculator), "calcFee",
		ftype, big.NewInt(int64(dstChainID)))
	if err != nil {
		return nil, err
	}
	fee := *abi.ConvertType(out[0], new(struct{ Fee *big.Int })).(*struct{ Fee *big.Int })
	return fee.Fee, nil
}

// PeerPools returns the candidates that pool lists as peers. A candidate is a
// peer when seeking its index yields an entry with the same (chainId, id).
func PeerPools(ctx context.Context, c Client, pool units.Pool, candidates []units.Pool) ([]units.Pool, error) {
	var peers []units.Pool
	for _, cand := range candidates {
		out, err := callPool(ctx, c, pool, "peerPoolInfoIndexSeek",
			big.NewInt(int64(cand.ChainID)), new(big.Int).SetUint64(cand.PoolID))
		if err != nil {
			return nil, err
		}
		entry, err := callPool(ctx, c, pool, "peerPoolInfos", out[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		chainID, id := entry[0].(*big.Int), entry[1].(*big.Int)
		if chainID.Cmp(big.NewInt(int64(cand.ChainID))) == 0 && id.Cmp(new(big.Int).SetUint64(cand.PoolID)) == 0 {
			peers = append(peers, cand)
		}
	}
	return peers, nil
}

// ReversePeerBalances reads, for every peer, the balance that peer records
// for pool. This is where credit sent by pool shows up.
func ReversePeerBalances(ctx context.Context, c Client, pool units.Pool, peers []units.Pool) ([]*big.Int, error) {
	balances := make([]*big.Int, 0, len(peers))
	for _, peer := range peers {
		info, err := GetPeerPoolInfo(ctx, c, peer, pool)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", peer, err)
		}
		balances = append(balances, info.Balance)
	}
	return balances, nil
}
