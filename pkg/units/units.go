package units

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidRate is returned when a pool reports a non-positive conversion rate.
var ErrInvalidRate = errors.New("conversion rate must be positive")

// RateSource returns the current local-to-global conversion rate of a pool.
type RateSource interface {
	ConvertRate(ctx context.Context, pool Pool) (*big.Int, error)
}

// Pool identifies a token pool on a chain.
type Pool struct {
	ChainID int
	PoolID  uint64
}

func (p Pool) String() string {
	return fmt.Sprintf("pool %d on chain %d", p.PoolID, p.ChainID)
}

// Converter converts between local (LD) and global (GD) decimals. The rate is
// read from the source on every call.
type Converter struct {
	source RateSource
}

// NewConverter creates a converter backed by the given rate source
func NewConverter(source RateSource) *Converter {
	return &Converter{source: source}
}

// ToGlobal converts a local-decimal amount into global decimals, rounding down.
func (c *Converter) ToGlobal(ctx context.Context, pool Pool, amountLD *big.Int) (*big.Int, error) {
	rate, err := c.rate(ctx, pool)
	if err != nil {
		return nil, err
	}
	return LDToGD(amountLD, rate), nil
}

// ToLocal converts a global-decimal amount into local decimals.
func (c *Converter) ToLocal(ctx context.Context, pool Pool, amountGD *big.Int) (*big.Int, error) {
	rate, err := c.rate(ctx, pool)
	if err != nil {
		return nil, err
	}
	return GDToLD(amountGD, rate), nil
}

func (c *Converter) rate(ctx context.Context, pool Pool) (*big.Int, error) {
	rate, err := c.source.ConvertRate(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to read convert rate of %s: %w", pool, err)
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%s: %w (got %v)", pool, ErrInvalidRate, rate)
	}
	return rate, nil
}

// LDToGD is floor(amount / rate). rate must be positive.
func LDToGD(amount, rate *big.Int) *big.Int {
	return new(big.Int).Quo(amount, rate)
}

// GDToLD is amount * rate.
func GDToLD(amount, rate *big.Int) *big.Int {
	return new(big.Int).Mul(amount, rate)
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Scale returns whole * 10^decimals.
func Scale(whole int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), Pow10(decimals))
}
