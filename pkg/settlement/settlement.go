// Package settlement holds the arithmetic used to decide whether credit owed
// between peer pools has converged, and the balance assertions scenarios make.
package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/bridge-harness/pkg/retry"
)

// Relation names the contract an AssertionError was checking.
type Relation string

const (
	AtLeast   Relation = ">="
	Unchanged Relation = "=="
	Present   Relation = "present"
	Absent    Relation = "absent"
)

// AssertionError describes an observed value that broke its contract.
type AssertionError struct {
	Account  common.Address
	Token    string
	Actual   *big.Int
	Expected *big.Int
	Relation Relation
	Detail   string
}

func (e *AssertionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("assertion failed for %s (%s): %s", e.Account.Hex(), e.Token, e.Detail)
	}
	return fmt.Sprintf("assertion failed for %s (%s): delta %s, want %s %s",
		e.Account.Hex(), e.Token, e.Actual, e.Relation, e.Expected)
}

// CreditPerPeer is floor(amountGD / n).
func CreditPerPeer(amountGD *big.Int, n int) *big.Int {
	if n <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(amountGD, big.NewInt(int64(n)))
}

// DistributedTotal is n * floor(amountGD / n), the amount that actually reaches
// the peers after integer division.
func DistributedTotal(amountGD *big.Int, n int) *big.Int {
	return new(big.Int).Mul(CreditPerPeer(amountGD, n), big.NewInt(int64(n)))
}

// WithinTolerance reports whether observed >= amountGD - (n-1). Splitting an
// amount over n peers loses at most n-1 units.
func WithinTolerance(observed, amountGD *big.Int, n int) bool {
	if n <= 0 {
		return observed.Cmp(amountGD) >= 0
	}
	lower := new(big.Int).Sub(amountGD, big.NewInt(int64(n-1)))
	return observed.Cmp(lower) >= 0
}

// SumDeltas sums after[i]-before[i] over all peers.
func SumDeltas(before, after []*big.Int) (*big.Int, error) {
	if len(before) != len(after) {
		return nil, fmt.Errorf("peer count changed: %d before, %d after", len(before), len(after))
	}
	sum := new(big.Int)
	for i := range before {
		sum.Add(sum, new(big.Int).Sub(after[i], before[i]))
	}
	return sum, nil
}

// CreditsSettled returns a predicate over current peer balances that holds
// once the aggregate credit received since before is within tolerance of
// amountGD.
func CreditsSettled(before []*big.Int, amountGD *big.Int) func([]*big.Int) bool {
	return func(current []*big.Int) bool {
		sum, err := SumDeltas(before, current)
		if err != nil {
			return false
		}
		return WithinTolerance(sum, amountGD, len(before))
	}
}

// PerPeerCreditSettled returns a predicate that holds once every peer has
// received at least floor(amountGD/n) - 1.
func PerPeerCreditSettled(before []*big.Int, amountGD *big.Int) func([]*big.Int) bool {
	threshold := new(big.Int).Sub(CreditPerPeer(amountGD, len(before)), big.NewInt(1))
	return func(current []*big.Int) bool {
		if len(current) != len(before) {
			return false
		}
		for i := range before {
			if new(big.Int).Sub(current[i], before[i]).Cmp(threshold) < 0 {
				return false
			}
		}
		return true
	}
}

// CheckDeltaAtLeast asserts after-before >= expected.
func CheckDeltaAtLeast(account common.Address, token string, before, after, expected *big.Int) error {
	delta := new(big.Int).Sub(after, before)
	if delta.Cmp(expected) >= 0 {
		return nil
	}
	return &AssertionError{
		Account:  account,
		Token:    token,
		Actual:   delta,
		Expected: new(big.Int).Set(expected),
		Relation: AtLeast,
	}
}

// CheckUnchanged asserts after == before.
func CheckUnchanged(account common.Address, token string, before, after *big.Int) error {
	if after.Cmp(before) == 0 {
		return nil
	}
	return &AssertionError{
		Account:  account,
		Token:    token,
		Actual:   new(big.Int).Sub(after, before),
		Expected: new(big.Int),
		Relation: Unchanged,
	}
}

// CheckRetryKind asserts a pending retry of kind want exists (or does not).
// rec is nil when nothing is pending.
func CheckRetryKind(account common.Address, rec retry.Record, want retry.Kind, shouldExist bool) error {
	found := rec != nil && rec.Kind() == want
	if found == shouldExist {
		return nil
	}

	got := "nothing pending"
	if rec != nil {
		got = "pending " + rec.Kind().String()
	}
	if shouldExist {
		return &AssertionError{
			Account:  account,
			Token:    want.String(),
			Relation: Present,
			Detail:   fmt.Sprintf("expected a pending %s retry, found %s", want, got),
		}
	}
	return &AssertionError{
		Account:  account,
		Token:    want.String(),
		Relation: Absent,
		Detail:   fmt.Sprintf("expected no pending %s retry, found %s", want, got),
	}
}
