package scenario

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/speedrun-hq/bridge-harness/pkg/results"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

// Scenario is one end-to-end check.
type Scenario struct {
	Name       string
	SrcChainID int
	DstChainID int
	// Stage orders scenarios: every scenario of a stage finishes before the
	// next stage starts. Liquidity seeding runs in stage 0, transfers in
	// stage 1. Stage 2 holds checks that empty a bridge's native float.
	Stage int
	// Exclusive names on-chain state the scenario reconfigures, such as a mock
	// receiver's failure flags. Scenarios sharing a name never run together.
	Exclusive []string
	Run       func(ctx context.Context, env *Env, report *Report) error
}

// Chains lists the chains the scenario touches.
func (s Scenario) Chains() []int {
	if s.SrcChainID == s.DstChainID {
		return []int{s.SrcChainID}
	}
	return []int{s.SrcChainID, s.DstChainID}
}

// Report collects what a scenario observed. It is filled in even when the
// scenario fails.
type Report struct {
	mu      sync.Mutex
	retry   *results.RetryObservation
	details map[string]string
}

// Set records a detail value.
func (r *Report) Set(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.details == nil {
		r.details = make(map[string]string)
	}
	r.details[key] = fmt.Sprint(value)
}

// SetDelta records after-before under key.
func (r *Report) SetDelta(key string, before, after *big.Int) {
	r.Set(key, new(big.Int).Sub(after, before))
}

func (r *Report) observeRetry(dstChainID, srcChainID int, sequence uint64, rec retry.Record, payload []byte) {
	if rec == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry = &results.RetryObservation{
		ChainID:    dstChainID,
		SrcChainID: srcChainID,
		Sequence:   sequence,
		Kind:       rec.Kind().String(),
		Payload:    append([]byte(nil), payload...),
	}
}

// Retry returns the observed retry, if any.
func (r *Report) Retry() *results.RetryObservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retry
}

// Details returns a copy of the recorded details.
func (r *Report) Details() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.details) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.details))
	for k, v := range r.details {
		out[k] = v
	}
	return out
}

// Catalog builds the scenario list for the configured pools, grouped per chain.
// Outer call checks go from the first pool of the source chain to the last
// pool of the destination chain.
func Catalog(poolsByChain map[int][]uint64) []Scenario {
	chains := make([]int, 0, len(poolsByChain))
	for id := range poolsByChain {
		chains = append(chains, id)
	}
	sort.Ints(chains)

	var out []Scenario
	for _, chainID := range chains {
		for _, poolID := range poolsByChain[chainID] {
			out = append(out, Deposit(poolOf(chainID, poolID)), SendCredit(poolOf(chainID, poolID)))
		}
	}

	for _, src := range chains {
		for _, dst := range chains {
			if src == dst {
				continue
			}
			srcPools, dstPools := poolsByChain[src], poolsByChain[dst]
			for _, sp := range srcPools {
				for _, dp := range dstPools {
					out = append(out, TransferPool(poolOf(src, sp), poolOf(dst, dp)))
				}
			}
			if len(srcPools) == 0 || len(dstPools) == 0 {
				continue
			}
			from := poolOf(src, srcPools[0])
			to := poolOf(dst, dstPools[len(dstPools)-1])
			out = append(out,
				OuterCall(from, to, OuterCallSuccess),
				OuterCall(from, to, OuterCallFailRevert),
				OuterCall(from, to, OuterCallFailBridgeGas),
				OuterService(from, to, OuterServiceSuccess),
				OuterService(from, to, OuterServiceOutOfGas),
				OuterService(from, to, OuterServiceRevert),
				RetryReplay(from, to),
				WithdrawRemote(from, to),
			)
		}
	}
	return out
}

// TokenCatalog builds the bridged token checks for every ordered pair of
// chains. Only chains with a token deployment belong in chains.
func TokenCatalog(chains []int) []Scenario {
	sorted := append([]int(nil), chains...)
	sort.Ints(sorted)
	var out []Scenario
	for _, src := range sorted {
		for _, dst := range sorted {
			if src == dst {
				continue
			}
			out = append(out, TransferToken(src, dst), TransferTokenFailCap(src, dst))
		}
	}
	return out
}

func poolOf(chainID int, poolID uint64) units.Pool {
	return units.Pool{ChainID: chainID, PoolID: poolID}
}

func poolName(kind string, p units.Pool) string {
	return fmt.Sprintf("%s/%d:%d", kind, p.ChainID, p.PoolID)
}

func pairName(kind string, src, dst units.Pool) string {
	return fmt.Sprintf("%s/%d:%d-%d:%d", kind, src.ChainID, src.PoolID, dst.ChainID, dst.PoolID)
}

// contractKey names the on-chain state of one contract for Exclusive.
func contractKey(chainID int, contract string) string {
	return fmt.Sprintf("%d/%s", chainID, contract)
}

// creditKey names the peer records a pool's credit lands in.
func creditKey(p units.Pool) string {
	return poolName("credit", p)
}

// Select filters scenarios by name. A pattern matches a scenario when it is
// equal to the name or a "/" separated prefix of it. No patterns selects all.
func Select(all []Scenario, patterns []string) ([]Scenario, error) {
	if len(patterns) == 0 {
		return all, nil
	}
	var out []Scenario
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		matched := false
		for _, s := range all {
			if s.Name == p || strings.HasPrefix(s.Name, p+"/") {
				out = append(out, s)
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("no scenario matches %q", p)
		}
	}
	return dedupe(out), nil
}

func dedupe(in []Scenario) []Scenario {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out
}
