package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/bridge-harness/pkg/logger"
)

// NonceSource reports the next nonce the chain expects for an account.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TransactionStatus represents the status of a tracked transaction
type TransactionStatus int

const (
	TxPending TransactionStatus = iota
	TxConfirmed
	TxFailed
)

// TransactionRecord tracks a submitted transaction until it is confirmed or dropped
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	Method    string
	CreatedAt time.Time
	Status    TransactionStatus
}

type nonceKey struct {
	chainID int
	account common.Address
}

// NonceManager hands out nonces per (chain, sender) so concurrent scenarios
// sharing a wallet never collide.
type NonceManager struct {
	accounts map[nonceKey]*accountNonceData
	mu       sync.Mutex

	resyncAfter time.Duration
	logger      logger.Logger
}

type accountNonceData struct {
	currentNonce uint64
	pendingTxs   map[uint64]*TransactionRecord
	lastSync     time.Time
	mu           sync.Mutex
}

// NewNonceManager creates a nonce manager that re-reads the chain nonce when
// it has not done so for resyncAfter.
func NewNonceManager(resyncAfter time.Duration, log logger.Logger) *NonceManager {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &NonceManager{
		accounts:    make(map[nonceKey]*accountNonceData),
		resyncAfter: resyncAfter,
		logger:      log,
	}
}

func (nm *NonceManager) account(chainID int, account common.Address) *accountNonceData {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	key := nonceKey{chainID: chainID, account: account}
	data, ok := nm.accounts[key]
	if !ok {
		data = &accountNonceData{pendingTxs: make(map[uint64]*TransactionRecord)}
		nm.accounts[key] = data
	}
	return data
}

// GetNonce reserves and returns the next nonce for account on chainID.
func (nm *NonceManager) GetNonce(ctx context.Context, chainID int, src NonceSource, account common.Address) (uint64, error) {
	data := nm.account(chainID, account)
	data.mu.Lock()
	defer data.mu.Unlock()

	// resync only when nothing is in flight, otherwise the chain lags our counter
	if data.lastSync.IsZero() || (len(data.pendingTxs) == 0 && time.Since(data.lastSync) > nm.resyncAfter) {
		nonce, err := src.PendingNonceAt(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %w", err)
		}
		if nonce > data.currentNonce || data.lastSync.IsZero() {
			if nonce != data.currentNonce {
				nm.logger.DebugWithChain(chainID, "nonce for %s: %d -> %d", account.Hex(), data.currentNonce, nonce)
			}
			data.currentNonce = nonce
		}
		data.lastSync = time.Now()
	}

	nonce := data.currentNonce
	data.currentNonce++
	return nonce, nil
}

// TrackTransaction records a submitted transaction.
func (nm *NonceManager) TrackTransaction(chainID int, account common.Address, txHash common.Hash, nonce uint64, method string) {
	data := nm.account(chainID, account)
	data.mu.Lock()
	defer data.mu.Unlock()

	data.pendingTxs[nonce] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		Method:    method,
		CreatedAt: time.Now(),
		Status:    TxPending,
	}
	nm.logger.DebugWithChain(chainID, "tracking %s nonce %d: %s", method, nonce, txHash.Hex())
}

// MarkTransactionConfirmed drops a confirmed transaction from tracking.
func (nm *NonceManager) MarkTransactionConfirmed(chainID int, account common.Address, nonce uint64) bool {
	data := nm.account(chainID, account)
	data.mu.Lock()
	defer data.mu.Unlock()

	if _, ok := data.pendingTxs[nonce]; !ok {
		return false
	}
	delete(data.pendingTxs, nonce)
	return true
}

// ReleaseNonce gives back a nonce whose transaction never reached the chain.
// It is only reused when it was the most recent allocation, otherwise a
// resync is forced on the next GetNonce.
func (nm *NonceManager) ReleaseNonce(chainID int, account common.Address, nonce uint64) {
	data := nm.account(chainID, account)
	data.mu.Lock()
	defer data.mu.Unlock()

	delete(data.pendingTxs, nonce)
	if data.currentNonce == nonce+1 {
		data.currentNonce = nonce
		nm.logger.DebugWithChain(chainID, "nonce %d released for reuse", nonce)
		return
	}
	data.lastSync = time.Time{}
}

// SyncWithChain forces the counter to the chain's pending nonce.
func (nm *NonceManager) SyncWithChain(ctx context.Context, chainID int, src NonceSource, account common.Address) error {
	data := nm.account(chainID, account)
	data.mu.Lock()
	defer data.mu.Unlock()

	nonce, err := src.PendingNonceAt(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %w", err)
	}
	data.currentNonce = nonce
	data.lastSync = time.Now()
	return nil
}

// PendingCount returns the number of in-flight transactions for account.
func (nm *NonceManager) PendingCount(chainID int, account common.Address) int {
	data := nm.account(chainID, account)
	data.mu.Lock()
	defer data.mu.Unlock()
	return len(data.pendingTxs)
}
