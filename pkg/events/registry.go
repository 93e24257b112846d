// Package events watches contract logs on the connected chains and fans them
// out to handlers selected by contract and event name patterns.
package events

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/metrics"
)

// ErrClosed is returned by Attach after Close.
var ErrClosed = errors.New("event registry closed")

// resubscribeBackoff caps the wait between subscription attempts after the
// node drops a log subscription.
const resubscribeBackoff = 10 * time.Second

// Event is a decoded contract log.
type Event struct {
	ChainID  int
	Contract string
	Name     string
	Args     map[string]interface{}
	Log      types.Log
}

// Handler receives matching events. Handlers run on the chain's listener
// goroutine and must not block.
type Handler func(Event)

type handlerEntry struct {
	contract *regexp.Regexp
	name     *regexp.Regexp
	fn       Handler
}

type watched struct {
	name string
	abi  abi.ABI
}

type listener struct {
	chainID   int
	filterer  ethereum.LogFilterer
	contracts map[common.Address]watched
	sub       event.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
}

// Registry owns one log subscription per attached chain.
type Registry struct {
	logger    logger.Logger
	mu        sync.Mutex
	handlers  []handlerEntry
	listeners map[int]*listener
	closed    bool
}

func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Registry{
		logger:    log,
		listeners: make(map[int]*listener),
	}
}

// On registers h for events whose contract and event names match the given
// patterns. An empty pattern matches everything.
func (r *Registry) On(contractPattern, eventPattern string, h Handler) error {
	contractRe, err := compile(contractPattern)
	if err != nil {
		return fmt.Errorf("contract pattern: %w", err)
	}
	nameRe, err := compile(eventPattern)
	if err != nil {
		return fmt.Errorf("event pattern: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handlerEntry{contract: contractRe, name: nameRe, fn: h})
	return nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = ".*"
	}
	return regexp.Compile(pattern)
}

// LogHandler logs every event it receives.
func LogHandler(log logger.Logger) Handler {
	return func(ev Event) {
		log.DebugWithChain(ev.ChainID, "event %s.%s block=%d tx=%s args=%v",
			ev.Contract, ev.Name, ev.Log.BlockNumber, ev.Log.TxHash.Hex(), ev.Args)
	}
}

// abiName maps a deploy report key like "Pool0.Pool" to its ABI name.
func abiName(deployName string) string {
	if i := strings.LastIndex(deployName, "."); i >= 0 {
		return deployName[i+1:]
	}
	return deployName
}

// Attach subscribes to the logs of every contract in deployment that has a
// known ABI with events. Attaching an already attached chain is a no-op.
func (r *Registry) Attach(ctx context.Context, chainID int, filterer ethereum.LogFilterer, deployment ledger.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.listeners[chainID]; ok {
		return nil
	}

	l := &listener{
		chainID:   chainID,
		filterer:  filterer,
		contracts: make(map[common.Address]watched),
		done:      make(chan struct{}),
	}
	addresses := make([]common.Address, 0, len(deployment))
	for name, addr := range deployment {
		a, err := contracts.ABI(abiName(name))
		if err != nil || len(a.Events) == 0 {
			continue
		}
		l.contracts[addr] = watched{name: name, abi: a}
		addresses = append(addresses, addr)
	}
	if len(addresses) == 0 {
		r.logger.DebugWithChain(chainID, "no contracts with events to watch")
		return nil
	}

	logs := make(chan types.Log, 64)
	query := ethereum.FilterQuery{Addresses: addresses}

	subCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.sub = event.Resubscribe(resubscribeBackoff, func(ctx context.Context) (event.Subscription, error) {
		sub, err := filterer.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			metrics.RPCErrors.WithLabelValues(fmt.Sprintf("%d", chainID), "subscribe").Inc()
			r.logger.ErrorWithChain(chainID, "log subscription failed: %v", err)
			return nil, err
		}
		return sub, nil
	})

	go r.listen(subCtx, l, logs)
	r.listeners[chainID] = l
	r.logger.InfoWithChain(chainID, "watching events of %d contracts", len(addresses))
	return nil
}

func (r *Registry) listen(ctx context.Context, l *listener, logs <-chan types.Log) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-l.sub.Err():
			if ok && err != nil {
				r.logger.ErrorWithChain(l.chainID, "event subscription ended: %v", err)
			}
			return
		case lg := <-logs:
			r.dispatch(l, lg)
		}
	}
}

func (r *Registry) dispatch(l *listener, lg types.Log) {
	ev, ok := decode(l, lg)
	if !ok {
		return
	}
	metrics.EventsObserved.WithLabelValues(fmt.Sprintf("%d", l.chainID), ev.Name).Inc()

	r.mu.Lock()
	handlers := make([]handlerEntry, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	for _, h := range handlers {
		if h.contract.MatchString(ev.Contract) && h.name.MatchString(ev.Name) {
			h.fn(ev)
		}
	}
}

func decode(l *listener, lg types.Log) (Event, bool) {
	w, ok := l.contracts[lg.Address]
	if !ok || len(lg.Topics) == 0 {
		return Event{}, false
	}
	abiEvent, err := w.abi.EventByID(lg.Topics[0])
	if err != nil {
		return Event{}, false
	}

	args := make(map[string]interface{})
	if len(lg.Data) > 0 {
		if err := w.abi.UnpackIntoMap(args, abiEvent.Name, lg.Data); err != nil {
			return Event{}, false
		}
	}
	var indexed abi.Arguments
	for _, in := range abiEvent.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			return Event{}, false
		}
	}

	return Event{
		ChainID:  l.chainID,
		Contract: w.name,
		Name:     abiEvent.Name,
		Args:     args,
		Log:      lg,
	}, true
}

// Replay delivers the historical logs of an attached chain from fromBlock to
// the head, through the same handlers as live events.
func (r *Registry) Replay(ctx context.Context, chainID int, fromBlock *big.Int) (int, error) {
	r.mu.Lock()
	l, ok := r.listeners[chainID]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ledger.ErrUnknownChain, chainID)
	}

	addresses := make([]common.Address, 0, len(l.contracts))
	for addr := range l.contracts {
		addresses = append(addresses, addr)
	}
	logs, err := l.filterer.FilterLogs(ctx, ethereum.FilterQuery{FromBlock: fromBlock, Addresses: addresses})
	if err != nil {
		return 0, &ledger.RemoteCallError{ChainID: chainID, Op: "filterLogs", Err: err}
	}
	for _, lg := range logs {
		r.dispatch(l, lg)
	}
	return len(logs), nil
}

// Detach stops watching a chain. Detaching an unknown chain is a no-op.
func (r *Registry) Detach(chainID int) {
	r.mu.Lock()
	l, ok := r.listeners[chainID]
	delete(r.listeners, chainID)
	r.mu.Unlock()
	if !ok {
		return
	}
	l.stop()
}

func (l *listener) stop() {
	if l.sub == nil {
		return
	}
	l.sub.Unsubscribe()
	l.cancel()
	<-l.done
}

// Attached lists the chains currently watched.
func (r *Registry) Attached() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	return ids
}

// Close detaches every chain. The registry cannot be reused afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	listeners := r.listeners
	r.listeners = make(map[int]*listener)
	r.mu.Unlock()

	for _, l := range listeners {
		l.stop()
	}
}
