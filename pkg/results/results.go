// Package results records scenario outcomes to the configured sinks.
package results

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/speedrun-hq/bridge-harness/pkg/metrics"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverKafka    = "kafka"
	DriverS3       = "s3"
)

var ErrInvalidConfig = errors.New("results: invalid config")

// Outcome of a scenario run.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
)

// RetryObservation is a pending retry seen on the destination ledger.
type RetryObservation struct {
	ChainID    int           `json:"chain_id"`
	SrcChainID int           `json:"src_chain_id"`
	Sequence   uint64        `json:"sequence"`
	Kind       string        `json:"kind"`
	Payload    hexutil.Bytes `json:"payload"`
}

// Result is one finished scenario.
type Result struct {
	RunID      string            `json:"run_id"`
	Scenario   string            `json:"scenario"`
	SrcChainID int               `json:"src_chain_id"`
	DstChainID int               `json:"dst_chain_id"`
	Outcome    Outcome           `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Retry      *RetryObservation `json:"retry,omitempty"`
	// Details carries scenario specific observations such as balance deltas.
	Details map[string]string `json:"details,omitempty"`
}

func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Sink persists results.
type Sink interface {
	Name() string
	Record(ctx context.Context, r Result) error
	Close() error
}

// MemorySink keeps results in process. The health server reads from it.
type MemorySink struct {
	mu      sync.RWMutex
	results []Result
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Name() string { return DriverMemory }

func (m *MemorySink) Record(_ context.Context, r Result) error {
	m.mu.Lock()
	m.results = append(m.results, r)
	m.mu.Unlock()
	return nil
}

// Results returns a copy of everything recorded so far.
func (m *MemorySink) Results() []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Result, len(m.results))
	copy(out, m.results)
	return out
}

// Latest returns the most recent result per scenario.
func (m *MemorySink) Latest() map[string]Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Result)
	for _, r := range m.results {
		out[r.Scenario] = r
	}
	return out
}

func (m *MemorySink) Close() error { return nil }

// Multi fans a result out to several sinks. A failing sink does not stop the
// others; all errors are joined.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (m *Multi) Record(ctx context.Context, r Result) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, r); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ParseDrivers normalizes a RESULT_SINKS style list.
func ParseDrivers(raw string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		d := strings.ToLower(strings.TrimSpace(part))
		if d == "" || seen[d] {
			continue
		}
		switch d {
		case DriverMemory, DriverPostgres, DriverKafka, DriverS3:
		default:
			return nil, fmt.Errorf("%w: unsupported sink %q", ErrInvalidConfig, d)
		}
		seen[d] = true
		out = append(out, d)
	}
	if !seen[DriverMemory] {
		out = append([]string{DriverMemory}, out...)
	}
	return out, nil
}

// Config selects and configures sinks.
type Config struct {
	Drivers      []string
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string
	S3Bucket     string
	S3Prefix     string
}

// Open builds every configured sink. The memory sink is always present and
// returned separately for the status endpoint.
func Open(ctx context.Context, cfg Config) (*Multi, *MemorySink, error) {
	mem := NewMemorySink()
	sinks := []Sink{mem}

	fail := func(err error) (*Multi, *MemorySink, error) {
		_ = NewMulti(sinks...).Close()
		return nil, nil, err
	}

	for _, d := range cfg.Drivers {
		switch d {
		case DriverMemory:
		case DriverPostgres:
			pg, err := NewPostgresSink(ctx, cfg.DatabaseURL)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, pg)
			if err := pg.EnsureSchema(ctx); err != nil {
				return fail(err)
			}
		case DriverKafka:
			k, err := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, k)
		case DriverS3:
			s, err := NewS3Sink(ctx, cfg.S3Bucket, cfg.S3Prefix)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		default:
			return fail(fmt.Errorf("%w: unsupported sink %q", ErrInvalidConfig, d))
		}
	}
	return NewMulti(sinks...), mem, nil
}
