package results

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() Result {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return Result{
		RunID:      "run-1",
		Scenario:   "outerCall/fail_revert",
		SrcChainID: 9999,
		DstChainID: 1337,
		Outcome:    Passed,
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
		Retry: &RetryObservation{
			ChainID:    1337,
			SrcChainID: 9999,
			Sequence:   3,
			Kind:       "RefuelCall",
			Payload:    []byte{0x00, 0x0b},
		},
		Details: map[string]string{"native_delta": "0"},
	}
}

func TestMemorySink(t *testing.T) {
	m := NewMemorySink()
	first := sampleResult()
	second := sampleResult()
	second.Outcome = Failed

	require.NoError(t, m.Record(context.Background(), first))
	require.NoError(t, m.Record(context.Background(), second))

	assert.Len(t, m.Results(), 2)
	assert.Equal(t, Failed, m.Latest()["outerCall/fail_revert"].Outcome)
	assert.Equal(t, 42*time.Second, first.Duration())
}

type failingSink struct{ MemorySink }

func (f *failingSink) Name() string                       { return "broken" }
func (f *failingSink) Record(context.Context, Result) error { return errors.New("disk full") }

func TestMultiContinuesPastFailures(t *testing.T) {
	mem := NewMemorySink()
	multi := NewMulti(&failingSink{}, mem)

	err := multi.Record(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: disk full")
	assert.Len(t, mem.Results(), 1)
	assert.Equal(t, "broken,memory", multi.Name())
}

func TestParseDrivers(t *testing.T) {
	tests := []struct {
		raw     string
		want    []string
		wantErr bool
	}{
		{raw: "", want: []string{"memory"}},
		{raw: "postgres", want: []string{"memory", "postgres"}},
		{raw: " Kafka, s3 ,kafka", want: []string{"memory", "kafka", "s3"}},
		{raw: "s3,memory", want: []string{"s3", "memory"}},
		{raw: "redis", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDrivers(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordedExec struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs []recordedExec
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, recordedExec{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresSink(t *testing.T) {
	db := &fakeDB{}
	sink := newPostgresSink(db)

	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.NoError(t, sink.Record(context.Background(), sampleResult()))

	require.Len(t, db.execs, 3)
	assert.Contains(t, db.execs[0].sql, "CREATE TABLE IF NOT EXISTS scenario_results")
	assert.Contains(t, db.execs[1].sql, "INSERT INTO scenario_results")
	assert.Equal(t, "run-1", db.execs[1].args[0])
	assert.Equal(t, "passed", db.execs[1].args[4])
	assert.Nil(t, db.execs[1].args[5])
	assert.JSONEq(t, `{"native_delta":"0"}`, string(db.execs[1].args[8].([]byte)))

	assert.Contains(t, db.execs[2].sql, "INSERT INTO observed_retries")
	assert.Equal(t, int64(3), db.execs[2].args[2])
	assert.Equal(t, []byte{0x00, 0x0b}, db.execs[2].args[4])
}

func TestPostgresSinkWithoutRetry(t *testing.T) {
	db := &fakeDB{}
	r := sampleResult()
	r.Retry = nil
	r.Outcome = Failed
	r.Error = "timed out"

	require.NoError(t, newPostgresSink(db).Record(context.Background(), r))
	require.Len(t, db.execs, 1)
	errText := db.execs[0].args[5].(*string)
	assert.Equal(t, "timed out", *errText)
}

func TestPostgresSinkError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	err := newPostgresSink(db).Record(context.Background(), sampleResult())
	assert.ErrorContains(t, err, "insert result")
}

func TestNewPostgresSinkRequiresDSN(t *testing.T) {
	_, err := NewPostgresSink(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, topic: "harness.results"}

	require.NoError(t, sink.Record(context.Background(), sampleResult()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "harness.results", msg.Topic)
	assert.Equal(t, "outerCall/fail_revert", string(msg.Key))

	var decoded Result
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "RefuelCall", decoded.Retry.Kind)
	assert.Equal(t, []byte{0x00, 0x0b}, []byte(decoded.Retry.Payload))

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink([]string{" "}, "topic")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewKafkaSink([]string{"localhost:9092"}, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	k, err := NewKafkaSink([]string{"localhost:9092"}, "results")
	require.NoError(t, err)
	assert.NoError(t, k.Close())
}

type fakeS3 struct {
	puts map[string][]byte
	meta map[string]map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[*in.Key] = body
	f.meta[*in.Key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	client := &fakeS3{puts: map[string][]byte{}, meta: map[string]map[string]string{}}
	sink, err := newS3Sink(client, "harness-artifacts", "/e2e/")
	require.NoError(t, err)

	require.NoError(t, sink.Record(context.Background(), sampleResult()))

	resultKey := "e2e/run-1/outerCall/fail_revert/result.json"
	retryKey := "e2e/run-1/outerCall/fail_revert/retry.bin"
	require.Contains(t, client.puts, resultKey)
	require.Contains(t, client.puts, retryKey)
	assert.True(t, strings.Contains(string(client.puts[resultKey]), `"outcome": "passed"`))
	assert.Equal(t, []byte{0x00, 0x0b}, client.puts[retryKey])
	assert.Equal(t, "RefuelCall", client.meta[retryKey]["kind"])
}

func TestS3SinkValidation(t *testing.T) {
	_, err := newS3Sink(&fakeS3{}, " ", "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = newS3Sink(nil, "bucket", "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
