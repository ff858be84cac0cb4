package course

import (
	"context"
	"testing"
	"time"

	"github.com/dcycp/gestion/core"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

var _ core.Logger = nopLogger{}

// writerStub records WriteRow calls; errFunc decides each call's outcome.
type writerStub struct {
	Repository
	calls       int
	writes      [][]CellWrite
	errFunc     func(call int, writes []CellWrite) error
	invalidated []Table
}

func (w *writerStub) WriteRow(ctx context.Context, row RowRef, writes []CellWrite) error {
	w.calls++
	w.writes = append(w.writes, writes)
	if w.errFunc != nil {
		return w.errFunc(w.calls, writes)
	}
	return nil
}

func (w *writerStub) Invalidate(tables ...Table) {
	w.invalidated = append(w.invalidated, tables...)
}

func newTestCoordinator(repo Repository, batchSize int) (*Coordinator, *[]time.Duration) {
	conf := core.NewTestConfig()
	conf.Sync.BatchSize = batchSize
	conf.Sync.Pause = time.Second
	conf.Sync.BackoffBase = 100 * time.Millisecond

	coord := NewCoordinator(repo, conf, nopLogger{})
	sleeps := new([]time.Duration)
	coord.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	coord.jitter = func(base time.Duration) time.Duration { return base / 10 }
	return coord, sleeps
}

var testRow = RowRef{Table: TableTracking, ID: "COM-1"}

func TestCoordinatorApplyStagesAllCells(t *testing.T) {
	stub := &writerStub{}
	coord, sleeps := newTestCoordinator(stub, 30)

	now := time.Date(2025, 4, 2, 10, 30, 0, 0, time.UTC)
	res, err := coord.Apply(context.Background(), testRow, []string{"C_ClassroomSetup", "C_Enrollment"}, "Jane Doe", now)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if res.State != BatchConfirmed {
		t.Errorf("State = %s, want %s", res.State, BatchConfirmed)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if stub.calls != 1 {
		t.Fatalf("WriteRow calls = %d, want 1", stub.calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("unexpected sleeps: %v", *sleeps)
	}

	want := []CellWrite{
		{Column: "C_ClassroomSetup", Value: true},
		{Column: "C_ClassroomSetup_user", Value: "Jane Doe"},
		{Column: "C_ClassroomSetup_timestamp", Value: "2025-04-02 10:30:00"},
		{Column: "C_Enrollment", Value: true},
		{Column: "C_Enrollment_user", Value: "Jane Doe"},
		{Column: "C_Enrollment_timestamp", Value: "2025-04-02 10:30:00"},
	}
	got := stub.writes[0]
	if len(got) != len(want) {
		t.Fatalf("staged %d cells, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cell %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if len(stub.invalidated) == 0 || stub.invalidated[0] != TableTracking {
		t.Errorf("cache not invalidated after confirm: %v", stub.invalidated)
	}
}

func TestCoordinatorApplyBatchesAndPaces(t *testing.T) {
	stub := &writerStub{}
	coord, sleeps := newTestCoordinator(stub, 9) // 3 keys per batch

	keys := []string{"D_Outreach", "D_SeatAssignment", "D_Teaching", "D_Assessment", "D_Credits", "D_Billing", "D_Extra"}
	res, err := coord.Apply(context.Background(), testRow, keys, "x", time.Now())
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if stub.calls != 3 { // 3 + 3 + 1 keys
		t.Errorf("WriteRow calls = %d, want 3", stub.calls)
	}
	for i, writes := range stub.writes {
		if len(writes) > 9 {
			t.Errorf("batch %d has %d cells, cap is 9", i, len(writes))
		}
	}
	// a pacing pause before every batch but the first
	if len(*sleeps) != 2 {
		t.Errorf("pacing sleeps = %v, want 2 pauses", *sleeps)
	}
	if len(res.Confirmed) != len(keys) {
		t.Errorf("Confirmed = %v", res.Confirmed)
	}
}

func TestCoordinatorApplyRetriesRateLimits(t *testing.T) {
	stub := &writerStub{}
	stub.errFunc = func(call int, _ []CellWrite) error {
		if call <= 2 {
			return &RateLimitError{Err: errQuota}
		}
		return nil
	}
	coord, sleeps := newTestCoordinator(stub, 30)

	res, err := coord.Apply(context.Background(), testRow, []string{"D_Outreach"}, "x", time.Now())
	if err != nil {
		t.Fatalf("Apply() failed after retries: %v", err)
	}
	if res.State != BatchConfirmed {
		t.Errorf("State = %s, want %s", res.State, BatchConfirmed)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want exactly 3", res.Attempts)
	}
	// two backoff delays, monotonically increasing
	if len(*sleeps) != 2 {
		t.Fatalf("backoff sleeps = %v, want 2", *sleeps)
	}
	if (*sleeps)[0] >= (*sleeps)[1] {
		t.Errorf("backoff not increasing: %v", *sleeps)
	}
}

func TestCoordinatorApplyRateLimitCeiling(t *testing.T) {
	stub := &writerStub{}
	stub.errFunc = func(int, []CellWrite) error { return &RateLimitError{Err: errQuota} }
	coord, _ := newTestCoordinator(stub, 30)

	res, err := coord.Apply(context.Background(), testRow, []string{"D_Outreach"}, "x", time.Now())
	if err == nil {
		t.Fatal("Apply() succeeded, want rate-limit failure")
	}
	if !IsRateLimited(err) {
		t.Errorf("IsRateLimited(%v) = false", err)
	}
	if res.State != BatchFailed {
		t.Errorf("State = %s, want %s", res.State, BatchFailed)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if len(res.Confirmed) != 0 || len(res.Failed) != 1 {
		t.Errorf("Confirmed = %v, Failed = %v", res.Confirmed, res.Failed)
	}
	if len(stub.invalidated) != 0 {
		t.Errorf("cache invalidated on failure: %v", stub.invalidated)
	}
}

func TestCoordinatorApplyPartialFailure(t *testing.T) {
	stub := &writerStub{}
	stub.errFunc = func(call int, _ []CellWrite) error {
		if call == 2 {
			return &RemoteError{Message: "protected cell"}
		}
		return nil
	}
	coord, _ := newTestCoordinator(stub, 3) // one key per batch

	keys := []string{"D_Outreach", "D_SeatAssignment", "D_Teaching"}
	res, err := coord.Apply(context.Background(), testRow, keys, "x", time.Now())
	if err == nil {
		t.Fatal("Apply() succeeded, want remote rejection")
	}
	if IsRateLimited(err) {
		t.Errorf("remote rejection misclassified as rate limit: %v", err)
	}
	if res.State != BatchPartiallyFailed {
		t.Errorf("State = %s, want %s", res.State, BatchPartiallyFailed)
	}
	if len(res.Confirmed) != 1 || res.Confirmed[0] != "D_Outreach" {
		t.Errorf("Confirmed = %v, want [D_Outreach]", res.Confirmed)
	}
	if len(res.Failed) != 2 || res.Failed[0].Key != "D_SeatAssignment" || res.Failed[1].Key != "D_Teaching" {
		t.Errorf("Failed = %v, want D_SeatAssignment and D_Teaching", res.Failed)
	}
	if stub.calls != 2 { // no further batches after a non-retryable error
		t.Errorf("WriteRow calls = %d, want 2", stub.calls)
	}
}

func TestCoordinatorApplyEmptyBatch(t *testing.T) {
	stub := &writerStub{}
	coord, _ := newTestCoordinator(stub, 30)

	res, err := coord.Apply(context.Background(), testRow, nil, "x", time.Now())
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if res.State != BatchConfirmed || stub.calls != 0 {
		t.Errorf("empty batch: state %s, %d calls", res.State, stub.calls)
	}
}

var errQuota = &RemoteError{Message: "quota exceeded"}
