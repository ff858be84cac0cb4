package course

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/dcycp/gestion/core/workflow"
)

var (
	ErrActivityNotFound   = errors.New("activity not found")
	ErrCommissionNotFound = errors.New("commission not found")
	ErrTrackingNotFound   = errors.New("tracking record not found")
)

// Table names a record-store table. Stores map these to their physical
// location (sheet tab, SQL table).
type Table string

const (
	TableActivities  Table = "activities"
	TableCommissions Table = "commissions"
	TableTracking    Table = "tracking"
)

// Schema maps header names to 0-based column indexes. It is resolved once per
// record load and travels with the row so writes address columns by stable
// name even though the store is positional; a store must re-resolve it when
// the remote header row may have changed.
type Schema map[string]int

func (s Schema) Col(name string) (int, error) {
	idx, ok := s[name]
	if !ok {
		return 0, errors.Errorf("column %q not in schema", name)
	}
	return idx, nil
}

// RowRef addresses one record row in a store. Index and Schema serve
// positional stores (sheets); ID serves keyed stores (SQL).
type RowRef struct {
	Table  Table
	ID     string
	Index  int // 1-based data row index as the remote store counts it
	Schema Schema
}

// CheckMark is the persisted state of one step: the done flag plus who set it
// and when. Done flags are monotonic; nothing in this system resets them.
type CheckMark struct {
	Done   bool
	Actor  string
	DoneAt time.Time
}

// Marks holds a record's checkmarks keyed by step key.
type Marks map[string]CheckMark

// State projects the done flags for the progress engine and the edit gate.
func (m Marks) State() workflow.State {
	state := make(workflow.State, len(m))
	for key, mark := range m {
		state[key] = mark.Done
	}
	return state
}

// Activity is one course design/authorization workflow record, carrying the
// five approval checkmarks. Created upstream; this system only ever flips its
// step flags to true.
type Activity struct {
	ID         string
	CourseName string
	Marks      Marks
	Row        RowRef
}

// Commission is one scheduled offering of a course. Read-only here.
type Commission struct {
	ID         string
	ActivityID string
	// Attrs carries the descriptive columns (cohort, dates, modality, ...)
	// verbatim; the core never interprets them.
	Attrs map[string]string
}

// Tracking carries the campus and delivery checkmarks of one commission.
type Tracking struct {
	CommissionID string
	Marks        Marks
	Row          RowRef
}

// CellWrite is one staged named-column write.
type CellWrite struct {
	Column string
	Value  interface{}
}

type Repository interface {
	QueryAllActivities(ctx context.Context) ([]Activity, error)
	GetActivityByID(ctx context.Context, id string) (Activity, error)
	QueryCommissionsByActivity(ctx context.Context, activityID string) ([]Commission, error)
	GetCommissionByID(ctx context.Context, id string) (Commission, error)
	GetTrackingByCommission(ctx context.Context, commissionID string) (Tracking, error)

	// WriteRow applies one batch of cell writes to a single row. The caller
	// (the sync coordinator) sizes batches and paces calls; the store only
	// classifies failures (RateLimitError, RemoteError).
	WriteRow(ctx context.Context, row RowRef, writes []CellWrite) error

	// Invalidate drops any cached reads of the given tables (all when empty)
	// so the next read observes confirmed remote state.
	Invalidate(tables ...Table)
}

// LoadError wraps a failed table read: fatal for the current render, the user
// is told to retry.
type LoadError struct {
	Table Table
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Table, e.Err)
}

func IsLoadFailure(err error) bool {
	_, ok := errors.Cause(err).(*LoadError)
	return ok
}

// RateLimitError marks a transient rate-limit rejection from the remote
// store; the sync coordinator retries these with backoff.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func IsRateLimited(err error) bool {
	_, ok := errors.Cause(err).(*RateLimitError)
	return ok
}

// RemoteError is any other remote write rejection; never retried.
type RemoteError struct {
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote rejected: %s: %v", e.Message, e.Err)
	}
	return "remote rejected: " + e.Message
}
