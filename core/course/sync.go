package course

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/workflow"
)

// timestampLayout matches the record store's human-readable timestamp cells.
const timestampLayout = "2006-01-02 15:04:05"

// BatchState tracks a submitted batch: Pending -> Syncing -> terminal.
// Retries only happen while Syncing; a fresh submission starts a new batch.
type BatchState string

const (
	BatchPending         BatchState = "pending"
	BatchSyncing         BatchState = "syncing"
	BatchConfirmed       BatchState = "confirmed"
	BatchPartiallyFailed BatchState = "partially_failed"
	BatchFailed          BatchState = "failed"
)

type KeyFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// SyncResult reports exactly which keys were confirmed and which failed;
// partial success is surfaced per key, never collapsed into a single verdict.
type SyncResult struct {
	ID        uuid.UUID    `json:"id"`
	State     BatchState   `json:"state"`
	Confirmed []string     `json:"confirmed"`
	Failed    []KeyFailure `json:"failed"`
	// Attempts counts remote calls, including retries.
	Attempts int `json:"attempts"`
}

// Coordinator persists validated step completions. It stages value, actor and
// timestamp cells per key, groups them into size-capped batches, serializes
// all outbound writes behind one mutex, paces consecutive batches to stay
// under the store's requests-per-minute budget, and retries rate-limited
// batches with exponential backoff plus jitter.
type Coordinator struct {
	repo Repository
	log  core.Logger

	mu          sync.Mutex
	batchSize   int // max cells per remote call
	pause       time.Duration
	retryMax    int
	backoffBase time.Duration

	// mockable in tests
	sleep  func(time.Duration)
	jitter func(time.Duration) time.Duration
}

func NewCoordinator(repo Repository, conf *core.Config, log core.Logger) *Coordinator {
	return &Coordinator{
		repo:        repo,
		log:         log,
		batchSize:   conf.Sync.BatchSize,
		pause:       conf.Sync.Pause,
		retryMax:    conf.Sync.RetryMax,
		backoffBase: conf.Sync.BackoffBase,
		sleep:       time.Sleep,
		jitter: func(base time.Duration) time.Duration {
			if base <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(base)))
		},
	}
}

// cellsPerKey: done flag + actor + timestamp.
const cellsPerKey = 3

// Apply persists the accepted keys of one record in order. On a rate-limit
// error the current batch is retried up to the retry ceiling; any other
// remote error stops the run, leaving earlier batches committed: the result
// then lists those keys as confirmed and the rest as failed.
func (c *Coordinator) Apply(ctx context.Context, row RowRef, keys []string, actor string, now time.Time) (SyncResult, error) {
	res := SyncResult{ID: uuid.New(), State: BatchPending}
	if len(keys) == 0 {
		res.State = BatchConfirmed
		return res, nil
	}

	keysPerBatch := c.batchSize / cellsPerKey
	if keysPerBatch < 1 {
		keysPerBatch = 1
	}
	batches := chunkKeys(keys, keysPerBatch)

	c.mu.Lock()
	defer c.mu.Unlock()
	res.State = BatchSyncing

	ts := now.Format(timestampLayout)
	for i, batch := range batches {
		if i > 0 && c.pause > 0 {
			c.sleep(c.pause)
		}

		writes := make([]CellWrite, 0, len(batch)*cellsPerKey)
		for _, key := range batch {
			writes = append(writes,
				CellWrite{Column: key, Value: true},
				CellWrite{Column: workflow.ActorColumn(key), Value: actor},
				CellWrite{Column: workflow.TimestampColumn(key), Value: ts},
			)
		}

		if err := c.write(ctx, row, writes, &res); err != nil {
			for _, key := range batch {
				res.Failed = append(res.Failed, KeyFailure{Key: key, Reason: err.Error()})
			}
			for _, rest := range batches[i+1:] {
				for _, key := range rest {
					res.Failed = append(res.Failed, KeyFailure{Key: key, Reason: "aborted after previous failure"})
				}
			}
			if len(res.Confirmed) > 0 {
				res.State = BatchPartiallyFailed
			} else {
				res.State = BatchFailed
			}
			c.log.Warn("sync batch failed",
				map[string]interface{}{"batch": res.ID.String(), "table": string(row.Table), "row": row.ID, "error": err.Error()})
			return res, err
		}
		res.Confirmed = append(res.Confirmed, batch...)
	}

	res.State = BatchConfirmed
	// read-your-writes for the next render
	c.repo.Invalidate(row.Table)
	return res, nil
}

// write runs one remote call, retrying rate-limited rejections with doubling
// backoff plus jitter. Delays grow monotonically: base<<attempt dominates any
// jitter drawn from [0, base).
func (c *Coordinator) write(ctx context.Context, row RowRef, writes []CellWrite, res *SyncResult) error {
	var err error
	for attempt := 0; attempt < c.retryMax; attempt++ {
		if attempt > 0 {
			c.sleep(c.backoffBase<<uint(attempt-1) + c.jitter(c.backoffBase))
		}
		res.Attempts++
		if err = c.repo.WriteRow(ctx, row, writes); err == nil {
			return nil
		}
		if !IsRateLimited(err) {
			return err
		}
	}
	return errors.Wrapf(err, "retry ceiling (%d) exceeded", c.retryMax)
}

func chunkKeys(keys []string, size int) [][]string {
	var chunks [][]string
	for len(keys) > size {
		chunks = append(chunks, keys[:size])
		keys = keys[size:]
	}
	return append(chunks, keys)
}
