package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dcycp/gestion/core/course"
)

type Repository struct {
	db *DB

	// WriteErrFunc, when set, lets a test fail WriteRow calls selectively.
	WriteErrFunc func(row course.RowRef, writes []course.CellWrite) error
}

var _ course.Repository = (*Repository)(nil) // interface compliance check

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateActivity, CreateCommission and CreateTracking seed test fixtures;
// real records are created upstream, never by the application.

func (repo *Repository) CreateActivity(act course.Activity) course.Activity {
	repo.db.activities.Lock()
	defer repo.db.activities.Unlock()

	if act.Marks == nil {
		act.Marks = make(course.Marks)
	}
	act.Row = course.RowRef{Table: course.TableActivities, ID: act.ID}
	repo.db.activities.rows[act.ID] = &act
	return act
}

func (repo *Repository) CreateCommission(com course.Commission) course.Commission {
	repo.db.commissions.Lock()
	defer repo.db.commissions.Unlock()

	repo.db.commissions.rows[com.ID] = &com
	return com
}

func (repo *Repository) CreateTracking(trk course.Tracking) course.Tracking {
	repo.db.tracking.Lock()
	defer repo.db.tracking.Unlock()

	if trk.Marks == nil {
		trk.Marks = make(course.Marks)
	}
	trk.Row = course.RowRef{Table: course.TableTracking, ID: trk.CommissionID}
	repo.db.tracking.rows[trk.CommissionID] = &trk
	return trk
}

func (repo *Repository) QueryAllActivities(ctx context.Context) ([]course.Activity, error) {
	repo.db.activities.RLock()
	defer repo.db.activities.RUnlock()

	acts := make([]course.Activity, 0, len(repo.db.activities.rows))
	for _, act := range repo.db.activities.rows {
		acts = append(acts, cloneActivity(*act))
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].ID < acts[j].ID })
	return acts, nil
}

func (repo *Repository) GetActivityByID(ctx context.Context, id string) (course.Activity, error) {
	repo.db.activities.RLock()
	defer repo.db.activities.RUnlock()

	if act, ok := repo.db.activities.rows[id]; ok {
		return cloneActivity(*act), nil
	}
	return course.Activity{}, course.ErrActivityNotFound
}

func (repo *Repository) QueryCommissionsByActivity(ctx context.Context, activityID string) ([]course.Commission, error) {
	repo.db.commissions.RLock()
	defer repo.db.commissions.RUnlock()

	var coms []course.Commission
	for _, com := range repo.db.commissions.rows {
		if com.ActivityID == activityID {
			coms = append(coms, *com)
		}
	}
	sort.Slice(coms, func(i, j int) bool { return coms[i].ID < coms[j].ID })
	return coms, nil
}

func (repo *Repository) GetCommissionByID(ctx context.Context, id string) (course.Commission, error) {
	repo.db.commissions.RLock()
	defer repo.db.commissions.RUnlock()

	if com, ok := repo.db.commissions.rows[id]; ok {
		return *com, nil
	}
	return course.Commission{}, course.ErrCommissionNotFound
}

func (repo *Repository) GetTrackingByCommission(ctx context.Context, commissionID string) (course.Tracking, error) {
	repo.db.tracking.RLock()
	defer repo.db.tracking.RUnlock()

	if trk, ok := repo.db.tracking.rows[commissionID]; ok {
		return cloneTracking(*trk), nil
	}
	return course.Tracking{}, course.ErrTrackingNotFound
}

func (repo *Repository) WriteRow(ctx context.Context, row course.RowRef, writes []course.CellWrite) error {
	if repo.WriteErrFunc != nil {
		if err := repo.WriteErrFunc(row, writes); err != nil {
			return err
		}
	}

	switch row.Table {
	case course.TableActivities:
		repo.db.activities.Lock()
		defer repo.db.activities.Unlock()
		act, ok := repo.db.activities.rows[row.ID]
		if !ok {
			return course.ErrActivityNotFound
		}
		applyWrites(act.Marks, writes)
	case course.TableTracking:
		repo.db.tracking.Lock()
		defer repo.db.tracking.Unlock()
		trk, ok := repo.db.tracking.rows[row.ID]
		if !ok {
			return course.ErrTrackingNotFound
		}
		applyWrites(trk.Marks, writes)
	default:
		return &course.RemoteError{Message: "table is read-only: " + string(row.Table)}
	}
	return nil
}

func (repo *Repository) Invalidate(tables ...course.Table) {}

func applyWrites(marks course.Marks, writes []course.CellWrite) {
	for _, w := range writes {
		switch {
		case strings.HasSuffix(w.Column, "_user"):
			key := strings.TrimSuffix(w.Column, "_user")
			mark := marks[key]
			mark.Actor, _ = w.Value.(string)
			marks[key] = mark
		case strings.HasSuffix(w.Column, "_timestamp"):
			key := strings.TrimSuffix(w.Column, "_timestamp")
			mark := marks[key]
			if s, ok := w.Value.(string); ok {
				mark.DoneAt, _ = time.Parse("2006-01-02 15:04:05", s)
			}
			marks[key] = mark
		default:
			mark := marks[w.Column]
			mark.Done, _ = w.Value.(bool)
			marks[w.Column] = mark
		}
	}
}

func cloneActivity(act course.Activity) course.Activity {
	act.Marks = cloneMarks(act.Marks)
	return act
}

func cloneTracking(trk course.Tracking) course.Tracking {
	trk.Marks = cloneMarks(trk.Marks)
	return trk
}

func cloneMarks(marks course.Marks) course.Marks {
	out := make(course.Marks, len(marks))
	for k, v := range marks {
		out[k] = v
	}
	return out
}
