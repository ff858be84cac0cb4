package dummydb

import (
	"sync"

	"github.com/dcycp/gestion/core/course"
)

type (
	// DB is the in-memory record store used by unit tests. One RWMutex per
	// table, same discipline as the SQL store.
	DB struct {
		activities  *activityTable
		commissions *commissionTable
		tracking    *trackingTable
	}

	activityTable struct {
		sync.RWMutex
		rows map[string]*course.Activity
	}

	commissionTable struct {
		sync.RWMutex
		rows map[string]*course.Commission
	}

	trackingTable struct {
		sync.RWMutex
		rows map[string]*course.Tracking
	}
)

func Open() (*DB, error) {
	db := &DB{
		activities:  &activityTable{rows: make(map[string]*course.Activity)},
		commissions: &commissionTable{rows: make(map[string]*course.Commission)},
		tracking:    &trackingTable{rows: make(map[string]*course.Tracking)},
	}
	return db, nil
}
