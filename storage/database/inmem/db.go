// Package inmemdb implements the repositories in process memory. It backs tests & the `memory` database driver.
package inmemdb

import (
	"sync"

	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
)

type (
	ledgerKey struct {
		studentID, structureID, academicYear string
	}

	enrollmentKey struct {
		classID, academicYear string
	}

	// DB holds every table behind one RWMutex. Ledger transactions additionally serialize on row locks.
	DB struct {
		mutex sync.RWMutex
		locks *rowLocks

		feeTypes      map[string]fee.FeeType
		feeStructures map[string]fee.FeeStructure

		studentFees map[string]billing.StudentFee
		ledgerKeys  map[ledgerKey]string
		monthlyDues map[string]billing.MonthlyDue
		payments    map[string]billing.Payment
		receipts    map[string]string // receipt number -> payment id
		allocations []billing.Allocation

		enrollments map[enrollmentKey]map[string]struct{}
	}
)

func Open() *DB {
	return &DB{
		locks:         newRowLocks(),
		feeTypes:      make(map[string]fee.FeeType),
		feeStructures: make(map[string]fee.FeeStructure),
		studentFees:   make(map[string]billing.StudentFee),
		ledgerKeys:    make(map[ledgerKey]string),
		monthlyDues:   make(map[string]billing.MonthlyDue),
		payments:      make(map[string]billing.Payment),
		receipts:      make(map[string]string),
		enrollments:   make(map[enrollmentKey]map[string]struct{}),
	}
}

// rowLocks is a set of named exclusive locks, created on demand & dropped when unused.
type rowLocks struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	mu   sync.Mutex
	refs int
}

func newRowLocks() *rowLocks {
	return &rowLocks{locks: make(map[string]*rowLock)}
}

func (l *rowLocks) lock(key string) {
	l.mu.Lock()
	rl, ok := l.locks[key]
	if !ok {
		rl = &rowLock{}
		l.locks[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
}

func (l *rowLocks) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl := l.locks[key]
	rl.mu.Unlock()
	if rl.refs--; rl.refs == 0 {
		delete(l.locks, key)
	}
}
