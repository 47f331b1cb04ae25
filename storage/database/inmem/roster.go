package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/bursar/core/billing"
)

type rosterRepository struct {
	db *DB
}

var _ billing.Roster = (*rosterRepository)(nil)

func NewRosterRepository(db *DB) *rosterRepository {
	return &rosterRepository{db: db}
}

func (repo *rosterRepository) ClassStudentIDs(_ context.Context, classID, academicYear string) ([]string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	students := repo.db.enrollments[enrollmentKey{classID, academicYear}]
	ids := make([]string, 0, len(students))
	for id := range students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (repo *rosterRepository) Enroll(_ context.Context, classID, academicYear string, studentIDs ...string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := enrollmentKey{classID, academicYear}
	if repo.db.enrollments[key] == nil {
		repo.db.enrollments[key] = make(map[string]struct{})
	}
	for _, id := range studentIDs {
		repo.db.enrollments[key][id] = struct{}{}
	}
	return nil
}
