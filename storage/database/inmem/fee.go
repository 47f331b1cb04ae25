package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/bursar/core/fee"
)

type feeRepository struct {
	db *DB
}

var _ fee.Repository = (*feeRepository)(nil)

func NewFeeRepository(db *DB) *feeRepository {
	return &feeRepository{db: db}
}

func (repo *feeRepository) CreateFeeType(_ context.Context, ft fee.FeeType) (fee.FeeType, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, t := range repo.db.feeTypes {
		if t.Code == ft.Code {
			return fee.FeeType{}, fee.ErrCodeExists
		}
	}
	repo.db.feeTypes[ft.ID] = ft
	return ft, nil
}

func (repo *feeRepository) GetFeeType(_ context.Context, id string) (fee.FeeType, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if ft, ok := repo.db.feeTypes[id]; ok {
		return ft, nil
	}
	return fee.FeeType{}, fee.ErrFeeTypeNotFound
}

func (repo *feeRepository) QueryFeeTypes(_ context.Context, filter fee.TypeFilter) ([]fee.FeeType, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	types := make([]fee.FeeType, 0)
	for _, ft := range repo.db.feeTypes {
		if filter.Category != "" && ft.Category != filter.Category {
			continue
		}
		if filter.IsRecurring != nil && ft.IsRecurring != *filter.IsRecurring {
			continue
		}
		if filter.Search != "" &&
			!strings.Contains(strings.ToLower(ft.Name), filter.Search) &&
			!strings.Contains(strings.ToLower(ft.Code), filter.Search) {
			continue
		}
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool {
		if types[i].Name != types[j].Name {
			return types[i].Name < types[j].Name
		}
		return types[i].Code < types[j].Code
	})
	return types, nil
}

// structureExists must be called with the lock held.
func (repo *feeRepository) structureExists(fs fee.FeeStructure) bool {
	for _, s := range repo.db.feeStructures {
		if s.ID != fs.ID && s.ClassID == fs.ClassID && s.FeeTypeID == fs.FeeTypeID && s.AcademicYear == fs.AcademicYear {
			return true
		}
	}
	return false
}

func (repo *feeRepository) CreateFeeStructure(_ context.Context, fs fee.FeeStructure) (fee.FeeStructure, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.feeTypes[fs.FeeTypeID]; !ok {
		return fee.FeeStructure{}, fee.ErrFeeTypeNotFound
	}
	if repo.structureExists(fs) {
		return fee.FeeStructure{}, fee.ErrStructureExists
	}
	fs.FeeType = nil
	repo.db.feeStructures[fs.ID] = fs
	return fs, nil
}

// withFeeType must be called with the lock held.
func (db *DB) withFeeType(fs fee.FeeStructure) fee.FeeStructure {
	if ft, ok := db.feeTypes[fs.FeeTypeID]; ok {
		fs.FeeType = &ft
	}
	return fs
}

func (repo *feeRepository) GetFeeStructure(_ context.Context, id string) (fee.FeeStructure, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if fs, ok := repo.db.feeStructures[id]; ok {
		return repo.db.withFeeType(fs), nil
	}
	return fee.FeeStructure{}, fee.ErrFeeStructureNotFound
}

func (repo *feeRepository) QueryFeeStructures(_ context.Context, filter fee.StructureFilter) ([]fee.FeeStructure, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	structures := make([]fee.FeeStructure, 0)
	for _, fs := range repo.db.feeStructures {
		if (filter.ClassID != "" && fs.ClassID != filter.ClassID) ||
			(filter.FeeTypeID != "" && fs.FeeTypeID != filter.FeeTypeID) ||
			(filter.AcademicYear != "" && fs.AcademicYear != filter.AcademicYear) ||
			(filter.Frequency != "" && fs.Frequency != filter.Frequency) {
			continue
		}
		structures = append(structures, repo.db.withFeeType(fs))
	}
	sort.Slice(structures, func(i, j int) bool {
		a, b := structures[i], structures[j]
		if a.AcademicYear != b.AcademicYear {
			return a.AcademicYear > b.AcademicYear
		}
		if a.ClassID != b.ClassID {
			return a.ClassID < b.ClassID
		}
		return a.FeeType.Name < b.FeeType.Name
	})
	return structures, nil
}

// countStudentFees must be called with the lock held.
func (db *DB) countStudentFees(structureID string) int {
	var n int
	for _, sf := range db.studentFees {
		if sf.FeeStructureID == structureID {
			n++
		}
	}
	return n
}

func (repo *feeRepository) UpdateFeeStructure(_ context.Context, fs fee.FeeStructure, pricingChanged bool) (fee.FeeStructure, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.feeStructures[fs.ID]; !ok {
		return fee.FeeStructure{}, fee.ErrFeeStructureNotFound
	}
	if pricingChanged && repo.db.countStudentFees(fs.ID) > 0 {
		return fee.FeeStructure{}, fee.ErrStructureFrozen
	}
	if _, ok := repo.db.feeTypes[fs.FeeTypeID]; !ok {
		return fee.FeeStructure{}, fee.ErrFeeTypeNotFound
	}
	if repo.structureExists(fs) {
		return fee.FeeStructure{}, fee.ErrStructureExists
	}
	fs.FeeType = nil
	repo.db.feeStructures[fs.ID] = fs
	return fs, nil
}

func (repo *feeRepository) DeleteFeeStructure(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.feeStructures[id]; !ok {
		return fee.ErrFeeStructureNotFound
	}
	if repo.db.countStudentFees(id) > 0 {
		return fee.ErrStructureInUse
	}
	delete(repo.db.feeStructures, id)
	return nil
}

func (repo *feeRepository) CountStudentFees(_ context.Context, structureID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.db.countStudentFees(structureID), nil
}
