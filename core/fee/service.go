package fee

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
)

var (
	// errors
	ErrFeeTypeNotFound      = core.NewNotFoundError("fee type")
	ErrFeeStructureNotFound = core.NewNotFoundError("fee structure")

	ErrCodeExists      = errors.New("a fee type with this code already exists")
	ErrStructureExists = errors.New("a fee structure already exists for this class, fee type and academic year")
	ErrStructureFrozen = errors.New("students are assigned to this fee structure; only its description can change")
	ErrStructureInUse  = errors.New("students are assigned to this fee structure; it cannot be deleted")
)

type (
	Repository interface {
		// CreateFeeType returns ErrCodeExists when the code is taken.
		CreateFeeType(ctx context.Context, ft FeeType) (FeeType, error)
		GetFeeType(ctx context.Context, id string) (FeeType, error)
		QueryFeeTypes(ctx context.Context, filter TypeFilter) ([]FeeType, error)

		// CreateFeeStructure returns ErrStructureExists on (class, fee type, year) clashes.
		CreateFeeStructure(ctx context.Context, fs FeeStructure) (FeeStructure, error)
		// GetFeeStructure returns the structure with its FeeType set.
		GetFeeStructure(ctx context.Context, id string) (FeeStructure, error)
		QueryFeeStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error)
		// UpdateFeeStructure atomically refuses pricing changes (ErrStructureFrozen) once students are assigned.
		UpdateFeeStructure(ctx context.Context, fs FeeStructure, pricingChanged bool) (FeeStructure, error)
		// DeleteFeeStructure atomically refuses (ErrStructureInUse) once students are assigned.
		DeleteFeeStructure(ctx context.Context, id string) error
		CountStudentFees(ctx context.Context, structureID string) (int, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// conflict maps repository uniqueness/lock errors to core.ConflictError.
func conflict(err error) error {
	var field string
	switch pkgerrors.Cause(err) {
	case ErrCodeExists:
		field = "code"
	case ErrStructureExists:
		field = "fee_type_id"
	case ErrStructureFrozen:
		field = "amount"
	case ErrStructureInUse:
		field = "id"
	default:
		return err
	}
	cause := pkgerrors.Cause(err)
	return core.NewConflictError(cause, core.FieldError{Field: field, Error: cause.Error()})
}

func (svc *Service) CreateFeeType(ctx context.Context, nt NewFeeType) (FeeType, error) {
	now := time.Now().UTC()
	ft := FeeType{
		ID:          uuid.New().String(),
		Name:        nt.Name,
		Code:        core.CleanCode(nt.Code),
		Category:    nt.Category,
		IsRecurring: nt.IsRecurring,
		Description: nt.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ft, err := svc.repo.CreateFeeType(ctx, ft)
	if err != nil {
		return FeeType{}, conflict(err)
	}
	return ft, nil
}

func (svc *Service) GetFeeType(ctx context.Context, id string) (FeeType, error) {
	return svc.repo.GetFeeType(ctx, id)
}

func (svc *Service) QueryFeeTypes(ctx context.Context, filter TypeFilter) ([]FeeType, error) {
	filter.Clean()
	return svc.repo.QueryFeeTypes(ctx, filter)
}

func (svc *Service) CreateFeeStructure(ctx context.Context, ns NewFeeStructure) (FeeStructure, error) {
	ft, err := svc.repo.GetFeeType(ctx, ns.FeeTypeID)
	if err != nil {
		return FeeStructure{}, pkgerrors.Wrap(err, "getting fee type")
	}

	now := time.Now().UTC()
	fs := FeeStructure{
		ID:           uuid.New().String(),
		ClassID:      ns.ClassID,
		FeeTypeID:    ft.ID,
		AcademicYear: ns.AcademicYear,
		Amount:       ns.Amount,
		Frequency:    ns.Frequency,
		Description:  ns.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	fs, err = svc.repo.CreateFeeStructure(ctx, fs)
	if err != nil {
		return FeeStructure{}, conflict(err)
	}
	fs.FeeType = &ft
	return fs, nil
}

func (svc *Service) GetFeeStructure(ctx context.Context, id string) (FeeStructure, error) {
	return svc.repo.GetFeeStructure(ctx, id)
}

func (svc *Service) QueryFeeStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error) {
	filter.Clean()
	return svc.repo.QueryFeeStructures(ctx, filter)
}

// UpdateFeeStructure applies a validated UpdateFeeStructure to orig.
// Existing ledger rows are never touched: assigned totals are snapshots.
func (svc *Service) UpdateFeeStructure(ctx context.Context, orig FeeStructure, uf UpdateFeeStructure) (FeeStructure, error) {
	fs := orig
	fs.ClassID = uf.ClassID
	fs.FeeTypeID = uf.FeeTypeID
	fs.AcademicYear = uf.AcademicYear
	fs.Frequency = uf.Frequency
	fs.Amount = uf.Amount.Decimal
	if uf.Description != nil {
		fs.Description = *uf.Description
	}
	fs.UpdatedAt = time.Now().UTC()
	fs.FeeType = nil

	if fs.FeeTypeID != orig.FeeTypeID {
		if _, err := svc.repo.GetFeeType(ctx, fs.FeeTypeID); err != nil {
			return FeeStructure{}, pkgerrors.Wrap(err, "getting fee type")
		}
	}

	updated, err := svc.repo.UpdateFeeStructure(ctx, fs, fs.pricingChanged(orig))
	if err != nil {
		return FeeStructure{}, conflict(err)
	}
	return svc.repo.GetFeeStructure(ctx, updated.ID)
}

func (svc *Service) DeleteFeeStructure(ctx context.Context, id string) error {
	if err := svc.repo.DeleteFeeStructure(ctx, id); err != nil {
		return conflict(err)
	}
	svc.logger.Info("fee structure deleted: " + id)
	return nil
}

// IsFrozen reports whether students are already assigned to the structure.
func (svc *Service) IsFrozen(ctx context.Context, id string) (bool, error) {
	n, err := svc.repo.CountStudentFees(ctx, id)
	if err != nil {
		return false, pkgerrors.Wrap(err, "counting student fees")
	}
	return n > 0, nil
}
