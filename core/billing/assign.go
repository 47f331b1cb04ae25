package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/fee"
)

type feesAssigned struct {
	FeeStructureID string   `json:"fee_structure_id"`
	AcademicYear   string   `json:"academic_year"`
	Assigned       int      `json:"assigned"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	StudentFeeIDs  []string `json:"student_fee_ids"`
}

// resolve loads the fee structure & checks the assignment against it before any write.
func (svc *Service) resolve(ctx context.Context, a Assignment) (fee.FeeStructure, string, error) {
	fs, err := svc.catalog.GetFeeStructure(ctx, a.FeeStructureID)
	if err != nil {
		return fee.FeeStructure{}, "", errors.Wrap(err, "getting fee structure")
	}
	year := a.AcademicYear
	if year == "" {
		year = fs.AcademicYear
	} else if year != fs.AcademicYear {
		return fee.FeeStructure{}, "", core.NewValidationError(
			ErrYearMismatch,
			core.FieldError{Field: "academic_year", Error: ErrYearMismatch.Error()},
		)
	}
	return fs, year, nil
}

// AssignToStudents creates a StudentFee (and its installments) for every student not yet assigned to the structure.
// Students are processed independently: one failure never rolls back another.
func (svc *Service) AssignToStudents(ctx context.Context, studentIDs []string, a Assignment) (AssignResult, error) {
	fs, year, err := svc.resolve(ctx, a)
	if err != nil {
		return AssignResult{}, err
	}
	if a.OverrideAmount.Valid && (a.OverrideAmount.Decimal.IsNegative() || !core.HasCents(a.OverrideAmount.Decimal)) {
		return AssignResult{}, core.NewValidationError(nil, core.FieldError{Field: "override_amount", Error: "invalid amount"})
	}
	return svc.assign(ctx, studentIDs, fs, year, a)
}

// AssignToClass assigns the structure to every student enrolled in the class for the academic year.
func (svc *Service) AssignToClass(ctx context.Context, classID string, a Assignment) (AssignResult, error) {
	fs, year, err := svc.resolve(ctx, a)
	if err != nil {
		return AssignResult{}, err
	}
	ids, err := svc.roster.ClassStudentIDs(ctx, core.CleanString(classID), year)
	if err != nil {
		return AssignResult{}, errors.Wrap(err, "resolving class students")
	}
	a.OverrideAmount = decimal.NullDecimal{}
	return svc.assign(ctx, ids, fs, year, a)
}

func (svc *Service) assign(ctx context.Context, studentIDs []string, fs fee.FeeStructure, year string, a Assignment) (AssignResult, error) {
	ids := lo.Uniq(lo.FilterMap(studentIDs, func(id string, _ int) (string, bool) {
		id = core.CleanString(id)
		return id, id != ""
	}))
	if len(ids) == 0 {
		return AssignResult{}, ErrNoStudents
	}

	total := fs.Amount
	if a.OverrideAmount.Valid {
		total = a.OverrideAmount.Decimal
	}
	schedule := fs.FeeType != nil && fs.GeneratesSchedule(*fs.FeeType)

	results := make([]StudentResult, len(ids))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(svc.opts.AssignWorkers, len(ids)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = svc.assignOne(ctx, ids[i], fs.ID, year, a.DueDate, total, schedule)
			}
		}()
	}
	for i := range ids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	res := newAssignResult(results)
	if res.Assigned > 0 {
		created := lo.FilterMap(results, func(r StudentResult, _ int) (string, bool) {
			return r.StudentFeeID, r.Outcome == OutcomeAssigned
		})
		svc.afterCommit(ctx, core.NewEvent(EventFeesAssigned, feesAssigned{
			FeeStructureID: fs.ID,
			AcademicYear:   year,
			Assigned:       res.Assigned,
			Skipped:        res.Skipped,
			Failed:         res.Failed,
			StudentFeeIDs:  created,
		}))
	}
	svc.logger.Info(fmt.Sprintf(
		"fee structure %s assigned: %d assigned, %d skipped, %d failed", fs.ID, res.Assigned, res.Skipped, res.Failed,
	))
	return res, nil
}

func (svc *Service) assignOne(
	ctx context.Context,
	studentID, structureID, year string,
	dueDate core.Date,
	total decimal.Decimal,
	schedule bool,
) StudentResult {
	res := StudentResult{StudentID: studentID}
	now := NowFunc().UTC()
	sf := StudentFee{
		ID:             uuid.New().String(),
		StudentID:      studentID,
		FeeStructureID: structureID,
		AcademicYear:   year,
		TotalAmount:    total,
		PaidAmount:     decimal.Zero,
		DiscountAmount: decimal.Zero,
		DueAmount:      total,
		Status:         DeriveStatus(decimal.Zero, total),
		DueDate:        dueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var dues []MonthlyDue
	if schedule {
		dues = buildSchedule(sf, now, svc.opts)
	}

	err := svc.store.RunInTx(ctx, func(tx Tx) error {
		created, err := tx.InsertStudentFee(ctx, sf)
		if err != nil {
			return errors.Wrap(err, "inserting student fee")
		}
		if !created {
			return errAlreadyAssigned
		}
		if len(dues) > 0 {
			return errors.Wrap(tx.InsertMonthlyDues(ctx, dues), "inserting monthly dues")
		}
		return nil
	})

	switch {
	case errors.Cause(err) == errAlreadyAssigned:
		res.Outcome = OutcomeSkipped
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Error = errors.Cause(err).Error()
		svc.logger.Error(fmt.Sprintf("assigning fee structure %s to student %s: %v", structureID, studentID, err), err)
	default:
		res.Outcome = OutcomeAssigned
		res.StudentFeeID = sf.ID
		res.Installments = len(dues)
	}
	return res
}
