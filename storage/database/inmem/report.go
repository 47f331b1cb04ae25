package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/report"
)

type reportRepository struct {
	db *DB
}

var _ report.Repository = (*reportRepository)(nil)

func NewReportRepository(db *DB) *reportRepository {
	return &reportRepository{db: db}
}

func (repo *reportRepository) QueryDues(_ context.Context, filter report.DuesFilter, today core.Date) (report.DuesReport, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]report.DuesRow, 0)
	var summary report.Summary
	for _, sf := range repo.db.studentFees {
		fs := repo.db.withFeeType(repo.db.feeStructures[sf.FeeStructureID])
		if sf.AcademicYear != filter.AcademicYear ||
			(filter.StudentID != "" && sf.StudentID != filter.StudentID) ||
			(filter.ClassID != "" && fs.ClassID != filter.ClassID) ||
			(filter.FeeTypeID != "" && fs.FeeTypeID != filter.FeeTypeID) {
			continue
		}
		switch filter.Status {
		case "":
		case billing.StatusOverdue:
			if sf.EffectiveStatus(today) != billing.StatusOverdue {
				continue
			}
		default:
			if sf.Status != filter.Status {
				continue
			}
		}

		row := report.DuesRow{
			StudentFee: sf,
			ClassID:    fs.ClassID,
			FeeTypeID:  fs.FeeTypeID,
			Frequency:  fs.Frequency,
		}
		if fs.FeeType != nil {
			row.FeeTypeCode = fs.FeeType.Code
			row.FeeTypeName = fs.FeeType.Name
		}
		rows = append(rows, row)
		summary.Count++
		summary.TotalAmount = summary.TotalAmount.Add(sf.TotalAmount)
		summary.PaidAmount = summary.PaidAmount.Add(sf.PaidAmount)
		summary.DiscountAmount = summary.DiscountAmount.Add(sf.DiscountAmount)
		summary.DueAmount = summary.DueAmount.Add(sf.DueAmount)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].StudentFee, rows[j].StudentFee
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	start, end := filter.Bounds(len(rows))
	return report.DuesReport{Data: rows[start:end], Total: len(rows), Summary: summary}, nil
}

func (repo *reportRepository) QueryMonthlyDues(_ context.Context, filter report.MonthlyFilter, today core.Date) ([]report.MonthlyRow, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]report.MonthlyRow, 0)
	for _, d := range repo.db.monthlyDues {
		sf := repo.db.studentFees[d.StudentFeeID]
		fs := repo.db.withFeeType(repo.db.feeStructures[sf.FeeStructureID])
		if (filter.StudentID != "" && sf.StudentID != filter.StudentID) ||
			(filter.ClassID != "" && fs.ClassID != filter.ClassID) ||
			(filter.Year != 0 && d.Year != filter.Year) {
			continue
		}
		switch filter.Status {
		case "":
		case billing.StatusOverdue:
			if d.EffectiveStatus(today) != billing.StatusOverdue {
				continue
			}
		default:
			if d.Status != filter.Status {
				continue
			}
		}

		row := report.MonthlyRow{
			MonthlyDue:     d,
			StudentID:      sf.StudentID,
			FeeStructureID: sf.FeeStructureID,
			ClassID:        fs.ClassID,
		}
		if fs.FeeType != nil {
			row.FeeTypeCode = fs.FeeType.Code
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.StudentID < b.StudentID
	})
	return rows, nil
}

func (repo *reportRepository) QueryCollections(_ context.Context, filter report.CollectionsFilter) (report.CollectionsReport, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rep := report.CollectionsReport{Data: []billing.Payment{}}
	payments := make([]billing.Payment, 0)
	for _, p := range repo.db.payments {
		paidOn := core.DateOf(p.PaidAt.UTC())
		if (filter.StudentID != "" && p.StudentID != filter.StudentID) ||
			(filter.PaymentMethod != "" && p.PaymentMethod != filter.PaymentMethod) ||
			(!filter.DateFrom.IsZero() && paidOn.Before(filter.DateFrom)) ||
			(!filter.DateTo.IsZero() && paidOn.After(filter.DateTo)) {
			continue
		}
		payments = append(payments, p)
		rep.TotalAmount = rep.TotalAmount.Add(p.Amount)
		rep.TotalDiscount = rep.TotalDiscount.Add(p.DiscountAmount)
	}
	sortPayments(payments)

	start, end := filter.Bounds(len(payments))
	rep.Data = append(rep.Data, payments[start:end]...)
	rep.Total = len(payments)
	return rep, nil
}
