package sqlxrepos

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/report"
)

type duesRow struct {
	studentFeeRow
	ClassID     string `db:"class_id"`
	FeeTypeID   string `db:"fee_type_id"`
	FeeTypeCode string `db:"fee_type_code"`
	FeeTypeName string `db:"fee_type_name"`
	Frequency   string `db:"frequency"`
}

type totalsRow struct {
	Count          int             `db:"count"`
	TotalAmount    decimal.Decimal `db:"total_amount"`
	PaidAmount     decimal.Decimal `db:"paid_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	DueAmount      decimal.Decimal `db:"due_amount"`
}

type monthlyRow struct {
	monthlyDueRow
	StudentID      string `db:"student_id"`
	FeeStructureID string `db:"fee_structure_id"`
	ClassID        string `db:"class_id"`
	FeeTypeCode    string `db:"fee_type_code"`
}

var (
	duesOrdering = []core.DBOrdering{
		{Field: "sf.created_at"},
		{Field: "sf.id", Ascending: true},
	}
	collectionsOrdering = []core.DBOrdering{
		{Field: "paid_at"},
		{Field: "receipt_number"},
	}
)

type reportRepository struct {
	db core.DB
}

var _ report.Repository = (*reportRepository)(nil)

func NewReportRepository(db core.DB) *reportRepository {
	return &reportRepository{db: db}
}

const ledgerJoins = `
	FROM student_fees sf
	JOIN fee_structures fs ON fs.id = sf.fee_structure_id
	JOIN fee_types ft ON ft.id = fs.fee_type_id`

func (repo *reportRepository) QueryDues(ctx context.Context, filter report.DuesFilter, today core.Date) (report.DuesReport, error) {
	rep := report.DuesReport{Data: []report.DuesRow{}}
	if filter.FeeTypeID != "" && !validID(filter.FeeTypeID) {
		return rep, nil
	}

	var w where
	w.add("sf.academic_year = $%[1]d", filter.AcademicYear)
	w.addIf(filter.StudentID != "", "sf.student_id = $%[1]d", filter.StudentID)
	w.addIf(filter.ClassID != "", "fs.class_id = $%[1]d", filter.ClassID)
	w.addIf(filter.FeeTypeID != "", "fs.fee_type_id = $%[1]d", filter.FeeTypeID)
	switch filter.Status {
	case "":
	case billing.StatusOverdue:
		w.add("sf.due_amount > 0 AND sf.due_date < $%[1]d", today)
	default:
		w.add("sf.status = $%[1]d", filter.Status)
	}

	var totals totalsRow
	q := `SELECT COUNT(*) AS count,
			COALESCE(SUM(sf.total_amount), 0) AS total_amount,
			COALESCE(SUM(sf.paid_amount), 0) AS paid_amount,
			COALESCE(SUM(sf.discount_amount), 0) AS discount_amount,
			COALESCE(SUM(sf.due_amount), 0) AS due_amount` + ledgerJoins + w.String()
	if err := repo.db.GetContext(ctx, &totals, q, w.args...); err != nil {
		return report.DuesReport{}, errors.Wrap(err, "summarizing dues")
	}
	rep.Total = totals.Count
	rep.Summary = report.Summary{
		Count:          totals.Count,
		TotalAmount:    totals.TotalAmount,
		PaidAmount:     totals.PaidAmount,
		DiscountAmount: totals.DiscountAmount,
		DueAmount:      totals.DueAmount,
	}
	if totals.Count == 0 {
		return rep, nil
	}

	var rows []duesRow
	q = `SELECT ` + qualify("sf", studentFeeColumns) + `,
			fs.class_id, fs.fee_type_id, ft.code AS fee_type_code, ft.name AS fee_type_name, fs.frequency` +
		ledgerJoins + w.String() +
		orderBy(duesOrdering...) + ` LIMIT ` + w.arg(filter.Limit()) + ` OFFSET ` + w.arg(filter.Offset())
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return report.DuesReport{}, errors.Wrap(err, "selecting dues")
	}
	for _, r := range rows {
		rep.Data = append(rep.Data, report.DuesRow{
			StudentFee:  r.studentFee(),
			ClassID:     r.ClassID,
			FeeTypeID:   r.FeeTypeID,
			FeeTypeCode: r.FeeTypeCode,
			FeeTypeName: r.FeeTypeName,
			Frequency:   r.Frequency,
		})
	}
	return rep, nil
}

func (repo *reportRepository) QueryMonthlyDues(ctx context.Context, filter report.MonthlyFilter, today core.Date) ([]report.MonthlyRow, error) {
	var w where
	w.addIf(filter.StudentID != "", "sf.student_id = $%[1]d", filter.StudentID)
	w.addIf(filter.ClassID != "", "fs.class_id = $%[1]d", filter.ClassID)
	w.addIf(filter.Year != 0, "md.year = $%[1]d", filter.Year)
	switch filter.Status {
	case "":
	case billing.StatusOverdue:
		w.add("md.status <> 'PAID' AND md.due_date < $%[1]d", today)
	default:
		w.add("md.status = $%[1]d", filter.Status)
	}

	var rows []monthlyRow
	q := `SELECT ` + qualify("md", monthlyDueColumns) + `,
			sf.student_id, sf.fee_structure_id, fs.class_id, ft.code AS fee_type_code
		FROM monthly_dues md
		JOIN student_fees sf ON sf.id = md.student_fee_id
		JOIN fee_structures fs ON fs.id = sf.fee_structure_id
		JOIN fee_types ft ON ft.id = fs.fee_type_id` + w.String() + `
		ORDER BY md.year, md.month, md.due_date, sf.student_id`
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting monthly dues")
	}

	res := make([]report.MonthlyRow, 0, len(rows))
	for _, r := range rows {
		res = append(res, report.MonthlyRow{
			MonthlyDue:     r.monthlyDue(),
			StudentID:      r.StudentID,
			FeeStructureID: r.FeeStructureID,
			ClassID:        r.ClassID,
			FeeTypeCode:    r.FeeTypeCode,
		})
	}
	return res, nil
}

func (repo *reportRepository) QueryCollections(ctx context.Context, filter report.CollectionsFilter) (report.CollectionsReport, error) {
	var w where
	w.addIf(filter.StudentID != "", "student_id = $%[1]d", filter.StudentID)
	w.addIf(filter.PaymentMethod != "", "payment_method = $%[1]d", filter.PaymentMethod)
	if !filter.DateFrom.IsZero() {
		w.add("paid_at >= $%[1]d", filter.DateFrom.Time())
	}
	if !filter.DateTo.IsZero() {
		w.add("paid_at < $%[1]d", filter.DateTo.Time().AddDate(0, 0, 1))
	}

	var totals totalsRow
	q := `SELECT COUNT(*) AS count,
			COALESCE(SUM(amount), 0) AS total_amount,
			COALESCE(SUM(discount_amount), 0) AS discount_amount
		FROM payments` + w.String()
	if err := repo.db.GetContext(ctx, &totals, q, w.args...); err != nil {
		return report.CollectionsReport{}, errors.Wrap(err, "summarizing collections")
	}

	rep := report.CollectionsReport{
		Data:          []billing.Payment{},
		Total:         totals.Count,
		TotalAmount:   totals.TotalAmount,
		TotalDiscount: totals.DiscountAmount,
	}
	if totals.Count == 0 {
		return rep, nil
	}

	var rows []paymentRow
	q = `SELECT ` + paymentColumns + ` FROM payments` + w.String() +
		orderBy(collectionsOrdering...) + ` LIMIT ` + w.arg(filter.Limit()) + ` OFFSET ` + w.arg(filter.Offset())
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return report.CollectionsReport{}, errors.Wrap(err, "selecting collections")
	}
	for _, r := range rows {
		rep.Data = append(rep.Data, r.payment())
	}
	return rep, nil
}
