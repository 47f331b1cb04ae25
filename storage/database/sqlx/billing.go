package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
)

type studentFeeRow struct {
	ID              string          `db:"id"`
	StudentID       string          `db:"student_id"`
	FeeStructureID  string          `db:"fee_structure_id"`
	AcademicYear    string          `db:"academic_year"`
	TotalAmount     decimal.Decimal `db:"total_amount"`
	PaidAmount      decimal.Decimal `db:"paid_amount"`
	DiscountAmount  decimal.Decimal `db:"discount_amount"`
	DueAmount       decimal.Decimal `db:"due_amount"`
	Status          string          `db:"status"`
	DueDate         core.Date       `db:"due_date"`
	LastPaymentDate null.Time       `db:"last_payment_date"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func newStudentFeeRow(sf billing.StudentFee) studentFeeRow {
	return studentFeeRow{
		ID:              sf.ID,
		StudentID:       sf.StudentID,
		FeeStructureID:  sf.FeeStructureID,
		AcademicYear:    sf.AcademicYear,
		TotalAmount:     sf.TotalAmount,
		PaidAmount:      sf.PaidAmount,
		DiscountAmount:  sf.DiscountAmount,
		DueAmount:       sf.DueAmount,
		Status:          sf.Status,
		DueDate:         sf.DueDate,
		LastPaymentDate: null.TimeFromPtr(sf.LastPaymentDate),
		CreatedAt:       sf.CreatedAt,
		UpdatedAt:       sf.UpdatedAt,
	}
}

func (r studentFeeRow) studentFee() billing.StudentFee {
	return billing.StudentFee{
		ID:              r.ID,
		StudentID:       r.StudentID,
		FeeStructureID:  r.FeeStructureID,
		AcademicYear:    r.AcademicYear,
		TotalAmount:     r.TotalAmount,
		PaidAmount:      r.PaidAmount,
		DiscountAmount:  r.DiscountAmount,
		DueAmount:       r.DueAmount,
		Status:          r.Status,
		DueDate:         r.DueDate,
		LastPaymentDate: utcPtr(r.LastPaymentDate),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

type monthlyDueRow struct {
	ID           string          `db:"id"`
	StudentFeeID string          `db:"student_fee_id"`
	Month        int             `db:"month"`
	Year         int             `db:"year"`
	Amount       decimal.Decimal `db:"amount"`
	PaidAmount   decimal.Decimal `db:"paid_amount"`
	Status       string          `db:"status"`
	DueDate      core.Date       `db:"due_date"`
	PaidDate     null.Time       `db:"paid_date"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func newMonthlyDueRow(d billing.MonthlyDue) monthlyDueRow {
	return monthlyDueRow{
		ID:           d.ID,
		StudentFeeID: d.StudentFeeID,
		Month:        d.Month,
		Year:         d.Year,
		Amount:       d.Amount,
		PaidAmount:   d.PaidAmount,
		Status:       d.Status,
		DueDate:      d.DueDate,
		PaidDate:     null.TimeFromPtr(d.PaidDate),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (r monthlyDueRow) monthlyDue() billing.MonthlyDue {
	return billing.MonthlyDue{
		ID:           r.ID,
		StudentFeeID: r.StudentFeeID,
		Month:        r.Month,
		Year:         r.Year,
		Amount:       r.Amount,
		PaidAmount:   r.PaidAmount,
		Status:       r.Status,
		DueDate:      r.DueDate,
		PaidDate:     utcPtr(r.PaidDate),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type paymentRow struct {
	ID             string          `db:"id"`
	ReceiptNumber  string          `db:"receipt_number"`
	StudentFeeID   string          `db:"student_fee_id"`
	StudentID      string          `db:"student_id"`
	Amount         decimal.Decimal `db:"amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	DiscountReason null.String     `db:"discount_reason"`
	PaymentMethod  string          `db:"payment_method"`
	TransactionID  null.String     `db:"transaction_id"`
	Remarks        null.String     `db:"remarks"`
	Status         string          `db:"status"`
	CollectedBy    string          `db:"collected_by"`
	PaidAt         time.Time       `db:"paid_at"`
	CreatedAt      time.Time       `db:"created_at"`
}

func newPaymentRow(p billing.Payment) paymentRow {
	return paymentRow{
		ID:             p.ID,
		ReceiptNumber:  p.ReceiptNumber,
		StudentFeeID:   p.StudentFeeID,
		StudentID:      p.StudentID,
		Amount:         p.Amount,
		DiscountAmount: p.DiscountAmount,
		DiscountReason: null.NewString(p.DiscountReason, p.DiscountReason != ""),
		PaymentMethod:  p.PaymentMethod,
		TransactionID:  null.NewString(p.TransactionID, p.TransactionID != ""),
		Remarks:        null.NewString(p.Remarks, p.Remarks != ""),
		Status:         p.Status,
		CollectedBy:    p.CollectedBy,
		PaidAt:         p.PaidAt,
		CreatedAt:      p.CreatedAt,
	}
}

func (r paymentRow) payment() billing.Payment {
	return billing.Payment{
		ID:             r.ID,
		ReceiptNumber:  r.ReceiptNumber,
		StudentFeeID:   r.StudentFeeID,
		StudentID:      r.StudentID,
		Amount:         r.Amount,
		DiscountAmount: r.DiscountAmount,
		DiscountReason: r.DiscountReason.String,
		PaymentMethod:  r.PaymentMethod,
		TransactionID:  r.TransactionID.String,
		Remarks:        r.Remarks.String,
		Status:         r.Status,
		CollectedBy:    r.CollectedBy,
		PaidAt:         r.PaidAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

type allocationRow struct {
	ID           string          `db:"id"`
	PaymentID    string          `db:"payment_id"`
	MonthlyDueID string          `db:"monthly_due_id"`
	Month        int             `db:"month"`
	Year         int             `db:"year"`
	Amount       decimal.Decimal `db:"amount"`
	PaidBefore   decimal.Decimal `db:"paid_before"`
	PaidAfter    decimal.Decimal `db:"paid_after"`
	CreatedAt    time.Time       `db:"created_at"`
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

const (
	studentFeeColumns = `id, student_id, fee_structure_id, academic_year, total_amount, paid_amount,
		discount_amount, due_amount, status, due_date, last_payment_date, created_at, updated_at`
	monthlyDueColumns = `id, student_fee_id, month, year, amount, paid_amount, status, due_date, paid_date,
		created_at, updated_at`
	paymentColumns = `id, receipt_number, student_fee_id, student_id, amount, discount_amount, discount_reason,
		payment_method, transaction_id, remarks, status, collected_by, paid_at, created_at`
	allocationColumns = `id, payment_id, monthly_due_id, month, year, amount, paid_before, paid_after, created_at`
)

type billingStore struct {
	db core.DB
}

var _ billing.Store = (*billingStore)(nil)

func NewBillingStore(db core.DB) *billingStore {
	return &billingStore{db: db}
}

func (s *billingStore) RunInTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

func getStudentFee(ctx context.Context, exec core.DBExecutor, id string, lock bool) (billing.StudentFee, error) {
	if !validID(id) {
		return billing.StudentFee{}, billing.ErrStudentFeeNotFound
	}
	q := `SELECT ` + studentFeeColumns + ` FROM student_fees WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}

	var row studentFeeRow
	err := exec.GetContext(ctx, &row, q, id)
	if err == sql.ErrNoRows {
		return billing.StudentFee{}, billing.ErrStudentFeeNotFound
	}
	if err != nil {
		return billing.StudentFee{}, errors.Wrap(err, "selecting student fee")
	}
	return row.studentFee(), nil
}

func (s *billingStore) GetStudentFee(ctx context.Context, id string) (billing.StudentFee, error) {
	return getStudentFee(ctx, s.db, id, false)
}

func selectMonthlyDues(ctx context.Context, exec core.DBExecutor, q string, args ...interface{}) ([]billing.MonthlyDue, error) {
	var rows []monthlyDueRow
	if err := exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting monthly dues")
	}
	dues := make([]billing.MonthlyDue, 0, len(rows))
	for _, r := range rows {
		dues = append(dues, r.monthlyDue())
	}
	return dues, nil
}

func (s *billingStore) QueryMonthlyDues(ctx context.Context, studentFeeID string) ([]billing.MonthlyDue, error) {
	if !validID(studentFeeID) {
		return []billing.MonthlyDue{}, nil
	}
	q := `SELECT ` + monthlyDueColumns + ` FROM monthly_dues WHERE student_fee_id = $1 ORDER BY due_date, year, month`
	return selectMonthlyDues(ctx, s.db, q, studentFeeID)
}

func (s *billingStore) QueryPayments(ctx context.Context, studentFeeID string) ([]billing.Payment, error) {
	if !validID(studentFeeID) {
		return []billing.Payment{}, nil
	}
	var rows []paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE student_fee_id = $1 ORDER BY paid_at DESC, receipt_number DESC`
	if err := s.db.SelectContext(ctx, &rows, q, studentFeeID); err != nil {
		return nil, errors.Wrap(err, "selecting payments")
	}
	payments := make([]billing.Payment, 0, len(rows))
	for _, r := range rows {
		payments = append(payments, r.payment())
	}
	return payments, nil
}

func (s *billingStore) GetPaymentByReceipt(ctx context.Context, receiptNumber string) (billing.Payment, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE receipt_number = $1`, receiptNumber)
	if err == sql.ErrNoRows {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	if err != nil {
		return billing.Payment{}, errors.Wrap(err, "selecting payment")
	}
	return row.payment(), nil
}

func (s *billingStore) QueryAllocations(ctx context.Context, paymentID string) ([]billing.Allocation, error) {
	var rows []allocationRow
	q := `SELECT ` + allocationColumns + ` FROM payment_allocations WHERE payment_id = $1 ORDER BY year, month`
	if err := s.db.SelectContext(ctx, &rows, q, paymentID); err != nil {
		return nil, errors.Wrap(err, "selecting allocations")
	}
	allocs := make([]billing.Allocation, 0, len(rows))
	for _, r := range rows {
		allocs = append(allocs, billing.Allocation{
			ID:           r.ID,
			PaymentID:    r.PaymentID,
			MonthlyDueID: r.MonthlyDueID,
			Month:        r.Month,
			Year:         r.Year,
			Amount:       r.Amount,
			PaidBefore:   r.PaidBefore,
			PaidAfter:    r.PaidAfter,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return allocs, nil
}

// ledgerTx is a billing.Tx on a READ COMMITTED transaction; ledger rows are serialized with FOR UPDATE.
type ledgerTx struct {
	tx *sqlx.Tx
}

var _ billing.Tx = (*ledgerTx)(nil)

func (l *ledgerTx) InsertStudentFee(ctx context.Context, sf billing.StudentFee) (bool, error) {
	q, args, err := l.tx.BindNamed(`INSERT INTO student_fees (`+studentFeeColumns+`)
		VALUES (:id, :student_id, :fee_structure_id, :academic_year, :total_amount, :paid_amount, :discount_amount,
			:due_amount, :status, :due_date, :last_payment_date, :created_at, :updated_at)
		ON CONFLICT (student_id, fee_structure_id, academic_year) DO NOTHING
		RETURNING id`, newStudentFeeRow(sf))
	if err != nil {
		return false, errors.Wrap(err, "binding student fee")
	}

	var id string
	err = l.tx.GetContext(ctx, &id, q, args...)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		if code, _ := pqError(err); code == foreignKeyViolation {
			return false, fee.ErrFeeStructureNotFound
		}
		return false, errors.Wrap(err, "inserting student fee")
	}
	return true, nil
}

func (l *ledgerTx) InsertMonthlyDues(ctx context.Context, dues []billing.MonthlyDue) error {
	q := `INSERT INTO monthly_dues (` + monthlyDueColumns + `)
		VALUES (:id, :student_fee_id, :month, :year, :amount, :paid_amount, :status, :due_date, :paid_date,
			:created_at, :updated_at)`
	for _, d := range dues {
		if _, err := l.tx.NamedExecContext(ctx, q, newMonthlyDueRow(d)); err != nil {
			return errors.Wrapf(err, "inserting monthly due %d-%02d", d.Year, d.Month)
		}
	}
	return nil
}

func (l *ledgerTx) LockStudentFee(ctx context.Context, id string) (billing.StudentFee, error) {
	return getStudentFee(ctx, l.tx, id, true)
}

func (l *ledgerTx) UpdateStudentFee(ctx context.Context, sf billing.StudentFee) error {
	q := `UPDATE student_fees SET
		paid_amount = :paid_amount, discount_amount = :discount_amount, due_amount = :due_amount, status = :status,
		last_payment_date = :last_payment_date, updated_at = :updated_at
		WHERE id = :id`
	_, err := l.tx.NamedExecContext(ctx, q, newStudentFeeRow(sf))
	return errors.Wrap(err, "updating student fee")
}

func (l *ledgerTx) LockOutstandingDues(ctx context.Context, studentFeeID string) ([]billing.MonthlyDue, error) {
	q := `SELECT ` + monthlyDueColumns + ` FROM monthly_dues
		WHERE student_fee_id = $1 AND status IN ($2, $3)
		ORDER BY due_date, year, month
		FOR UPDATE`
	return selectMonthlyDues(ctx, l.tx, q, studentFeeID, billing.StatusPending, billing.StatusPartial)
}

func (l *ledgerTx) UpdateMonthlyDue(ctx context.Context, due billing.MonthlyDue) error {
	q := `UPDATE monthly_dues SET
		paid_amount = :paid_amount, status = :status, paid_date = :paid_date, updated_at = :updated_at
		WHERE id = :id`
	_, err := l.tx.NamedExecContext(ctx, q, newMonthlyDueRow(due))
	return errors.Wrap(err, "updating monthly due")
}

func (l *ledgerTx) InsertPayment(ctx context.Context, p billing.Payment) error {
	q := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (:id, :receipt_number, :student_fee_id, :student_id, :amount, :discount_amount, :discount_reason,
			:payment_method, :transaction_id, :remarks, :status, :collected_by, :paid_at, :created_at)`
	_, err := l.tx.NamedExecContext(ctx, q, newPaymentRow(p))
	return errors.Wrap(err, "inserting payment")
}

func (l *ledgerTx) InsertAllocations(ctx context.Context, allocs []billing.Allocation) error {
	q := `INSERT INTO payment_allocations (` + allocationColumns + `)
		VALUES (:id, :payment_id, :monthly_due_id, :month, :year, :amount, :paid_before, :paid_after, :created_at)`
	for _, a := range allocs {
		row := allocationRow{
			ID:           a.ID,
			PaymentID:    a.PaymentID,
			MonthlyDueID: a.MonthlyDueID,
			Month:        a.Month,
			Year:         a.Year,
			Amount:       a.Amount,
			PaidBefore:   a.PaidBefore,
			PaidAfter:    a.PaidAfter,
			CreatedAt:    a.CreatedAt,
		}
		if _, err := l.tx.NamedExecContext(ctx, q, row); err != nil {
			return errors.Wrap(err, "inserting allocation")
		}
	}
	return nil
}
