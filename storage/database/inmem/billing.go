package inmemdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
)

type billingStore struct {
	db *DB
}

var _ billing.Store = (*billingStore)(nil)

func NewBillingStore(db *DB) *billingStore {
	return &billingStore{db: db}
}

// RunInTx gives fn a transaction whose writes are staged & applied atomically on commit.
// Row locks taken by the transaction are held until it ends.
func (s *billingStore) RunInTx(ctx context.Context, fn func(tx billing.Tx) error) (err error) {
	tx := &ledgerTx{
		db:          s.db,
		studentFees: make(map[string]billing.StudentFee),
		monthlyDues: make(map[string]billing.MonthlyDue),
	}
	defer tx.release()

	if err = ctx.Err(); err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		return err // rolled back: nothing staged is applied
	}
	return errors.Wrap(tx.commit(), "committing transaction")
}

func (s *billingStore) GetStudentFee(_ context.Context, id string) (billing.StudentFee, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	if sf, ok := s.db.studentFees[id]; ok {
		return sf, nil
	}
	return billing.StudentFee{}, billing.ErrStudentFeeNotFound
}

func sortDues(dues []billing.MonthlyDue) {
	sort.Slice(dues, func(i, j int) bool {
		a, b := dues[i], dues[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
}

func (s *billingStore) QueryMonthlyDues(_ context.Context, studentFeeID string) ([]billing.MonthlyDue, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	dues := make([]billing.MonthlyDue, 0)
	for _, d := range s.db.monthlyDues {
		if d.StudentFeeID == studentFeeID {
			dues = append(dues, d)
		}
	}
	sortDues(dues)
	return dues, nil
}

func sortPayments(payments []billing.Payment) {
	sort.Slice(payments, func(i, j int) bool {
		a, b := payments[i], payments[j]
		if !a.PaidAt.Equal(b.PaidAt) {
			return a.PaidAt.After(b.PaidAt)
		}
		return a.ReceiptNumber > b.ReceiptNumber
	})
}

func (s *billingStore) QueryPayments(_ context.Context, studentFeeID string) ([]billing.Payment, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	payments := make([]billing.Payment, 0)
	for _, p := range s.db.payments {
		if p.StudentFeeID == studentFeeID {
			payments = append(payments, p)
		}
	}
	sortPayments(payments)
	return payments, nil
}

func (s *billingStore) GetPaymentByReceipt(_ context.Context, receiptNumber string) (billing.Payment, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	if id, ok := s.db.receipts[receiptNumber]; ok {
		return s.db.payments[id], nil
	}
	return billing.Payment{}, billing.ErrPaymentNotFound
}

func (s *billingStore) QueryAllocations(_ context.Context, paymentID string) ([]billing.Allocation, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	allocs := make([]billing.Allocation, 0)
	for _, a := range s.db.allocations {
		if a.PaymentID == paymentID {
			allocs = append(allocs, a)
		}
	}
	sort.SliceStable(allocs, func(i, j int) bool {
		if allocs[i].Year != allocs[j].Year {
			return allocs[i].Year < allocs[j].Year
		}
		return allocs[i].Month < allocs[j].Month
	})
	return allocs, nil
}

type ledgerTx struct {
	db     *DB
	locked []string

	// staged writes
	studentFees map[string]billing.StudentFee
	newFees     []string
	monthlyDues map[string]billing.MonthlyDue
	payments    []billing.Payment
	allocations []billing.Allocation
}

var _ billing.Tx = (*ledgerTx)(nil)

func (tx *ledgerTx) lock(key string) {
	for _, k := range tx.locked {
		if k == key {
			return
		}
	}
	tx.db.locks.lock(key)
	tx.locked = append(tx.locked, key)
}

func (tx *ledgerTx) release() {
	for i := len(tx.locked) - 1; i >= 0; i-- {
		tx.db.locks.unlock(tx.locked[i])
	}
	tx.locked = nil
}

func (tx *ledgerTx) InsertStudentFee(_ context.Context, sf billing.StudentFee) (bool, error) {
	key := ledgerKey{sf.StudentID, sf.FeeStructureID, sf.AcademicYear}
	tx.lock("ledger:" + key.studentID + "|" + key.structureID + "|" + key.academicYear)

	tx.db.mutex.RLock()
	_, exists := tx.db.ledgerKeys[key]
	_, structureExists := tx.db.feeStructures[sf.FeeStructureID]
	tx.db.mutex.RUnlock()

	if exists {
		return false, nil
	}
	if !structureExists {
		return false, fee.ErrFeeStructureNotFound
	}
	tx.studentFees[sf.ID] = sf
	tx.newFees = append(tx.newFees, sf.ID)
	return true, nil
}

func (tx *ledgerTx) InsertMonthlyDues(_ context.Context, dues []billing.MonthlyDue) error {
	for _, d := range dues {
		if _, ok := tx.studentFees[d.StudentFeeID]; !ok {
			return errors.Errorf("monthly due %d-%02d: student fee %s not in transaction", d.Year, d.Month, d.StudentFeeID)
		}
		tx.monthlyDues[d.ID] = d
	}
	return nil
}

func (tx *ledgerTx) LockStudentFee(_ context.Context, id string) (billing.StudentFee, error) {
	tx.lock("student_fee:" + id)

	if sf, ok := tx.studentFees[id]; ok {
		return sf, nil
	}
	tx.db.mutex.RLock()
	defer tx.db.mutex.RUnlock()

	if sf, ok := tx.db.studentFees[id]; ok {
		return sf, nil
	}
	return billing.StudentFee{}, billing.ErrStudentFeeNotFound
}

func (tx *ledgerTx) UpdateStudentFee(_ context.Context, sf billing.StudentFee) error {
	if _, ok := tx.studentFees[sf.ID]; !ok {
		tx.db.mutex.RLock()
		_, ok = tx.db.studentFees[sf.ID]
		tx.db.mutex.RUnlock()
		if !ok {
			return billing.ErrStudentFeeNotFound
		}
	}
	tx.studentFees[sf.ID] = sf
	return nil
}

// LockOutstandingDues relies on the student fee lock: installments are only written under it.
func (tx *ledgerTx) LockOutstandingDues(_ context.Context, studentFeeID string) ([]billing.MonthlyDue, error) {
	tx.lock("student_fee:" + studentFeeID)

	merged := make(map[string]billing.MonthlyDue)
	tx.db.mutex.RLock()
	for id, d := range tx.db.monthlyDues {
		if d.StudentFeeID == studentFeeID {
			merged[id] = d
		}
	}
	tx.db.mutex.RUnlock()
	for id, d := range tx.monthlyDues {
		if d.StudentFeeID == studentFeeID {
			merged[id] = d
		}
	}

	dues := make([]billing.MonthlyDue, 0, len(merged))
	for _, d := range merged {
		if d.Status == billing.StatusPending || d.Status == billing.StatusPartial {
			dues = append(dues, d)
		}
	}
	sortDues(dues)
	return dues, nil
}

func (tx *ledgerTx) UpdateMonthlyDue(_ context.Context, due billing.MonthlyDue) error {
	if due.PaidAmount.IsNegative() || due.PaidAmount.GreaterThan(due.Amount) {
		return errors.Errorf("monthly due %s: paid amount %s out of range", due.ID, due.PaidAmount)
	}
	tx.monthlyDues[due.ID] = due
	return nil
}

func (tx *ledgerTx) InsertPayment(_ context.Context, p billing.Payment) error {
	if !p.Amount.IsPositive() {
		return errors.Errorf("payment %s: amount must be positive", p.ReceiptNumber)
	}
	tx.payments = append(tx.payments, p)
	return nil
}

func (tx *ledgerTx) InsertAllocations(_ context.Context, allocs []billing.Allocation) error {
	tx.allocations = append(tx.allocations, allocs...)
	return nil
}

// commit checks the constraints the database would enforce & applies the staged writes.
func (tx *ledgerTx) commit() error {
	tx.db.mutex.Lock()
	defer tx.db.mutex.Unlock()

	for _, sf := range tx.studentFees {
		if !sf.Balanced() {
			return errors.Errorf("student fee %s: total does not balance", sf.ID)
		}
	}
	for _, id := range tx.newFees {
		if _, ok := tx.db.feeStructures[tx.studentFees[id].FeeStructureID]; !ok {
			return fee.ErrFeeStructureNotFound
		}
	}
	for _, p := range tx.payments {
		if _, ok := tx.db.receipts[p.ReceiptNumber]; ok {
			return errors.Errorf("receipt number %s already exists", p.ReceiptNumber)
		}
	}

	for id, sf := range tx.studentFees {
		tx.db.studentFees[id] = sf
	}
	for _, id := range tx.newFees {
		sf := tx.studentFees[id]
		tx.db.ledgerKeys[ledgerKey{sf.StudentID, sf.FeeStructureID, sf.AcademicYear}] = id
	}
	for id, d := range tx.monthlyDues {
		tx.db.monthlyDues[id] = d
	}
	for _, p := range tx.payments {
		tx.db.payments[p.ID] = p
		tx.db.receipts[p.ReceiptNumber] = p.ID
	}
	tx.db.allocations = append(tx.db.allocations, tx.allocations...)
	return nil
}
