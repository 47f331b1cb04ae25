package billing

import (
	"context"

	"github.com/trezcool/bursar/core/fee"
)

type (
	// Tx is a unit of work on the ledger. Writes are visible to other callers only once committed.
	Tx interface {
		// InsertStudentFee creates sf unless one already exists for (student, structure, year).
		// The check and the insert are atomic; created is false when the row existed.
		InsertStudentFee(ctx context.Context, sf StudentFee) (created bool, err error)
		InsertMonthlyDues(ctx context.Context, dues []MonthlyDue) error

		// LockStudentFee reads the StudentFee and holds a write lock on it until the end of the Tx.
		LockStudentFee(ctx context.Context, id string) (StudentFee, error)
		UpdateStudentFee(ctx context.Context, sf StudentFee) error

		// LockOutstandingDues reads & locks the PENDING/PARTIAL installments of a StudentFee, oldest due date first.
		LockOutstandingDues(ctx context.Context, studentFeeID string) ([]MonthlyDue, error)
		UpdateMonthlyDue(ctx context.Context, due MonthlyDue) error

		InsertPayment(ctx context.Context, p Payment) error
		InsertAllocations(ctx context.Context, allocs []Allocation) error
	}

	// Store runs ledger transactions & serves committed reads.
	Store interface {
		// RunInTx commits when fn returns nil & rolls back otherwise.
		RunInTx(ctx context.Context, fn func(tx Tx) error) error

		GetStudentFee(ctx context.Context, id string) (StudentFee, error)
		QueryMonthlyDues(ctx context.Context, studentFeeID string) ([]MonthlyDue, error)
		QueryPayments(ctx context.Context, studentFeeID string) ([]Payment, error)
		GetPaymentByReceipt(ctx context.Context, receiptNumber string) (Payment, error)
		QueryAllocations(ctx context.Context, paymentID string) ([]Allocation, error)
	}

	// Roster resolves class membership from the student directory.
	Roster interface {
		ClassStudentIDs(ctx context.Context, classID, academicYear string) ([]string, error)
	}

	// Catalog reads fee structures; GetFeeStructure must set FeeStructure.FeeType.
	Catalog interface {
		GetFeeStructure(ctx context.Context, id string) (fee.FeeStructure, error)
	}
)
