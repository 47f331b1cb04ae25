package billing

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
)

// DeriveStatus computes a StudentFee status from its balances.
// A negative due (credit) is PAID.
func DeriveStatus(paid, due decimal.Decimal) string {
	switch {
	case !due.IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// sortDues orders installments oldest first.
func sortDues(dues []MonthlyDue) {
	sort.SliceStable(dues, func(i, j int) bool {
		if !dues[i].DueDate.Equal(dues[j].DueDate) {
			return dues[i].DueDate.Before(dues[j].DueDate)
		}
		if dues[i].Year != dues[j].Year {
			return dues[i].Year < dues[j].Year
		}
		return dues[i].Month < dues[j].Month
	})
}

// Allocate cascades amount over the outstanding installments, earliest due date first.
// It returns the touched installments, one Allocation per touched installment & the amount left over,
// which only the parent StudentFee absorbs. dues is not modified.
func Allocate(paymentID string, dues []MonthlyDue, amount decimal.Decimal, at time.Time) ([]MonthlyDue, []Allocation, decimal.Decimal) {
	ordered := make([]MonthlyDue, 0, len(dues))
	for _, d := range dues {
		if d.Status == StatusPaid {
			continue
		}
		ordered = append(ordered, d)
	}
	sortDues(ordered)

	var (
		updated   []MonthlyDue
		allocs    []Allocation
		remaining = amount
	)
	for _, due := range ordered {
		if !remaining.IsPositive() {
			break
		}
		outstanding := due.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}

		applied := decimal.Min(remaining, outstanding)
		before := due.PaidAmount
		due.PaidAmount = due.PaidAmount.Add(applied)
		if due.PaidAmount.GreaterThanOrEqual(due.Amount) {
			paidAt := at
			due.Status = StatusPaid
			due.PaidDate = &paidAt
		} else {
			due.Status = StatusPartial
		}
		due.UpdatedAt = at
		remaining = remaining.Sub(applied)

		updated = append(updated, due)
		allocs = append(allocs, Allocation{
			ID:           uuid.New().String(),
			PaymentID:    paymentID,
			MonthlyDueID: due.ID,
			Month:        due.Month,
			Year:         due.Year,
			Amount:       applied,
			PaidBefore:   before,
			PaidAfter:    due.PaidAmount,
			CreatedAt:    at,
		})
	}
	return updated, allocs, remaining
}

// Installment modes
const (
	InstallmentFlat  = "flat"  // every installment carries the full structure amount
	InstallmentSplit = "split" // the amount is divided across installments, remainder on the last one
)

func installmentAmounts(total decimal.Decimal, count int, mode string) []decimal.Decimal {
	amounts := make([]decimal.Decimal, count)
	if mode != InstallmentSplit || count == 0 {
		for i := range amounts {
			amounts[i] = total
		}
		return amounts
	}

	per := total.Div(decimal.NewFromInt(int64(count))).Truncate(2)
	for i := 0; i < count-1; i++ {
		amounts[i] = per
	}
	amounts[count-1] = total.Sub(per.Mul(decimal.NewFromInt(int64(count - 1))))
	return amounts
}

// buildSchedule creates the monthly installments of sf, starting with the month of start.
func buildSchedule(sf StudentFee, start time.Time, opts Options) []MonthlyDue {
	amounts := installmentAmounts(sf.TotalAmount, opts.InstallmentCount, opts.InstallmentMode)
	first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)

	dues := make([]MonthlyDue, 0, opts.InstallmentCount)
	for i := 0; i < opts.InstallmentCount; i++ {
		month := first.AddDate(0, i, 0)
		due := MonthlyDue{
			ID:           uuid.New().String(),
			StudentFeeID: sf.ID,
			Month:        int(month.Month()),
			Year:         month.Year(),
			Amount:       amounts[i],
			PaidAmount:   decimal.Zero,
			Status:       StatusPending,
			DueDate:      core.MonthDate(month.Year(), month.Month(), opts.MonthlyDueDay),
			CreatedAt:    sf.CreatedAt,
			UpdatedAt:    sf.CreatedAt,
		}
		// nothing is owed on a zero installment, so it is settled from the start
		if !due.Amount.IsPositive() {
			paidAt := sf.CreatedAt
			due.Status = StatusPaid
			due.PaidDate = &paidAt
		}
		dues = append(dues, due)
	}
	return dues
}
