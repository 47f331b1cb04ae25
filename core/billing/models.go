package billing

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/fee"
)

// Statuses
const (
	StatusPending = "PENDING"
	StatusPartial = "PARTIAL"
	StatusPaid    = "PAID"
	StatusOverdue = "OVERDUE" // computed when reporting, never stored by the engine
)

// Payment methods
const (
	MethodCash         = "CASH"
	MethodBankTransfer = "BANK_TRANSFER"
	MethodCheque       = "CHEQUE"
	MethodCard         = "CARD"
	MethodMobileMoney  = "MOBILE_MONEY"
	MethodOnline       = "ONLINE"
)

const PaymentCompleted = "COMPLETED"

var (
	Statuses       = []string{StatusPending, StatusPartial, StatusPaid, StatusOverdue}
	PaymentMethods = []string{MethodCash, MethodBankTransfer, MethodCheque, MethodCard, MethodMobileMoney, MethodOnline}
)

// StudentFee is the ledger of one student for one fee structure in one academic year.
// TotalAmount == PaidAmount + DiscountAmount + DueAmount at all times.
type StudentFee struct {
	ID              string          `json:"id"`
	StudentID       string          `json:"student_id"`
	FeeStructureID  string          `json:"fee_structure_id"`
	AcademicYear    string          `json:"academic_year"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DueAmount       decimal.Decimal `json:"due_amount"`
	Status          string          `json:"status"`
	DueDate         core.Date       `json:"due_date"`
	LastPaymentDate *time.Time      `json:"last_payment_date"`
	CreatedAt       time.Time       `json:"created_at"` // UTC
	UpdatedAt       time.Time       `json:"updated_at"` // UTC
}

// Balanced reports whether the ledger invariant holds.
func (sf StudentFee) Balanced() bool {
	return sf.TotalAmount.Equal(sf.PaidAmount.Add(sf.DiscountAmount).Add(sf.DueAmount))
}

// EffectiveStatus classifies past-due unpaid ledgers as OVERDUE.
func (sf StudentFee) EffectiveStatus(today core.Date) string {
	if sf.DueAmount.IsPositive() && !sf.DueDate.IsZero() && sf.DueDate.Before(today) {
		return StatusOverdue
	}
	return sf.Status
}

func (sf *StudentFee) applyPayment(amount, discount decimal.Decimal, at time.Time) {
	sf.PaidAmount = sf.PaidAmount.Add(amount)
	sf.DiscountAmount = sf.DiscountAmount.Add(discount)
	sf.DueAmount = sf.TotalAmount.Sub(sf.PaidAmount).Sub(sf.DiscountAmount)
	sf.Status = DeriveStatus(sf.PaidAmount, sf.DueAmount)
	sf.LastPaymentDate = &at
	sf.UpdatedAt = at
}

// MonthlyDue is one installment of a recurring monthly StudentFee.
type MonthlyDue struct {
	ID           string          `json:"id"`
	StudentFeeID string          `json:"student_fee_id"`
	Month        int             `json:"month"`
	Year         int             `json:"year"`
	Amount       decimal.Decimal `json:"amount"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	Status       string          `json:"status"`
	DueDate      core.Date       `json:"due_date"`
	PaidDate     *time.Time      `json:"paid_date"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
	UpdatedAt    time.Time       `json:"updated_at"` // UTC
}

func (d MonthlyDue) Outstanding() decimal.Decimal {
	return d.Amount.Sub(d.PaidAmount)
}

func (d MonthlyDue) EffectiveStatus(today core.Date) string {
	if d.Status != StatusPaid && d.DueDate.Before(today) {
		return StatusOverdue
	}
	return d.Status
}

// Period returns e.g. "January 2025".
func (d MonthlyDue) Period() string {
	return fmt.Sprintf("%s %d", time.Month(d.Month), d.Year)
}

// Payment is an immutable record of money received against a StudentFee.
type Payment struct {
	ID             string          `json:"id"`
	ReceiptNumber  string          `json:"receipt_number"`
	StudentFeeID   string          `json:"student_fee_id"`
	StudentID      string          `json:"student_id"`
	Amount         decimal.Decimal `json:"amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DiscountReason string          `json:"discount_reason"`
	PaymentMethod  string          `json:"payment_method"`
	TransactionID  string          `json:"transaction_id"`
	Remarks        string          `json:"remarks"`
	Status         string          `json:"status"`
	CollectedBy    string          `json:"collected_by"`
	PaidAt         time.Time       `json:"paid_at"`    // UTC
	CreatedAt      time.Time       `json:"created_at"` // UTC
}

// Allocation records how much of a payment went to one installment.
type Allocation struct {
	ID           string          `json:"id"`
	PaymentID    string          `json:"payment_id"`
	MonthlyDueID string          `json:"monthly_due_id"`
	Month        int             `json:"month"`
	Year         int             `json:"year"`
	Amount       decimal.Decimal `json:"amount"`
	PaidBefore   decimal.Decimal `json:"paid_before"`
	PaidAfter    decimal.Decimal `json:"paid_after"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
}

// Receipt is the outcome of RecordPayment.
type Receipt struct {
	Payment     Payment      `json:"payment"`
	StudentFee  StudentFee   `json:"student_fee"`
	Allocations []Allocation `json:"allocations"`
}

// PaymentDetail is a payment with the installments it paid.
type PaymentDetail struct {
	Payment
	Allocations []Allocation `json:"allocations"`
}

// Statement is a StudentFee with its installments & payment history.
type Statement struct {
	StudentFee   StudentFee        `json:"student_fee"`
	FeeStructure *fee.FeeStructure `json:"fee_structure,omitempty"`
	Installments []MonthlyDue      `json:"installments"`
	Payments     []Payment         `json:"payments"`
}

// Assignment outcomes
const (
	OutcomeAssigned = "ASSIGNED"
	OutcomeSkipped  = "SKIPPED"
	OutcomeFailed   = "FAILED"
)

// StudentResult is the outcome of assigning a fee structure to one student.
type StudentResult struct {
	StudentID    string `json:"student_id"`
	Outcome      string `json:"outcome"`
	StudentFeeID string `json:"student_fee_id,omitempty"`
	Installments int    `json:"installments,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AssignResult holds per-student outcomes; counts are derived from them.
type AssignResult struct {
	Assigned int             `json:"assigned"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Results  []StudentResult `json:"results"`
}

func newAssignResult(results []StudentResult) AssignResult {
	res := AssignResult{Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeAssigned:
			res.Assigned++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeFailed:
			res.Failed++
		}
	}
	return res
}

// Assignment describes what to assign; OverrideAmount replaces the structure amount when set.
type Assignment struct {
	FeeStructureID string
	AcademicYear   string
	DueDate        core.Date
	OverrideAmount decimal.NullDecimal
}

// AssignFees is the payload of a batch assignment: either StudentIDs or ClassID.
type AssignFees struct {
	StudentIDs     []string            `json:"student_ids" validate:"omitempty,dive,required,max=64"`
	ClassID        string              `json:"class_id" validate:"omitempty,max=64"`
	FeeStructureID string              `json:"fee_structure_id" validate:"required"`
	AcademicYear   string              `json:"academic_year" validate:"omitempty,acadyear"`
	DueDate        core.Date           `json:"due_date"`
	OverrideAmount decimal.NullDecimal `json:"override_amount" validate:"omitempty,gte=0,money"`
}

func (af *AssignFees) Validate(validate *validator.Validate) error {
	for i, id := range af.StudentIDs {
		af.StudentIDs[i] = core.CleanString(id)
	}
	af.ClassID = core.CleanString(af.ClassID)
	af.FeeStructureID = core.CleanString(af.FeeStructureID)
	af.AcademicYear = core.CleanString(af.AcademicYear)
	return validate.Struct(af)
}

func (af AssignFees) Assignment() Assignment {
	return Assignment{
		FeeStructureID: af.FeeStructureID,
		AcademicYear:   af.AcademicYear,
		DueDate:        af.DueDate,
		OverrideAmount: af.OverrideAmount,
	}
}

// NewPayment contains information needed to record a payment.
type NewPayment struct {
	StudentFeeID   string          `json:"student_fee_id" validate:"required"`
	StudentID      string          `json:"student_id" validate:"required,notblank,max=64"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0,money"`
	DiscountAmount decimal.Decimal `json:"discount_amount" validate:"gte=0,money"`
	DiscountReason string          `json:"discount_reason" validate:"max=255"`
	PaymentMethod  string          `json:"payment_method" validate:"required,oneof=CASH BANK_TRANSFER CHEQUE CARD MOBILE_MONEY ONLINE"`
	TransactionID  string          `json:"transaction_id" validate:"max=120"`
	Remarks        string          `json:"remarks"`

	// optional receipt email
	ReceiptEmail string `json:"receipt_email" validate:"omitempty,email"`
	ReceiptName  string `json:"receipt_name"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.clean()
	return validate.Struct(np)
}

func (np *NewPayment) clean() {
	np.StudentFeeID = core.CleanString(np.StudentFeeID)
	np.StudentID = core.CleanString(np.StudentID)
	np.DiscountReason = core.CleanString(np.DiscountReason)
	np.PaymentMethod = core.CleanCode(np.PaymentMethod)
	np.TransactionID = core.CleanString(np.TransactionID)
	np.Remarks = core.CleanString(np.Remarks)
	np.ReceiptEmail = core.CleanString(np.ReceiptEmail, true /* lower */)
	np.ReceiptName = core.CleanString(np.ReceiptName)
}

// check enforces the engine preconditions, whatever the caller validated.
func (np NewPayment) check() error {
	var flds []core.FieldError
	if !np.Amount.IsPositive() {
		flds = append(flds, core.FieldError{Field: "amount", Error: "amount must be greater than 0"})
	} else if !core.HasCents(np.Amount) {
		flds = append(flds, core.FieldError{Field: "amount", Error: "amount cannot have more than 2 decimal places"})
	}
	if np.DiscountAmount.IsNegative() {
		flds = append(flds, core.FieldError{Field: "discount_amount", Error: "discount cannot be negative"})
	} else if !core.HasCents(np.DiscountAmount) {
		flds = append(flds, core.FieldError{Field: "discount_amount", Error: "discount cannot have more than 2 decimal places"})
	}
	if !isPaymentMethod(np.PaymentMethod) {
		flds = append(flds, core.FieldError{Field: "payment_method", Error: "invalid payment method"})
	}
	if np.StudentFeeID == "" {
		flds = append(flds, core.FieldError{Field: "student_fee_id", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

func isPaymentMethod(m string) bool {
	for _, pm := range PaymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}
