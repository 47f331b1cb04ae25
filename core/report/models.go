package report

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

// DuesFilter selects StudentFee rows; all set fields are AND-ed.
// Status OVERDUE matches unpaid ledgers whose due date has passed; other statuses match the stored status.
type DuesFilter struct {
	StudentID    string `json:"student_id" query:"student_id" validate:"max=64"`
	ClassID      string `json:"class_id" query:"class_id" validate:"max=64"`
	FeeTypeID    string `json:"fee_type_id" query:"fee_type_id"`
	Status       string `json:"status" query:"status" validate:"omitempty,oneof=PENDING PARTIAL PAID OVERDUE"`
	AcademicYear string `json:"academic_year" query:"academic_year" validate:"required,acadyear"`
	core.Pagination
}

func (f *DuesFilter) Validate(validate *validator.Validate) error {
	f.Clean()
	return validate.Struct(f)
}

func (f *DuesFilter) Clean() {
	f.StudentID = core.CleanString(f.StudentID)
	f.ClassID = core.CleanString(f.ClassID)
	f.FeeTypeID = core.CleanString(f.FeeTypeID)
	f.Status = core.CleanCode(f.Status)
	f.AcademicYear = core.CleanString(f.AcademicYear)
	f.Pagination.Clean()
}

type DuesRow struct {
	billing.StudentFee
	ClassID         string `json:"class_id"`
	FeeTypeID       string `json:"fee_type_id"`
	FeeTypeCode     string `json:"fee_type_code"`
	FeeTypeName     string `json:"fee_type_name"`
	Frequency       string `json:"frequency"`
	EffectiveStatus string `json:"effective_status"`
}

// Summary aggregates the whole filtered set, not just the current page.
type Summary struct {
	Count          int             `json:"count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueAmount      decimal.Decimal `json:"due_amount"`
}

func (s *Summary) add(sf billing.StudentFee) {
	s.Count++
	s.TotalAmount = s.TotalAmount.Add(sf.TotalAmount)
	s.PaidAmount = s.PaidAmount.Add(sf.PaidAmount)
	s.DiscountAmount = s.DiscountAmount.Add(sf.DiscountAmount)
	s.DueAmount = s.DueAmount.Add(sf.DueAmount)
}

type DuesReport struct {
	Data     []DuesRow `json:"data"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int       `json:"total"`
	Summary  Summary   `json:"summary"`
}

// MonthlyFilter selects installments; all set fields are AND-ed.
type MonthlyFilter struct {
	StudentID string `json:"student_id" query:"student_id" validate:"max=64"`
	ClassID   string `json:"class_id" query:"class_id" validate:"max=64"`
	Year      int    `json:"year" query:"year" validate:"omitempty,gte=2000,lte=2999"`
	Status    string `json:"status" query:"status" validate:"omitempty,oneof=PENDING PARTIAL PAID OVERDUE"`
}

func (f *MonthlyFilter) Validate(validate *validator.Validate) error {
	f.Clean()
	return validate.Struct(f)
}

func (f *MonthlyFilter) Clean() {
	f.StudentID = core.CleanString(f.StudentID)
	f.ClassID = core.CleanString(f.ClassID)
	f.Status = core.CleanCode(f.Status)
}

type MonthlyRow struct {
	billing.MonthlyDue
	StudentID       string `json:"student_id"`
	FeeStructureID  string `json:"fee_structure_id"`
	ClassID         string `json:"class_id"`
	FeeTypeCode     string `json:"fee_type_code"`
	EffectiveStatus string `json:"effective_status"`
}

type MonthTotal struct {
	Year        int             `json:"year"`
	Month       int             `json:"month"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Count       int             `json:"count"`
	PaidCount   int             `json:"paid_count"`
}

type MonthlyReport struct {
	Data   []MonthlyRow `json:"data"`
	Months []MonthTotal `json:"months"`
}

// CollectionsFilter selects payments; DateFrom & DateTo are inclusive calendar dates (UTC).
type CollectionsFilter struct {
	StudentID     string    `json:"student_id" query:"student_id" validate:"max=64"`
	DateFrom      core.Date `json:"date_from" query:"date_from"`
	DateTo        core.Date `json:"date_to" query:"date_to"`
	PaymentMethod string    `json:"payment_method" query:"payment_method" validate:"omitempty,oneof=CASH BANK_TRANSFER CHEQUE CARD MOBILE_MONEY ONLINE"`
	core.Pagination
}

func (f *CollectionsFilter) Validate(validate *validator.Validate) error {
	f.Clean()
	if err := validate.Struct(f); err != nil {
		return err
	}
	if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateTo.Before(f.DateFrom) {
		return core.NewValidationError(nil, core.FieldError{Field: "date_to", Error: "date_to cannot be before date_from"})
	}
	return nil
}

func (f *CollectionsFilter) Clean() {
	f.StudentID = core.CleanString(f.StudentID)
	f.PaymentMethod = core.CleanCode(f.PaymentMethod)
	f.Pagination.Clean()
}

type CollectionsReport struct {
	Data          []billing.Payment `json:"data"`
	Page          int               `json:"page"`
	PageSize      int               `json:"page_size"`
	Total         int               `json:"total"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	TotalDiscount decimal.Decimal   `json:"total_discount"`
}
