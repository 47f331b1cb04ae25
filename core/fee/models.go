package fee

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
)

// Categories
const (
	CategoryAcademic  = "ACADEMIC"
	CategoryFacility  = "FACILITY"
	CategoryTransport = "TRANSPORT"
	CategoryOther     = "OTHER"
)

// Frequencies
const (
	FrequencyOneTime = "ONE_TIME"
	FrequencyMonthly = "MONTHLY"
	FrequencyYearly  = "YEARLY"
)

var (
	Categories  = []string{CategoryAcademic, CategoryFacility, CategoryTransport, CategoryOther}
	Frequencies = []string{FrequencyOneTime, FrequencyMonthly, FrequencyYearly}
)

// FeeType is a named category of charge, e.g. "Tuition" or "Bus".
type FeeType struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Category    string    `json:"category"`
	IsRecurring bool      `json:"is_recurring"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// FeeStructure is the price of a FeeType for a class in an academic year.
type FeeStructure struct {
	ID           string          `json:"id"`
	ClassID      string          `json:"class_id"`
	FeeTypeID    string          `json:"fee_type_id"`
	AcademicYear string          `json:"academic_year"`
	Amount       decimal.Decimal `json:"amount"`
	Frequency    string          `json:"frequency"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
	UpdatedAt    time.Time       `json:"updated_at"` // UTC

	FeeType *FeeType `json:"fee_type,omitempty"`
}

// GeneratesSchedule reports whether assigning the structure creates monthly installments.
func (fs FeeStructure) GeneratesSchedule(ft FeeType) bool {
	return ft.IsRecurring && fs.Frequency == FrequencyMonthly
}

// pricingChanged reports whether any field other than the description differs.
func (fs FeeStructure) pricingChanged(other FeeStructure) bool {
	return fs.ClassID != other.ClassID ||
		fs.FeeTypeID != other.FeeTypeID ||
		fs.AcademicYear != other.AcademicYear ||
		fs.Frequency != other.Frequency ||
		!fs.Amount.Equal(other.Amount)
}

// NewFeeType contains information needed to create a new FeeType.
type NewFeeType struct {
	Name        string `json:"name" validate:"required,notblank,max=120"`
	Code        string `json:"code" validate:"required,max=40,feecode"`
	Category    string `json:"category" validate:"required,oneof=ACADEMIC FACILITY TRANSPORT OTHER"`
	IsRecurring bool   `json:"is_recurring"`
	Description string `json:"description"`
}

func (nt *NewFeeType) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Code = core.CleanCode(nt.Code)
	nt.Category = core.CleanCode(nt.Category)
	nt.Description = core.CleanString(nt.Description)
	return validate.Struct(nt)
}

// NewFeeStructure contains information needed to create a new FeeStructure.
type NewFeeStructure struct {
	ClassID      string          `json:"class_id" validate:"required,notblank,max=64"`
	FeeTypeID    string          `json:"fee_type_id" validate:"required"`
	AcademicYear string          `json:"academic_year" validate:"required,acadyear"`
	Amount       decimal.Decimal `json:"amount" validate:"gte=0,money"`
	Frequency    string          `json:"frequency" validate:"required,oneof=ONE_TIME MONTHLY YEARLY"`
	Description  string          `json:"description"`
}

func (ns *NewFeeStructure) Validate(validate *validator.Validate) error {
	ns.ClassID = core.CleanString(ns.ClassID)
	ns.FeeTypeID = core.CleanString(ns.FeeTypeID)
	ns.AcademicYear = core.CleanString(ns.AcademicYear)
	ns.Frequency = core.CleanCode(ns.Frequency)
	ns.Description = core.CleanString(ns.Description)
	return validate.Struct(ns)
}

// UpdateFeeStructure defines what information may be provided to modify an existing FeeStructure.
// Blank fields keep their current value.
type UpdateFeeStructure struct {
	ClassID      string              `json:"class_id" validate:"required,notblank,max=64"`
	FeeTypeID    string              `json:"fee_type_id" validate:"required"`
	AcademicYear string              `json:"academic_year" validate:"required,acadyear"`
	Amount       decimal.NullDecimal `json:"amount" validate:"omitempty,gte=0,money"`
	Frequency    string              `json:"frequency" validate:"required,oneof=ONE_TIME MONTHLY YEARLY"`
	Description  *string             `json:"description"`
}

func (uf *UpdateFeeStructure) Validate(validate *validator.Validate, orig FeeStructure) error {
	if v := core.CleanString(uf.ClassID); v != "" {
		uf.ClassID = v
	} else {
		uf.ClassID = orig.ClassID
	}
	if v := core.CleanString(uf.FeeTypeID); v != "" {
		uf.FeeTypeID = v
	} else {
		uf.FeeTypeID = orig.FeeTypeID
	}
	if v := core.CleanString(uf.AcademicYear); v != "" {
		uf.AcademicYear = v
	} else {
		uf.AcademicYear = orig.AcademicYear
	}
	if v := core.CleanCode(uf.Frequency); v != "" {
		uf.Frequency = v
	} else {
		uf.Frequency = orig.Frequency
	}
	if !uf.Amount.Valid {
		uf.Amount = decimal.NewNullDecimal(orig.Amount)
	}
	if uf.Description != nil {
		desc := core.CleanString(*uf.Description)
		uf.Description = &desc
	}
	return validate.Struct(uf)
}

// TypeFilter filters fee types; all set fields are AND-ed.
type TypeFilter struct {
	Category    string `query:"category"`
	IsRecurring *bool  `query:"is_recurring"`
	Search      string `query:"search"` // case-insensitive match on name or code
}

func (f *TypeFilter) Clean() {
	f.Category = core.CleanCode(f.Category)
	f.Search = core.CleanString(f.Search, true /* lower */)
}

// StructureFilter filters fee structures; all set fields are AND-ed.
type StructureFilter struct {
	ClassID      string `query:"class_id"`
	FeeTypeID    string `query:"fee_type_id"`
	AcademicYear string `query:"academic_year"`
	Frequency    string `query:"frequency"`
}

func (f *StructureFilter) Clean() {
	f.ClassID = core.CleanString(f.ClassID)
	f.FeeTypeID = core.CleanString(f.FeeTypeID)
	f.AcademicYear = core.CleanString(f.AcademicYear)
	f.Frequency = core.CleanCode(f.Frequency)
}
