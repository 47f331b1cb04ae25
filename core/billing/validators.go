package billing

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bursar/core"
)

var (
	studentsOrClassTag  = "students_or_class"
	studentsOrClassText = "provide either student_ids or class_id"

	overrideWithClassTag  = "override_with_class"
	overrideWithClassText = "override_amount cannot be used with class_id"

	discountReasonTag  = "discount_reason"
	discountReasonText = "a reason is required when a discount is given"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(assignFeesStructValidation, AssignFees{})
	core.RegisterCustomTranslation(validate, translator, studentsOrClassTag, studentsOrClassText)
	core.RegisterCustomTranslation(validate, translator, overrideWithClassTag, overrideWithClassText)

	validate.RegisterStructValidation(newPaymentStructValidation, NewPayment{})
	core.RegisterCustomTranslation(validate, translator, discountReasonTag, discountReasonText)
}

// assignFeesStructValidation checks that exactly one of StudentIDs or ClassID is given.
func assignFeesStructValidation(sl validator.StructLevel) {
	af := sl.Current().Interface().(AssignFees)
	hasStudents := len(af.StudentIDs) > 0
	hasClass := af.ClassID != ""
	if hasStudents == hasClass {
		sl.ReportError(af.StudentIDs, "student_ids", "StudentIDs", studentsOrClassTag, "")
		sl.ReportError(af.ClassID, "class_id", "ClassID", studentsOrClassTag, "")
		return
	}
	if hasClass && af.OverrideAmount.Valid {
		sl.ReportError(af.OverrideAmount, "override_amount", "OverrideAmount", overrideWithClassTag, "")
	}
}

func newPaymentStructValidation(sl validator.StructLevel) {
	np := sl.Current().Interface().(NewPayment)
	if np.DiscountAmount.IsPositive() && np.DiscountReason == "" {
		sl.ReportError(np.DiscountReason, "discount_reason", "DiscountReason", discountReasonTag, "")
	}
}
