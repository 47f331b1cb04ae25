package core

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"
)

var (
	// custom validation tags & texts
	notBlankTag  = "notblank"
	notBlankText = "this field cannot be blank"

	academicYearTag   = "acadyear"
	academicYearText  = "academic year must be of form YYYY-YY, e.g: 2024-25"
	academicYearRegex = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

	moneyTag  = "money"
	moneyText = "amount cannot have more than 2 decimal places"

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// NewTranslator returns the english translator used for validation messages.
func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimals are validated as floats (gt, gte, lte...)
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{})

	// register custom validators
	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, translator, notBlankTag, notBlankText)

	_ = validate.RegisterValidation(academicYearTag, academicYearValidation)
	RegisterCustomTranslation(validate, translator, academicYearTag, academicYearText)

	_ = validate.RegisterValidation(moneyTag, moneyValidation)
	RegisterCustomTranslation(validate, translator, moneyTag, moneyText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

func decimalValue(field reflect.Value) interface{} {
	switch d := field.Interface().(type) {
	case decimal.Decimal:
		f, _ := d.Float64()
		return f
	case decimal.NullDecimal:
		if !d.Valid {
			return nil
		}
		f, _ := d.Decimal.Float64()
		return f
	}
	return nil
}

// Custom Global Validators

// notBlankValidation rejects whitespace-only strings.
func notBlankValidation(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// academicYearValidation checks the YYYY-YY form and that the second year follows the first.
func academicYearValidation(fl validator.FieldLevel) bool {
	return ValidAcademicYear(fl.Field().String())
}

// moneyValidation checks decimals have at most 2 decimal places.
// The field has already been converted to float64 by decimalValue, so the check runs on the parent value.
func moneyValidation(fl validator.FieldLevel) bool {
	parent := fl.Parent()
	if parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return true
	}
	fld := parent.FieldByName(fl.StructFieldName())
	if !fld.IsValid() {
		return true
	}
	switch d := fld.Interface().(type) {
	case decimal.Decimal:
		return HasCents(d)
	case decimal.NullDecimal:
		return !d.Valid || HasCents(d.Decimal)
	}
	return true
}

// HasCents reports whether d has at most 2 decimal places.
func HasCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func ValidAcademicYear(s string) bool {
	m := academicYearRegex.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	return (start+1)%100 == end
}
