package fee

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bursar/core"
)

var (
	feeCodeTag   = "feecode"
	feeCodeText  = "code may only contain uppercase letters, digits, dashes and underscores"
	feeCodeRegex = regexp.MustCompile(`^[A-Z0-9_-]+$`)
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(feeCodeTag, feeCodeValidation)
	core.RegisterCustomTranslation(validate, translator, feeCodeTag, feeCodeText)
}

func feeCodeValidation(fl validator.FieldLevel) bool {
	return feeCodeRegex.MatchString(fl.Field().String())
}
