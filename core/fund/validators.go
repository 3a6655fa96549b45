package fund

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/lcardenasp7/conta/core"
)

var (
	fundTypeTag   = "fundtype"
	fundTypeText  = "the fund type must be a lowercase word (letters, digits and dashes)"
	fundTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)

	categoryTag  = "category"
	categoryText = "invalid transaction category"

	alertLevelsText = "alert levels must be ascending"
)

// InitValidators registers the fund validators on v.
func InitValidators(v *core.Validator) {
	_ = v.Validate.RegisterValidation(fundTypeTag, fundTypeValidation)
	core.RegisterCustomTranslation(v.Validate, v.Translator, fundTypeTag, fundTypeText)

	_ = v.Validate.RegisterValidation(categoryTag, categoryValidation)
	core.RegisterCustomTranslation(v.Validate, v.Translator, categoryTag, categoryText)

	core.RegisterCustomTranslation(v.Validate, v.Translator, "ltfield", alertLevelsText, true)
}

// Custom Validators

// fundTypeValidation accepts any lowercase slug, the known Types included.
func fundTypeValidation(fl validator.FieldLevel) bool {
	return fundTypeRegex.MatchString(fl.Field().String())
}

// categoryValidation checks the category is one of Categories
func categoryValidation(fl validator.FieldLevel) bool {
	return Category(fl.Field().String()).IsValid()
}
