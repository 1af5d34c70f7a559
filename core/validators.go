package core

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// cohort IDs & cycles end up in URLs, CSV file names and the (cohort, cycle) unique key
	identTag   = "ident"
	identText  = "{0} may only contain letters, digits, dashes and underscores"
	identRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// schedule boundaries are stored in UTC; a zero time is never a valid boundary
	setTimeTag  = "settime"
	setTimeText = "{0} must be a valid time"

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "{0} is a required field"
)

// InitValidators registers the JSON field names, the default english translations & the shared tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(jsonFieldName)

	_ = validate.RegisterValidation(identTag, identValidation)
	RegisterCustomTranslation(validate, translator, identTag, identText)

	_ = validate.RegisterValidation(setTimeTag, setTimeValidation, true)
	RegisterCustomTranslation(validate, translator, setTimeTag, setTimeText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// jsonFieldName names fields after their JSON key in validation errors.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// RegisterCustomTranslation registers `text` for `tag`; "{0}" is replaced by the field name.
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

func identValidation(fl validator.FieldLevel) bool {
	return identRegex.MatchString(fl.Field().String())
}

// setTimeValidation runs on nil pointers too (unset boundaries are valid).
func setTimeValidation(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case time.Time:
		return !v.IsZero()
	case *time.Time:
		return v == nil || !v.IsZero()
	}
	return false
}
