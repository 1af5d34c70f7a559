package period

import (
	"regexp"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/jitu/core"
)

var (
	policyTag  = "policy"
	policyText = "must be one of count_separately or count_as_wrong"

	choiceKeyTag   = "choicekey"
	choiceKeyText  = "choice keys are 1 to 8 letters or digits"
	choiceKeyRegex = regexp.MustCompile(`^[A-Za-z0-9]{1,8}$`)

	endsBeforeStartTag  = "ends_before_start"
	endsBeforeStartText = "must not be before starts_at"

	reviewBeforeEndTag  = "review_before_end"
	reviewBeforeEndText = "must not be before ends_at"

	reviewWithoutEndTag  = "review_without_end"
	reviewWithoutEndText = "ends_at is required with review_ends_at"

	correctKeyTag  = "correct_key"
	correctKeyText = "must be the key of one of the choices"

	duplicateKeysTag  = "duplicate_keys"
	duplicateKeysText = "choice keys must be unique"
)

// InitValidators registers the period validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(policyTag, policyValidation)
	core.RegisterCustomTranslation(validate, translator, policyTag, policyText)

	_ = validate.RegisterValidation(choiceKeyTag, choiceKeyValidation)
	core.RegisterCustomTranslation(validate, translator, choiceKeyTag, choiceKeyText)

	validate.RegisterStructValidation(periodStructValidation, NewPeriod{}, UpdateSchedule{})
	core.RegisterCustomTranslation(validate, translator, endsBeforeStartTag, endsBeforeStartText)
	core.RegisterCustomTranslation(validate, translator, reviewBeforeEndTag, reviewBeforeEndText)
	core.RegisterCustomTranslation(validate, translator, reviewWithoutEndTag, reviewWithoutEndText)

	validate.RegisterStructValidation(questionStructValidation, NewQuestion{})
	core.RegisterCustomTranslation(validate, translator, correctKeyTag, correctKeyText)
	core.RegisterCustomTranslation(validate, translator, duplicateKeysTag, duplicateKeysText)
}

// Custom Validators

func policyValidation(fl validator.FieldLevel) bool {
	return UnansweredPolicy(fl.Field().String()).IsValid()
}

func choiceKeyValidation(fl validator.FieldLevel) bool {
	return choiceKeyRegex.MatchString(fl.Field().String())
}

// periodStructValidation checks the boundaries order on NewPeriod and UpdateSchedule.
// start == end is allowed: the period then has an empty active window.
func periodStructValidation(sl validator.StructLevel) {
	switch p := sl.Current().Interface().(type) {
	case NewPeriod:
		validateSchedule(p.StartsAt, p.EndsAt, p.ReviewEndsAt, sl)
	case UpdateSchedule:
		validateSchedule(p.StartsAt, p.EndsAt, p.ReviewEndsAt, sl)
	}
}

func validateSchedule(start, end, reviewEnd *time.Time, sl validator.StructLevel) {
	if start != nil && end != nil && end.Before(*start) {
		sl.ReportError(end, "ends_at", "EndsAt", endsBeforeStartTag, "")
	}
	if reviewEnd != nil {
		if end == nil {
			sl.ReportError(reviewEnd, "review_ends_at", "ReviewEndsAt", reviewWithoutEndTag, "")
		} else if reviewEnd.Before(*end) {
			sl.ReportError(reviewEnd, "review_ends_at", "ReviewEndsAt", reviewBeforeEndTag, "")
		}
	}
}

// questionStructValidation checks that choice keys are unique and that exactly one of them is correct.
func questionStructValidation(sl validator.StructLevel) {
	nq, ok := sl.Current().Interface().(NewQuestion)
	if !ok {
		return
	}

	seen := make(map[string]bool, len(nq.Choices))
	for _, c := range nq.Choices {
		if seen[c.Key] {
			sl.ReportError(nq.Choices, "choices", "Choices", duplicateKeysTag, "")
			return
		}
		seen[c.Key] = true
	}
	if nq.CorrectKey != "" && !seen[nq.CorrectKey] {
		sl.ReportError(nq.CorrectKey, "correct_key", "CorrectKey", correctKeyTag, "")
	}
}
