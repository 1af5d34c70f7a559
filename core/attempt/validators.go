package attempt

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/jitu/core"
)

var (
	maxBatchSize = 500

	batchSizeTag  = "batchsize"
	batchSizeText = "too many answers in one batch"
)

// InitValidators registers the attempt validators & translations.
// period.InitValidators must run first: answers reuse its `choicekey` tag.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(batchSizeTag, batchSizeValidation)
	core.RegisterCustomTranslation(validate, translator, batchSizeTag, batchSizeText)
}

func batchSizeValidation(fl validator.FieldLevel) bool {
	return fl.Field().Len() <= maxBatchSize
}
