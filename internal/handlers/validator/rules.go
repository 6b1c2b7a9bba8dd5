package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

// NewJobValidationRules returns the rules used by job requests. known reports
// whether a job type can be admitted.
func NewJobValidationRules(known func(string) bool) []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("job_type", jobTypeValidator(known)),
		},
		{
			Rule: registerFn("job_priority", priorityValidator),
		},
		{
			Rule: registerFn("not_blank", notBlankValidator),
		},
	}
}

func NewJobDescriptionValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("not_blank", notBlankValidator),
		},
	}
}
