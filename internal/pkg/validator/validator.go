package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validations
	registerCustomValidations()
}

func registerCustomValidations() {
	// Credit type validation
	validate.RegisterValidation("credit_type", func(fl validator.FieldLevel) bool {
		creditType := fl.Field().String()
		validTypes := []string{"promotional", "bonus", "referral", "subscription", "compensation"}
		for _, t := range validTypes {
			if creditType == t {
				return true
			}
		}
		return false
	})

	// Expiration policy validation
	validate.RegisterValidation("expiration_policy", func(fl validator.FieldLevel) bool {
		policy := fl.Field().String()
		validPolicies := []string{"fixed_days", "end_of_month", "end_of_year", "subscription_period", "never", ""}
		for _, p := range validPolicies {
			if policy == p {
				return true
			}
		}
		return false
	})

	// Campaign kind validation
	validate.RegisterValidation("campaign_kind", func(fl validator.FieldLevel) bool {
		kind := fl.Field().String()
		validKinds := []string{"standard", "signup", "referral", ""}
		for _, k := range validKinds {
			if kind == k {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "credit_type":
			errors[field] = "Invalid credit type. Must be: promotional, bonus, referral, subscription, or compensation"
		case "expiration_policy":
			errors[field] = "Invalid expiration policy. Must be: fixed_days, end_of_month, end_of_year, subscription_period, or never"
		case "campaign_kind":
			errors[field] = "Invalid campaign kind. Must be: standard, signup, or referral"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
