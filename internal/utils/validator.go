// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	couponCodePattern      = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
	purchasableTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,49}$`)
)

func init() {
	validate = validator.New()
	validate.RegisterValidation("coupon_code", validateCouponCode)
	validate.RegisterValidation("purchasable_type", validatePurchasableType)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateCouponCode(fl validator.FieldLevel) bool {
	return couponCodePattern.MatchString(strings.TrimSpace(fl.Field().String()))
}

// Empty is allowed: legacy products are addressed by ID alone.
func validatePurchasableType(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == "" || purchasableTypePattern.MatchString(v)
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must have at least " + e.Param() + " entries"
	case "max":
		return e.Field() + " must be at most " + e.Param() + " characters"
	case "uuid":
		return e.Field() + " must be a UUID"
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "coupon_code":
		return "Coupon codes contain only letters, numbers, dashes and underscores"
	case "purchasable_type":
		return "Purchasable type must be lowercase letters, numbers and underscores"
	default:
		return e.Field() + " is invalid"
	}
}
