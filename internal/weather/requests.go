package weather

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CreateLocationRequest starts tracking a city.
type CreateLocationRequest struct {
	City       string `json:"city" validate:"required,max=128"`
	Country    string `json:"country" validate:"max=64"`
	IsFavorite bool   `json:"isFavorite"`
}

// UpdateLocationRequest changes a tracked location. Nil fields are left as they are.
type UpdateLocationRequest struct {
	City       *string `json:"city" validate:"omitempty,max=128"`
	Country    *string `json:"country" validate:"omitempty,max=64"`
	IsFavorite *bool   `json:"isFavorite"`
}

// UpdatePreferencesRequest replaces the default preferences.
type UpdatePreferencesRequest struct {
	Units                  string `json:"units" validate:"required"`
	RefreshIntervalMinutes int    `json:"refreshIntervalMinutes" validate:"min=5,max=1440"`
}

// validateStruct runs struct validation and reports failures as ErrValidation.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describeFieldError(fe))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "max":
		if fe.Field() == "RefreshIntervalMinutes" {
			return fmt.Sprintf("RefreshIntervalMinutes must be between %d and %d", MinRefreshIntervalMinutes, MaxRefreshIntervalMinutes)
		}
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func normalizeRequired(value, field string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	return v, nil
}
