package utils

import (
	"errors"
	"fmt"
	"regexp"
	"safewalk/models"
	"strings"

	"github.com/go-playground/validator/v10"
)

var phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 ()\-.]{2,30}$`)

type ValidationService struct {
	validator *validator.Validate
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func NewValidationService() *ValidationService {
	v := validator.New()

	// Register custom validators
	v.RegisterValidation("phone", validatePhone)
	v.RegisterValidation("coordinate", validateCoordinate)
	v.RegisterValidation("setting_key", validateSettingKey)

	return &ValidationService{
		validator: v,
	}
}

func (vs *ValidationService) ValidateStruct(s interface{}) []ValidationError {
	var validationErrors []ValidationError

	err := vs.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []ValidationError{{Message: err.Error()}}
	}

	for _, fe := range fieldErrors {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: vs.getErrorMessage(fe),
		})
	}

	return validationErrors
}

// Validate returns a ServiceError carrying the field errors, or nil
func (vs *ValidationService) Validate(s interface{}) error {
	if errs := vs.ValidateStruct(s); len(errs) > 0 {
		return NewValidationError(errs)
	}
	return nil
}

func (vs *ValidationService) getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "phone":
		return "Invalid phone number format"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "coordinate":
		return "Invalid coordinate value"
	case "setting_key":
		return "Unknown setting"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// Custom validation functions
func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(strings.TrimSpace(fl.Field().String()))
}

func validateCoordinate(fl validator.FieldLevel) bool {
	coord := fl.Field().Float()
	fieldName := strings.ToLower(fl.FieldName())

	if strings.Contains(fieldName, "lat") {
		return coord >= -90 && coord <= 90
	}
	if strings.Contains(fieldName, "lon") || strings.Contains(fieldName, "lng") {
		return coord >= -180 && coord <= 180
	}

	return true
}

func validateSettingKey(fl validator.FieldLevel) bool {
	return models.SettingKey(fl.Field().String()).IsValid()
}
