package research

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ayush/factcheck-agent/internal/models"
)

// NewValidator returns a validator with the research-specific rules
// registered: notblank, category, factstatus and stance.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return models.Category(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("factstatus", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseStatus(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("stance", func(fl validator.FieldLevel) bool {
		switch models.Stance(fl.Field().String()) {
		case models.StanceSupporting, models.StanceOpposing, models.StanceNeutral:
			return true
		}
		return false
	})
	return v
}

// NormalizeRequest trims free text and lowercases codes in place.
func NormalizeRequest(req *models.ResearchRequest) {
	req.Statement = strings.TrimSpace(req.Statement)
	req.Source = strings.TrimSpace(req.Source)
	req.Context = strings.TrimSpace(req.Context)
	req.StatementDate = strings.TrimSpace(req.StatementDate)
	req.Country = strings.ToLower(strings.TrimSpace(req.Country))
	req.Category = models.Category(strings.ToLower(strings.TrimSpace(string(req.Category))))
}

// ValidateRequest wraps validation failures in ErrValidation with a
// message naming the offending fields.
func ValidateRequest(v *validator.Validate, req *models.ResearchRequest) error {
	return validationError(v.Struct(req))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := jsonFieldNames[fe.Field()]
	if field == "" {
		field = strings.ToLower(fe.Field())
	}
	switch fe.Tag() {
	case "notblank", "required":
		return field + " is required"
	case "max":
		if fe.Kind() == reflect.Int {
			return fmt.Sprintf("%s must be at most %s", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "datetime":
		return field + " must be a YYYY-MM-DD date"
	case "len", "alpha":
		return field + " must be a 2-letter country code"
	case "category":
		return field + " is not a known category"
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// NormalizeProfileUpdate trims the edit and derives the normalized name.
func NormalizeProfileUpdate(upd *models.ProfileUpdate) {
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(upd.Name)
	trim(upd.Party)
	trim(upd.Position)
	if upd.Country != nil {
		c := strings.ToLower(strings.TrimSpace(*upd.Country))
		upd.Country = &c
	}
	if upd.Type != nil {
		t := models.ProfileType(strings.ToLower(strings.TrimSpace(string(*upd.Type))))
		upd.Type = &t
	}
	if upd.Name != nil {
		n := NormalizeProfileName(*upd.Name)
		upd.NameNormalized = &n
	}
}

// ValidateProfileUpdate rejects empty edits and out-of-range fields with
// ErrValidation.
func ValidateProfileUpdate(v *validator.Validate, upd *models.ProfileUpdate) error {
	if upd.Empty() {
		return fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	return validationError(v.Struct(upd))
}

var jsonFieldNames = map[string]string{
	"Statement":     "statement",
	"Source":        "source",
	"Context":       "context",
	"Datetime":      "datetime",
	"StatementDate": "statement_date",
	"Country":       "country",
	"Category":      "category",

	"Name":             "name",
	"Type":             "type",
	"Party":            "party",
	"Position":         "position",
	"CredibilityScore": "credibility_score",
}
