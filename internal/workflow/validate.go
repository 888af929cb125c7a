package workflow

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/go-playground/validator/v10"
)

// Schedule values accepted by the share step besides an RFC 3339 timestamp.
const (
	ScheduleNow     = "now"
	ScheduleOptimal = "optimal"
)

// shareInput is the validated subset of a share request.
type shareInput struct {
	MediaURL string `form:"mediaUrl" validate:"required,url"`
	Caption  string `form:"caption" validate:"required,max=2200"`
	Platform string `form:"platform" validate:"required,alphanum,lowercase"`
	Schedule string `form:"schedule" validate:"omitempty,schedule"`
}

// approveInput is the validated subset of an approve request.
type approveInput struct {
	RecordID string `form:"recordId" validate:"required,max=128"`
	Decision string `form:"decision" validate:"omitempty,oneof=approve approved reject rejected"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.EqualFold(s, ScheduleNow) || strings.EqualFold(s, ScheduleOptimal) {
			return true
		}
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	})
	return v
}

// check validates in and converts failures into a ValidationError whose
// details map each offending field to its failed rule.
func (w *Workflow) check(in any) error {
	err := w.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: %v", err)
	}

	fields := make(map[string]any, len(verrs))
	var missing []string
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}

	var e *apperr.Error
	if len(missing) > 0 {
		e = apperr.Validation("%s required", strings.Join(missing, ", "))
	} else {
		first := verrs[0]
		e = apperr.Validation("invalid %s (%s)", first.Field(), first.Tag())
	}
	e.Details = map[string]any{"fields": fields}
	return e
}
