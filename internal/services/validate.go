package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/platform/apierr"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("panelstatus", func(fl validator.FieldLevel) bool {
		return panels.PanelStatus(fl.Field().String()).Valid()
	})
}

// validateInput runs struct tag validation and maps failures to a 400 with
// one detail line per field.
func validateInput(code string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apierr.BadRequest(code, err)
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	return apierr.BadRequest(code, fmt.Errorf("invalid input: %s", strings.Join(details, "; "))).WithDetails(details)
}
