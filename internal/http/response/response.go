package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/modules/releaseplan"
	"github.com/yungbote/panelapp-backend/internal/platform/apierr"
	"github.com/yungbote/panelapp-backend/internal/services"
)

type APIError struct {
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// ErrorCodeKey holds the envelope code of an error response on the gin
// context so middleware can count it after the handler returns.
const ErrorCodeKey = "error_code"

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	writeError(c, status, APIError{
		Message: msg,
		Code:    code,
	})
}

func writeError(c *gin.Context, status int, e APIError) {
	c.Set(ErrorCodeKey, e.Code)
	c.JSON(status, ErrorEnvelope{Error: e})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// RespondServiceError maps a service error onto a status and code.
// Unrecognised errors fall back to 500 with fallbackCode.
func RespondServiceError(c *gin.Context, fallbackCode string, err error) {
	if ae, ok := apierr.As(err); ok {
		writeError(c, ae.Status, APIError{Message: ae.Error(), Code: ae.Code, Details: ae.Details})
		return
	}

	var importErr *releaseplan.ImportError
	if errors.As(err, &importErr) {
		writeError(c, http.StatusBadRequest, APIError{
			Message: "invalid release plan",
			Code:    "invalid_release_plan",
			Details: importErr.Messages(),
		})
		return
	}
	var tmplErr *releaseplan.TemplateRenderError
	if errors.As(err, &tmplErr) {
		RespondError(c, http.StatusBadRequest, "invalid_promotion_comment", err)
		return
	}
	var missing *panels.GenesDoNotExistError
	if errors.As(err, &missing) {
		writeError(c, http.StatusNotFound, APIError{
			Message: err.Error(),
			Code:    "entity_not_found",
			Details: missing.Names,
		})
		return
	}

	status, code := classify(err)
	if code == "" {
		code = fallbackCode
	}
	RespondError(c, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, panels.ErrPanelNotFound):
		return http.StatusNotFound, "panel_not_found"
	case errors.Is(err, panels.ErrVersionNotFound):
		return http.StatusNotFound, "version_not_found"
	case errors.Is(err, panels.ErrGeneDoesNotExist):
		return http.StatusNotFound, "entity_not_found"
	case errors.Is(err, releases.ErrReleaseNotFound):
		return http.StatusNotFound, "release_not_found"
	case errors.Is(err, releases.ErrReleasePanelNotFound):
		return http.StatusNotFound, "release_panel_not_found"
	case errors.Is(err, services.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"

	case errors.Is(err, panels.ErrPanelExists):
		return http.StatusConflict, "panel_exists"
	case errors.Is(err, panels.ErrEntityExists):
		return http.StatusConflict, "entity_exists"
	case errors.Is(err, panels.ErrIsSuperPanel):
		return http.StatusConflict, "super_panel"
	case errors.Is(err, releases.ErrReleaseExists):
		return http.StatusConflict, "release_exists"
	case errors.Is(err, releases.ErrAlreadyDeployed):
		return http.StatusConflict, "already_deployed"
	case errors.Is(err, releases.ErrDeploymentInProgress):
		return http.StatusConflict, "deployment_in_progress"
	case errors.Is(err, releases.ErrReleaseLocked):
		return http.StatusConflict, "release_locked"

	case errors.Is(err, releases.ErrReleaseDeployed):
		return http.StatusBadRequest, "release_deployed"
	case errors.Is(err, panels.ErrUnknownPanelType):
		return http.StatusBadRequest, "unknown_panel_type"
	case errors.Is(err, panels.ErrInvalidChild):
		return http.StatusBadRequest, "invalid_child_panel"
	case errors.Is(err, panels.ErrInvalidEntity):
		return http.StatusBadRequest, "invalid_entity"
	}
	return http.StatusInternalServerError, ""
}
