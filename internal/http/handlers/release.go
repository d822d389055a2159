package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/http/response"
	"github.com/yungbote/panelapp-backend/internal/services"
)

// Largest accepted release plan upload.
const maxPlanBytes = 8 << 20

type ReleaseHandler struct {
	releases services.ReleaseService
	deploy   services.DeploymentService
}

func NewReleaseHandler(releases services.ReleaseService, deploy services.DeploymentService) *ReleaseHandler {
	return &ReleaseHandler{releases: releases, deploy: deploy}
}

// GET /api/releases?deployment=pending&search=&order=-created
func (h *ReleaseHandler) ListReleases(c *gin.Context) {
	filter := repos.ReleaseFilter{
		Deployment: queryList(c, "deployment"),
		Search:     strings.TrimSpace(c.Query("search")),
		OrderBy:    strings.TrimSpace(c.Query("order")),
	}
	rows, err := h.releases.List(requestDBC(c), filter)
	if err != nil {
		response.RespondServiceError(c, "list_releases_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"releases": rows})
}

// POST /api/releases
func (h *ReleaseHandler) CreateRelease(c *gin.Context) {
	var in services.CreateReleaseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rel, err := h.releases.Create(requestDBC(c), in)
	if err != nil {
		response.RespondServiceError(c, "create_release_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"release": rel})
}

// GET /api/releases/:id
func (h *ReleaseHandler) GetRelease(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	rel, err := h.releases.Get(requestDBC(c), releaseID)
	if err != nil {
		response.RespondServiceError(c, "get_release_failed", err)
		return
	}
	status, err := h.deploy.Status(requestDBC(c), releaseID)
	if err != nil {
		response.RespondServiceError(c, "get_release_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"release": rel, "deployment": status})
}

// PATCH /api/releases/:id
func (h *ReleaseHandler) UpdateRelease(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	var in services.UpdateReleaseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rel, err := h.releases.Update(requestDBC(c), releaseID, in)
	if err != nil {
		response.RespondServiceError(c, "update_release_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"release": rel})
}

// GET /api/releases/:id/panels?search=&status=&type=&order=
func (h *ReleaseHandler) ListReleasePanels(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	filter := repos.ReleasePanelFilter{
		Search:   strings.TrimSpace(c.Query("search")),
		Statuses: queryList(c, "status"),
		Types:    queryList(c, "type"),
		OrderBy:  strings.TrimSpace(c.Query("order")),
	}
	rows, err := h.releases.ListReleasePanels(requestDBC(c), releaseID, filter)
	if err != nil {
		response.RespondServiceError(c, "list_release_panels_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"panels": rows})
}

type setReleasePanelRequest struct {
	Promote bool `json:"promote"`
}

// PUT /api/releases/:id/panels/:panel_id
func (h *ReleaseHandler) SetReleasePanel(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	panelID, err := uintParam(c, "panel_id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	var req setReleasePanelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	row, err := h.releases.SetReleasePanel(requestDBC(c), releaseID, panelID, req.Promote)
	if err != nil {
		response.RespondServiceError(c, "set_release_panel_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"release_panel": row})
}

// DELETE /api/releases/:id/panels/:panel_id
func (h *ReleaseHandler) RemoveReleasePanel(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	panelID, err := uintParam(c, "panel_id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	if err := h.releases.RemoveReleasePanel(requestDBC(c), releaseID, panelID); err != nil {
		response.RespondServiceError(c, "remove_release_panel_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// planBody returns the uploaded plan: the multipart "file" field, or the
// raw request body for text/csv uploads.
func planBody(c *gin.Context) (io.Reader, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing file: %w", err)
		}
		if fh.Size > maxPlanBytes {
			return nil, fmt.Errorf("file too large (%d bytes)", fh.Size)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(raw), nil
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPlanBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxPlanBytes {
		return nil, errors.New("file too large")
	}
	if len(raw) == 0 {
		return nil, errors.New("empty upload")
	}
	return bytes.NewReader(raw), nil
}

// POST /api/releases/:id/import
func (h *ReleaseHandler) ImportPlan(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	body, err := planBody(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	n, err := h.releases.ImportPlan(requestDBC(c), releaseID, body)
	if err != nil {
		response.RespondServiceError(c, "import_plan_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"imported": n})
}

// GET /api/releases/:id/export
func (h *ReleaseHandler) ExportPlan(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	var buf bytes.Buffer
	filename, err := h.releases.ExportPlan(requestDBC(c), releaseID, &buf)
	if err != nil {
		response.RespondServiceError(c, "export_plan_failed", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// GET /api/releases/:id/simulate
func (h *ReleaseHandler) Simulate(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	outcomes, err := h.releases.Simulate(requestDBC(c), releaseID)
	if err != nil {
		response.RespondServiceError(c, "simulate_failed", err)
		return
	}
	type item struct {
		PanelID   uint   `json:"panel_id"`
		Name      string `json:"name"`
		Before    string `json:"version_before"`
		After     string `json:"version_after"`
		SignedOff string `json:"signed_off"`
		Comment   string `json:"comment,omitempty"`
	}
	out := make([]item, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, item{
			PanelID:   o.Before.PanelID,
			Name:      o.Before.Name,
			Before:    o.Before.Version.String(),
			After:     o.After.Version.String(),
			SignedOff: o.SignedOff.String(),
			Comment:   o.Comment,
		})
	}
	response.RespondOK(c, gin.H{"outcomes": out})
}

// POST /api/releases/:id/deploy
func (h *ReleaseHandler) RequestDeployment(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	job, err := h.deploy.RequestDeployment(requestDBC(c), releaseID, "")
	if err != nil {
		response.RespondServiceError(c, "request_deployment_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// GET /api/releases/:id/deployment
func (h *ReleaseHandler) DeploymentStatus(c *gin.Context) {
	releaseID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_release_id", err)
		return
	}
	status, err := h.deploy.Status(requestDBC(c), releaseID)
	if err != nil {
		response.RespondServiceError(c, "deployment_status_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deployment": status})
}
