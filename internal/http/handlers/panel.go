package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/http/response"
	"github.com/yungbote/panelapp-backend/internal/services"
)

type PanelHandler struct {
	snapshots services.SnapshotService
}

func NewPanelHandler(snapshots services.SnapshotService) *PanelHandler {
	return &PanelHandler{snapshots: snapshots}
}

// GET /api/panel-types
func (h *PanelHandler) ListPanelTypes(c *gin.Context) {
	rows, err := h.snapshots.ListPanelTypes(requestDBC(c))
	if err != nil {
		response.RespondServiceError(c, "list_panel_types_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"panel_types": rows})
}

// GET /api/panels?search=&status=&type=
func (h *PanelHandler) ListPanels(c *gin.Context) {
	filter := repos.PanelFilter{
		Search: strings.TrimSpace(c.Query("search")),
		Types:  queryList(c, "type"),
	}
	for _, s := range queryList(c, "status") {
		filter.Statuses = append(filter.Statuses, panels.PanelStatus(strings.ToLower(s)))
	}
	rows, err := h.snapshots.ListPanels(requestDBC(c), filter)
	if err != nil {
		response.RespondServiceError(c, "list_panels_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"panels": rows})
}

// POST /api/panels
func (h *PanelHandler) CreatePanel(c *gin.Context) {
	var in services.CreatePanelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	snap, err := h.snapshots.CreatePanel(requestDBC(c), in)
	if err != nil {
		response.RespondServiceError(c, "create_panel_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"snapshot": snap})
}

// GET /api/panels/:id
func (h *PanelHandler) GetPanel(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	snap, err := h.snapshots.ActiveSnapshot(requestDBC(c), panelID)
	if err != nil {
		response.RespondServiceError(c, "get_panel_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap, "version": snap.Version().String(), "entities": snap.Entities})
}

// PATCH /api/panels/:id
func (h *PanelHandler) UpdatePanel(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	var in services.UpdatePanelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	snap, err := h.snapshots.UpdatePanel(requestDBC(c), panelID, in)
	if err != nil {
		response.RespondServiceError(c, "update_panel_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

type incrementRequest struct {
	Major              bool   `json:"major"`
	Comment            string `json:"comment"`
	IncludeSuperPanels *bool  `json:"include_super_panels"`
}

// POST /api/panels/:id/increment
func (h *PanelHandler) Increment(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	var req incrementRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	opts := services.IncrementOptions{Major: req.Major, Comment: req.Comment, IncludeSuperPanels: true}
	if req.IncludeSuperPanels != nil {
		opts.IncludeSuperPanels = *req.IncludeSuperPanels
	}
	snap, err := h.snapshots.Increment(requestDBC(c), panelID, opts)
	if err != nil {
		response.RespondServiceError(c, "increment_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap, "version": snap.Version().String()})
}

// POST /api/panels/:id/entities
func (h *PanelHandler) AddEntity(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	var e types.Entity
	if err := c.ShouldBindJSON(&e); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	snap, err := h.snapshots.AddEntity(requestDBC(c), panelID, &e, "")
	if err != nil {
		response.RespondServiceError(c, "add_entity_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"snapshot": snap})
}

func entityPath(c *gin.Context) (uint, panels.EntityType, string, error) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		return 0, "", "", err
	}
	entityType := panels.EntityType(strings.ToLower(c.Param("type")))
	if !entityType.Valid() {
		return 0, "", "", fmt.Errorf("invalid entity type %q", c.Param("type"))
	}
	name := strings.TrimSpace(c.Param("name"))
	return panelID, entityType, name, nil
}

// PUT /api/panels/:id/entities/:type/:name
func (h *PanelHandler) UpdateEntity(c *gin.Context) {
	panelID, entityType, name, err := entityPath(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_entity_path", err)
		return
	}
	var e types.Entity
	if err := c.ShouldBindJSON(&e); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	e.EntityType = entityType
	e.EntityName = name
	snap, err := h.snapshots.UpdateEntity(requestDBC(c), panelID, &e, "")
	if err != nil {
		response.RespondServiceError(c, "update_entity_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

// DELETE /api/panels/:id/entities/:type/:name
func (h *PanelHandler) RemoveEntity(c *gin.Context) {
	panelID, entityType, name, err := entityPath(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_entity_path", err)
		return
	}
	snap, err := h.snapshots.RemoveEntity(requestDBC(c), panelID, entityType, name, "")
	if err != nil {
		response.RespondServiceError(c, "remove_entity_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

type removeEntitiesRequest struct {
	Names []string `json:"names" binding:"required,min=1"`
}

// POST /api/panels/:id/entities/:type/remove
func (h *PanelHandler) RemoveEntities(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	entityType := panels.EntityType(strings.ToLower(c.Param("type")))
	if !entityType.Valid() {
		response.RespondError(c, http.StatusBadRequest, "invalid_entity_type", fmt.Errorf("invalid entity type %q", c.Param("type")))
		return
	}
	var req removeEntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	snap, err := h.snapshots.RemoveEntities(requestDBC(c), panelID, entityType, req.Names, "")
	if err != nil {
		response.RespondServiceError(c, "remove_entities_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

// POST /api/panels/:id/entities/:type/:name/evaluations
func (h *PanelHandler) SubmitEvaluation(c *gin.Context) {
	panelID, entityType, name, err := entityPath(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_entity_path", err)
		return
	}
	var ev types.Evaluation
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rating, ok := panels.ParseRating(string(ev.Rating))
	if !ok {
		response.RespondError(c, http.StatusBadRequest, "invalid_rating", fmt.Errorf("invalid rating %q", ev.Rating))
		return
	}
	ev.Rating = rating
	// Reviewers are always the acting user.
	ev.Reviewer = ""
	snap, err := h.snapshots.SubmitEvaluation(requestDBC(c), panelID, entityType, name, &ev)
	if err != nil {
		response.RespondServiceError(c, "submit_evaluation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

type childPanelsRequest struct {
	PanelIDs []uint `json:"panel_ids"`
}

// PUT /api/panels/:id/children
func (h *PanelHandler) SetChildPanels(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	var req childPanelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	snap, err := h.snapshots.SetChildPanels(requestDBC(c), panelID, req.PanelIDs, "")
	if err != nil {
		response.RespondServiceError(c, "set_child_panels_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

// POST /api/panels/:id/sign-off
func (h *PanelHandler) SignOff(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	res, err := h.snapshots.SignOff(requestDBC(c), panelID, "", time.Now())
	if err != nil {
		response.RespondServiceError(c, "sign_off_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"signed_off": res.SignedOff.Version().String(),
		"snapshot":   res.Snapshot,
	})
}

type promoteRequest struct {
	Comment string `json:"comment"`
}

// POST /api/panels/:id/promote
func (h *PanelHandler) Promote(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	var req promoteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	snap, err := h.snapshots.Promote(requestDBC(c), panelID, req.Comment, "")
	if err != nil {
		response.RespondServiceError(c, "promote_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap, "version": snap.Version().String()})
}

// GET /api/panels/:id/versions
func (h *PanelHandler) ListVersions(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	rows, err := h.snapshots.ListVersions(requestDBC(c), panelID)
	if err != nil {
		response.RespondServiceError(c, "list_versions_failed", err)
		return
	}
	type versionItem struct {
		Version       string     `json:"version"`
		Reason        string     `json:"reason,omitempty"`
		SignedOffDate *time.Time `json:"signed_off_date,omitempty"`
		CreatedAt     time.Time  `json:"created_at"`
	}
	out := make([]versionItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, versionItem{
			Version:       row.Version().String(),
			Reason:        row.Reason,
			SignedOffDate: row.SignedOffDate,
			CreatedAt:     row.CreatedAt,
		})
	}
	response.RespondOK(c, gin.H{"versions": out})
}

// GET /api/panels/:id/versions/:version[?format=tsv]
func (h *PanelHandler) GetVersion(c *gin.Context) {
	panelID, err := uintParam(c, "id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_panel_id", err)
		return
	}
	v, err := panels.ParseVersion(c.Param("version"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_version", err)
		return
	}
	hist, err := h.snapshots.GetVersion(requestDBC(c), panelID, v)
	if err != nil {
		response.RespondServiceError(c, "get_version_failed", err)
		return
	}
	if strings.EqualFold(c.Query("format"), "tsv") {
		filename := fmt.Sprintf("panel_%d_v%s.tsv", panelID, v.String())
		c.Header("Content-Type", "text/tab-separated-values; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Status(http.StatusOK)
		if err := hist.WriteTSV(c.Writer); err != nil {
			_ = c.Error(err)
		}
		return
	}
	response.RespondOK(c, gin.H{"version": hist})
}
