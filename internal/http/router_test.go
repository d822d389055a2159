package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	httpH "github.com/yungbote/panelapp-backend/internal/http/handlers"
	httpMW "github.com/yungbote/panelapp-backend/internal/http/middleware"
	"github.com/yungbote/panelapp-backend/internal/services"
)

type apiHarness struct {
	db     *gorm.DB
	router *gin.Engine
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.SQLiteDB(t)
	log := testutil.Logger(t)

	panelRepo := repos.NewPanelRepo(db, log)
	snapshotRepo := repos.NewPanelSnapshotRepo(db, log)
	historical := repos.NewHistoricalSnapshotRepo(db, log)
	releaseRepo := repos.NewReleaseRepo(db, log)
	rpRepo := repos.NewReleasePanelRepo(db, log)
	depRepo := repos.NewReleaseDeploymentRepo(db, log)

	snapshots := services.NewSnapshotService(db, log, panelRepo, repos.NewPanelTypeRepo(db, log), snapshotRepo,
		repos.NewEntityRepo(db, log), historical, nil)
	releaseSvc := services.NewReleaseService(db, log, releaseRepo, rpRepo, depRepo, panelRepo, snapshots, nil)
	jobs := services.NewJobService(db, log, repos.NewJobRunRepo(db, log), nil, nil, "")
	deploy := services.NewDeploymentService(db, log, releaseRepo, rpRepo, depRepo, panelRepo, snapshotRepo,
		historical, snapshots, jobs, nil)

	return &apiHarness{
		db: db,
		router: NewRouter(RouterConfig{
			Log:            log,
			PanelHandler:   httpH.NewPanelHandler(snapshots),
			ReleaseHandler: httpH.NewReleaseHandler(releaseSvc, deploy),
			JobHandler:     httpH.NewJobHandler(jobs),
			HealthHandler:  httpH.NewHealthHandler(),
		}),
	}
}

func (h *apiHarness) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(httpMW.HeaderUser, "jdoe")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	return h.do(t, method, path, "application/json", body)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	env := decode(t, rec)
	e, ok := env["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return e
}

func TestHealthcheck(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, stdhttp.MethodGet, "/healthcheck", "", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestPanelEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.doJSON(t, stdhttp.MethodPost, "/api/panels", map[string]any{"name": "Cardiac arrhythmia"})
	require.Equal(t, stdhttp.StatusCreated, rec.Code, rec.Body.String())
	snap := decode(t, rec)["snapshot"].(map[string]any)
	assert.Equal(t, "jdoe", snap["modified_by"])
	panelID := uint(snap["panel_id"].(float64))

	rec = h.doJSON(t, stdhttp.MethodPost, "/api/panels", map[string]any{"name": "Cardiac arrhythmia"})
	assert.Equal(t, stdhttp.StatusConflict, rec.Code)
	assert.Equal(t, "panel_exists", errorOf(t, rec)["code"])

	base := fmt.Sprintf("/api/panels/%d", panelID)
	rec = h.doJSON(t, stdhttp.MethodPost, base+"/entities", map[string]any{
		"entity_type":      "gene",
		"entity_name":      "MYH7",
		"saved_gel_status": 3,
		"gene_data":        map[string]any{"gene_name": "MYH7"},
	})
	require.Equal(t, stdhttp.StatusCreated, rec.Code, rec.Body.String())

	rec = h.doJSON(t, stdhttp.MethodPost, base+"/entities/gene/MYH7/evaluations", map[string]any{"rating": "green"})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())

	rec = h.doJSON(t, stdhttp.MethodPost, base+"/entities/gene/remove", map[string]any{"names": []string{"BRCA1"}})
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, []any{"BRCA1"}, errorOf(t, rec)["details"])

	rec = h.doJSON(t, stdhttp.MethodPost, base+"/increment", map[string]any{"major": true, "comment": "Reviewed"})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1.0", decode(t, rec)["version"])

	rec = h.do(t, stdhttp.MethodGet, base, "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "1.0", body["version"])
	assert.Len(t, body["entities"], 1)

	rec = h.do(t, stdhttp.MethodGet, base+"/versions", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["versions"], 3)

	rec = h.do(t, stdhttp.MethodGet, base+"/versions/0.1?format=tsv", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "v0.1.tsv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "MYH7")

	rec = h.do(t, stdhttp.MethodGet, base+"/versions/9.9", "", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	rec = h.do(t, stdhttp.MethodGet, base+"/versions/latest", "", nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	rec = h.do(t, stdhttp.MethodGet, "/api/panels/404", "", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, "panel_not_found", errorOf(t, rec)["code"])
}

func TestReleaseEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	a, _ := testutil.SeedPanel(t, h.db, "Alpha", 1, 2, "MYH7")
	b, _ := testutil.SeedPanel(t, h.db, "Bravo", 0, 3)

	rec := h.doJSON(t, stdhttp.MethodPost, "/api/releases", map[string]any{
		"name":              "R1",
		"promotion_comment": "Release {{ version }}",
	})
	require.Equal(t, stdhttp.StatusCreated, rec.Code, rec.Body.String())
	releaseID := uint(decode(t, rec)["release"].(map[string]any)["id"].(float64))
	base := fmt.Sprintf("/api/releases/%d", releaseID)

	rec = h.doJSON(t, stdhttp.MethodPost, "/api/releases", map[string]any{"name": "Broken", "promotion_comment": "{% if %}"})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_promotion_comment", errorOf(t, rec)["code"])

	bad := "Panel ID,Promote\n,true\n"
	rec = h.do(t, stdhttp.MethodPost, base+"/import", "text/csv", []byte(bad))
	require.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	e := errorOf(t, rec)
	assert.Equal(t, "invalid_release_plan", e["code"])
	assert.Len(t, e["details"], 1)

	plan := fmt.Sprintf("Panel ID,Promote\n%d,true\n%d,false\n", a.ID, b.ID)
	rec = h.do(t, stdhttp.MethodPost, base+"/import", "text/csv", []byte(plan))
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode(t, rec)["imported"])

	rec = h.doJSON(t, stdhttp.MethodPut, fmt.Sprintf("%s/panels/%d", base, b.ID), map[string]any{"promote": true})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, stdhttp.MethodGet, base+"/panels", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	rows := decode(t, rec)["panels"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "2.0", rows[0].(map[string]any)["signed_off_after"])

	rec = h.do(t, stdhttp.MethodGet, base+"/export", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="R1-panels-before-`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Panel ID,"))

	rec = h.do(t, stdhttp.MethodGet, base+"/simulate", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["outcomes"], 2)

	rec = h.do(t, stdhttp.MethodDelete, fmt.Sprintf("%s/panels/%d", base, a.ID), "", nil)
	assert.Equal(t, stdhttp.StatusNoContent, rec.Code)
	rec = h.do(t, stdhttp.MethodDelete, fmt.Sprintf("%s/panels/%d", base, a.ID), "", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)

	rec = h.do(t, stdhttp.MethodPost, base+"/deploy", "", nil)
	require.Equal(t, stdhttp.StatusAccepted, rec.Code, rec.Body.String())
	job := decode(t, rec)["job"].(map[string]any)
	assert.Equal(t, "jdoe", job["requested_by"])

	rec = h.do(t, stdhttp.MethodPost, base+"/deploy", "", nil)
	require.Equal(t, stdhttp.StatusAccepted, rec.Code)
	assert.Equal(t, job["id"], decode(t, rec)["job"].(map[string]any)["id"])

	rec = h.do(t, stdhttp.MethodGet, base+"/deployment", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["deployment"].(map[string]any)["state"])

	rec = h.do(t, stdhttp.MethodGet, "/api/jobs/"+job["id"].(string), "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	// A requested deployment freezes the plan.
	rec = h.doJSON(t, stdhttp.MethodPut, fmt.Sprintf("%s/panels/%d", base, a.ID), map[string]any{"promote": true})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "release_deployed", errorOf(t, rec)["code"])

	rec = h.do(t, stdhttp.MethodPost, base+"/import", "text/csv", []byte(plan))
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "release_deployed", errorOf(t, rec)["code"])
	rec = h.do(t, stdhttp.MethodGet, base+"/panels", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["panels"], 1)

	rec = h.do(t, stdhttp.MethodGet, "/api/releases/999/deployment", "", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	rec = h.do(t, stdhttp.MethodGet, "/api/jobs/not-a-uuid", "", nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	var count int64
	require.NoError(t, h.db.Model(&types.ReleasePanel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
