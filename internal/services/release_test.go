package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/modules/releaseplan"
)

const promotionTemplate = "Release {{ version }} on {{ now.yyyy_mm_dd_hh_mm }}"

func readExport(t *testing.T, raw []byte) [][]string {
	t.Helper()
	recs, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, releaseplan.ExportHeaders, recs[0])
	return recs[1:]
}

func TestReleaseCreateAndUpdate(t *testing.T) {
	f := newFixture(t)

	rel, err := f.releases.Create(f.dbc, CreateReleaseInput{Name: " 2025 Q1 ", PromotionComment: promotionTemplate})
	require.NoError(t, err)
	assert.Equal(t, "2025 Q1", rel.Name)

	_, err = f.releases.Create(f.dbc, CreateReleaseInput{Name: "2025 Q1"})
	assert.ErrorIs(t, err, releases.ErrReleaseExists)

	_, err = f.releases.Create(f.dbc, CreateReleaseInput{Name: "Broken", PromotionComment: "{% if %}"})
	var tre *releaseplan.TemplateRenderError
	assert.True(t, errors.As(err, &tre), "got %v", err)

	comment := "Signed off {{ version }}"
	updated, err := f.releases.Update(f.dbc, rel.ID, UpdateReleaseInput{PromotionComment: &comment})
	require.NoError(t, err)
	assert.Equal(t, comment, updated.PromotionComment)

	_, err = f.releases.Update(f.dbc, 404, UpdateReleaseInput{PromotionComment: &comment})
	assert.ErrorIs(t, err, releases.ErrReleaseNotFound)

	list, err := f.releases.List(f.dbc, repos.ReleaseFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestImportPlan(t *testing.T) {
	f := newFixture(t)
	a, _ := testutil.SeedPanel(t, f.db, "Alpha", 1, 2)
	b, _ := testutil.SeedPanel(t, f.db, "Bravo", 0, 3)
	rel := testutil.SeedRelease(t, f.db, "2025 Q1", promotionTemplate)

	plan := "\ufeffPromote,Panel ID,Notes\ntrue," + uintStr(b.ID) + ",x\nFALSE," + uintStr(a.ID) + ",\n"
	n, err := f.releases.ImportPlan(f.dbc, rel.ID, strings.NewReader(plan))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	views, err := f.releases.ListReleasePanels(f.dbc, rel.ID, repos.ReleasePanelFilter{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, a.ID, views[0].PanelID)
	assert.False(t, views[0].Promote)
	assert.Equal(t, "1.2", views[0].ActiveVersion)
	assert.Equal(t, "1.2", views[0].SignedOffAfter)
	assert.Equal(t, "1.3", views[0].VersionAfter)
	assert.True(t, views[1].Promote)
	assert.Equal(t, "1.0", views[1].SignedOffAfter)
	assert.Equal(t, "Release 1.0 on 2025-03-04 05:06", views[1].CommentAfter)

	// Row problems are reported together and nothing is replaced.
	bad := "Panel ID,Promote\n" + uintStr(a.ID) + ",maybe\n,true\n" + uintStr(a.ID) + ",true\n"
	_, err = f.releases.ImportPlan(f.dbc, rel.ID, strings.NewReader(bad))
	var ie *releaseplan.ImportError
	require.True(t, errors.As(err, &ie), "got %v", err)
	assert.Len(t, ie.Errors, 3)

	_, err = f.releases.ImportPlan(f.dbc, rel.ID, strings.NewReader("Panel ID,Promote\n4040,true\n"))
	require.True(t, errors.As(err, &ie), "got %v", err)
	require.Len(t, ie.Errors, 1)
	var re *releaseplan.RowError
	require.True(t, errors.As(ie.Errors[0], &re))
	assert.Equal(t, 1, re.Row)
	assert.Equal(t, "Panel does not exist.", re.Message)

	_, err = f.releases.ImportPlan(f.dbc, rel.ID, strings.NewReader("Panel ID\n1\n"))
	var mh *releaseplan.MissingHeadersError
	require.True(t, errors.As(err, &mh), "got %v", err)
	assert.Equal(t, []string{releaseplan.HeaderPromote}, mh.Headers)

	views, err = f.releases.ListReleasePanels(f.dbc, rel.ID, repos.ReleasePanelFilter{})
	require.NoError(t, err)
	assert.Len(t, views, 2)

	// A valid import replaces the whole plan.
	n, err = f.releases.ImportPlan(f.dbc, rel.ID, strings.NewReader("Panel ID,Promote\n"+uintStr(a.ID)+",true\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	views, err = f.releases.ListReleasePanels(f.dbc, rel.ID, repos.ReleasePanelFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Promote)
}

func TestReleasePanelEdits(t *testing.T) {
	f := newFixture(t)
	a, _ := testutil.SeedPanel(t, f.db, "Alpha", 0, 1)
	rel := testutil.SeedRelease(t, f.db, "R", "")

	row, err := f.releases.SetReleasePanel(f.dbc, rel.ID, a.ID, false)
	require.NoError(t, err)
	assert.False(t, row.Promote)
	row, err = f.releases.SetReleasePanel(f.dbc, rel.ID, a.ID, true)
	require.NoError(t, err)
	assert.True(t, row.Promote)

	_, err = f.releases.SetReleasePanel(f.dbc, rel.ID, 9999, true)
	assert.Error(t, err)

	require.NoError(t, f.releases.RemoveReleasePanel(f.dbc, rel.ID, a.ID))
	assert.ErrorIs(t, f.releases.RemoveReleasePanel(f.dbc, rel.ID, a.ID), releases.ErrReleasePanelNotFound)
}

func TestExportBeforeDeployment(t *testing.T) {
	f := newFixture(t)
	a, aSnap := testutil.SeedPanel(t, f.db, "Alpha", 1, 2)
	b, _ := testutil.SeedPanel(t, f.db, "Bravo", 0, 3)
	require.NoError(t, f.db.Model(aSnap).Update("version_comment", "Curated").Error)
	rel := testutil.SeedRelease(t, f.db, "2025 Q1", promotionTemplate,
		&types.ReleasePanel{PanelID: b.ID},
		&types.ReleasePanel{PanelID: a.ID, Promote: true},
	)
	_, err := f.snapshots.SignOff(f.dbc, b.ID, "", fixedNow)
	require.NoError(t, err)

	var buf bytes.Buffer
	name, err := f.releases.ExportPlan(f.dbc, rel.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "2025 Q1-panels-before-20250304-0506.csv", name)

	rows := readExport(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{uintStr(a.ID), "true", "", "2.0", "", "Release 2.0 on 2025-03-04 05:06"}, rows[0])
	assert.Equal(t, []string{uintStr(b.ID), "false", "0.3", "0.4", "", ""}, rows[1])
}

func uintStr(id uint) string { return strconv.FormatUint(uint64(id), 10) }
