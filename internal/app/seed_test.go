package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/realtime/bus"
)

const seedYAML = `
panel_types:
  - name: Rare Disease 100K
    slug: rare-disease-100k
panels:
  - name: Cardiac arrhythmia
    status: public
    types: [rare-disease-100k]
    sign_off: true
    genes:
      - name: MYH7
        status: green
        mode_of_inheritance: MONOALLELIC
      - name: TP53
        status: amber
  - name: Cardiomyopathy
    genes:
      - name: TTN
  - name: Cardiology
    children: [Cardiac arrhythmia, Cardiomyopathy]
releases:
  - name: 2025 Q1
    promotion_comment: "Release {{ version }}"
    panels:
      - panel: Cardiac arrhythmia
        promote: true
      - panel: Cardiology
`

func TestSeed(t *testing.T) {
	db := testutil.SQLiteDB(t)
	log := testutil.Logger(t)
	eventBus, err := bus.New(log, "", "panelapp:test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = eventBus.Close() })
	svc, err := wireServices(db, log, Config{}, wireRepos(db, log), eventBus, nil)
	require.NoError(t, err)
	dbc := dbctx.Context{Ctx: context.Background()}

	f, err := LoadFixture(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, f.Panels, 3)

	report, err := Seed(dbc, svc, f)
	require.NoError(t, err)
	assert.Equal(t, &SeedReport{PanelsCreated: 3, ReleasesCreated: 1}, report)

	list, err := svc.Snapshots.ListPanels(dbc, repos.PanelFilter{Search: "Cardiac arrhythmia"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	panel, err := svc.Snapshots.GetPanel(dbc, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"rare-disease-100k"}, panel.TypeSlugs())
	assert.NotNil(t, panel.SignedOffID)

	superID, err := panelIDByName(dbc, svc, "cardiology")
	require.NoError(t, err)
	super, err := svc.Snapshots.ActiveSnapshot(dbc, superID)
	require.NoError(t, err)
	assert.Len(t, super.ChildPanels, 2)
	assert.Len(t, super.Entities, 3)

	rels, err := svc.Releases.List(dbc, repos.ReleaseFilter{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	views, err := svc.Releases.ListReleasePanels(dbc, rels[0].ID, repos.ReleasePanelFilter{})
	require.NoError(t, err)
	assert.Len(t, views, 2)

	again, err := Seed(dbc, svc, f)
	require.NoError(t, err)
	assert.Equal(t, &SeedReport{PanelsSkipped: 3, ReleasesSkipped: 1}, again)
}

func TestLoadFixtureRejectsUnknownFields(t *testing.T) {
	_, err := LoadFixture(strings.NewReader("panels:\n  - name: A\n    colour: red\n"))
	assert.Error(t, err)

	f, err := LoadFixture(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Panels)
}

func TestGelStatus(t *testing.T) {
	_, err := gelStatus("purple")
	assert.Error(t, err)
}
