package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/platform/apierr"
)

func gene(name string) *types.Entity {
	return &types.Entity{
		EntityType:     panels.EntityGene,
		EntityName:     name,
		SavedGelStatus: panels.GelStatusGreen,
		Gene:           panels.GeneData{GeneName: name},
	}
}

func v(major, minor int) types.Version { return panels.NewVersion(major, minor) }

func TestCreatePanel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.snapshots.UpsertPanelTypes(f.dbc, []*types.PanelType{{Name: "Rare Disease 100K", Slug: "rare-disease-100k"}}))

	snap, err := f.snapshots.CreatePanel(f.dbc, CreatePanelInput{Name: "  Cardiac arrhythmia ", Types: []string{"rare-disease-100k"}})
	require.NoError(t, err)
	assert.Equal(t, v(0, 0), snap.Version())
	assert.Equal(t, "curator", snap.ModifiedBy)
	assert.Equal(t, "Cardiac arrhythmia", snap.Level4Title.Name)

	p, err := f.snapshots.GetPanel(f.dbc, snap.PanelID)
	require.NoError(t, err)
	assert.Equal(t, panels.PanelStatusInternal, p.Status)
	assert.Equal(t, []string{"rare-disease-100k"}, p.TypeSlugs())

	_, err = f.snapshots.CreatePanel(f.dbc, CreatePanelInput{Name: "Cardiac arrhythmia"})
	assert.ErrorIs(t, err, panels.ErrPanelExists)

	_, err = f.snapshots.CreatePanel(f.dbc, CreatePanelInput{Name: "Other", Types: []string{"nope"}})
	assert.ErrorIs(t, err, panels.ErrUnknownPanelType)

	_, err = f.snapshots.CreatePanel(f.dbc, CreatePanelInput{Name: "   "})
	ae, ok := apierr.As(err)
	require.True(t, ok, "expected api error, got %v", err)
	assert.Equal(t, 400, ae.Status)
	assert.NotEmpty(t, ae.Details)
}

func TestEntityEditsIncrementMinor(t *testing.T) {
	f := newFixture(t)
	p, _ := testutil.SeedPanel(t, f.db, "Cardiac", 1, 2, "MYH7")

	next, err := f.snapshots.AddEntity(f.dbc, p.ID, gene("TP53"), "")
	require.NoError(t, err)
	assert.Equal(t, v(1, 3), next.Version())
	assert.Equal(t, "Added gene TP53", next.Comment)
	assert.Len(t, next.Entities, 2)

	_, err = f.snapshots.AddEntity(f.dbc, p.ID, gene("TP53"), "")
	assert.ErrorIs(t, err, panels.ErrEntityExists)

	_, err = f.snapshots.RemoveEntity(f.dbc, p.ID, panels.EntityGene, "BRCA2", "")
	assert.ErrorIs(t, err, panels.ErrGeneDoesNotExist)

	_, err = f.snapshots.RemoveEntities(f.dbc, p.ID, panels.EntityGene, []string{"BRCA1", "BRCA2"}, "")
	var missing *panels.GenesDoNotExistError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"BRCA1", "BRCA2"}, missing.Names)
	assert.ErrorIs(t, err, panels.ErrGeneDoesNotExist)

	removed, err := f.snapshots.RemoveEntities(f.dbc, p.ID, panels.EntityGene, []string{"MYH7"}, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, v(1, 4), removed.Version())
	assert.Equal(t, "Removed MYH7", removed.Comment)
	assert.Equal(t, "reviewer", removed.ModifiedBy)

	active, err := f.snapshots.ActiveSnapshot(f.dbc, p.ID)
	require.NoError(t, err)
	require.Len(t, active.Entities, 1)
	assert.Equal(t, "TP53", active.Entities[0].EntityName)

	// Failed edits leave no versions behind.
	versions, err := f.snapshots.ListVersions(f.dbc, p.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestIncrementAndGetVersion(t *testing.T) {
	f := newFixture(t)
	p, _ := testutil.SeedPanel(t, f.db, "Cardiac", 0, 4, "MYH7")

	major, err := f.snapshots.Increment(f.dbc, p.ID, IncrementOptions{Major: true, Comment: "Reviewed"})
	require.NoError(t, err)
	assert.Equal(t, v(1, 0), major.Version())
	assert.Len(t, major.Entities, 1)

	updated, err := f.snapshots.UpdatePanel(f.dbc, p.ID, UpdatePanelInput{})
	require.NoError(t, err)
	assert.Equal(t, v(1, 1), updated.Version())
	assert.Equal(t, "Panel information updated", updated.Comment)

	archived, err := f.snapshots.GetVersion(f.dbc, p.ID, v(0, 4))
	require.NoError(t, err)
	assert.Equal(t, v(0, 4), archived.Version())
	require.Len(t, archived.Data.Data().Entities, 1)
	assert.Equal(t, "MYH7", archived.Data.Data().Entities[0].EntityName)

	// The live version is archived on first access, then served from the archive.
	live, err := f.snapshots.GetVersion(f.dbc, p.ID, v(1, 1))
	require.NoError(t, err)
	again, err := f.snapshots.GetVersion(f.dbc, p.ID, v(1, 1))
	require.NoError(t, err)
	assert.Equal(t, live.ID, again.ID)
	assert.Equal(t, "Panel information updated", again.Data.Data().Comment)

	_, err = f.snapshots.GetVersion(f.dbc, p.ID, v(7, 0))
	assert.ErrorIs(t, err, panels.ErrVersionNotFound)

	_, err = f.snapshots.Increment(f.dbc, 9999, IncrementOptions{})
	assert.ErrorIs(t, err, panels.ErrPanelNotFound)
}

func TestSuperPanelCascade(t *testing.T) {
	f := newFixture(t)
	a, aSnap := testutil.SeedPanel(t, f.db, "Alpha", 0, 0, "BRCA1")
	b, _ := testutil.SeedPanel(t, f.db, "Bravo", 0, 0, "MYH7")
	c, cSnap := testutil.SeedPanel(t, f.db, "Charlie", 0, 0)
	super, _ := testutil.SeedPanel(t, f.db, "Super", 0, 0)

	_, err := f.snapshots.SetChildPanels(f.dbc, super.ID, []uint{super.ID}, "")
	assert.ErrorIs(t, err, panels.ErrInvalidChild)
	_, err = f.snapshots.SetChildPanels(f.dbc, a.ID, []uint{b.ID}, "")
	assert.ErrorIs(t, err, panels.ErrInvalidChild)

	s1, err := f.snapshots.SetChildPanels(f.dbc, super.ID, []uint{b.ID, a.ID, a.ID, c.ID}, "")
	require.NoError(t, err)
	assert.Equal(t, v(0, 1), s1.Version())
	assert.Len(t, s1.ChildPanels, 3)

	_, err = f.snapshots.AddEntity(f.dbc, super.ID, gene("TP53"), "")
	assert.ErrorIs(t, err, panels.ErrIsSuperPanel)
	// Charlie is pinned by Super, so it cannot become a super-panel itself.
	_, err = f.snapshots.SetChildPanels(f.dbc, c.ID, []uint{b.ID}, "")
	assert.ErrorIs(t, err, panels.ErrIsSuperPanel)

	a1, err := f.snapshots.AddEntity(f.dbc, a.ID, gene("TP53"), "")
	require.NoError(t, err)

	s2, err := f.snapshots.ActiveSnapshot(f.dbc, super.ID)
	require.NoError(t, err)
	assert.Equal(t, v(0, 2), s2.Version())
	assert.Empty(t, s2.Comment)
	// Children keep the order they were given in, duplicates dropped.
	assert.Equal(t, []uint{s1.ChildPanels[0].ID, a1.ID, cSnap.ID}, s2.ChildIDs())
	assert.NotContains(t, s2.ChildIDs(), aSnap.ID)

	names := make([]string, 0, len(s2.Entities))
	for _, e := range s2.Entities {
		names = append(names, e.EntityName)
	}
	assert.Equal(t, []string{"MYH7", "BRCA1", "TP53"}, names)

	// The superseded super-panel version froze its merged children.
	frozen, err := f.snapshots.GetVersion(f.dbc, super.ID, v(0, 1))
	require.NoError(t, err)
	assert.Len(t, frozen.Data.Data().Entities, 2)
	assert.Len(t, frozen.Data.Data().ChildPanels, 3)
}

func TestSuperPanelMergesInChildOrder(t *testing.T) {
	f := newFixture(t)
	a, _ := testutil.SeedPanel(t, f.db, "Alpha", 0, 0, "X")
	b, _ := testutil.SeedPanel(t, f.db, "Bravo", 0, 0, "X")
	super, _ := testutil.SeedPanel(t, f.db, "Super", 0, 0)

	_, err := f.snapshots.SubmitEvaluation(f.dbc, a.ID, panels.EntityGene, "X", &types.Evaluation{Reviewer: "reviewer-alpha"})
	require.NoError(t, err)
	_, err = f.snapshots.SubmitEvaluation(f.dbc, b.ID, panels.EntityGene, "X", &types.Evaluation{Reviewer: "reviewer-bravo"})
	require.NoError(t, err)
	_, err = f.snapshots.SetChildPanels(f.dbc, super.ID, []uint{b.ID, a.ID}, "")
	require.NoError(t, err)

	reviewers := func() []string {
		t.Helper()
		active, err := f.snapshots.ActiveSnapshot(f.dbc, super.ID)
		require.NoError(t, err)
		childPanels := make([]uint, 0, len(active.ChildPanels))
		for _, c := range active.ChildPanels {
			childPanels = append(childPanels, c.PanelID)
		}
		assert.Equal(t, []uint{b.ID, a.ID}, childPanels)
		x := active.FindEntity(panels.EntityGene, "X")
		require.NotNil(t, x)
		out := make([]string, 0, len(x.Evaluations))
		for _, ev := range x.Evaluations {
			out = append(out, ev.Reviewer)
		}
		return out
	}
	assert.Equal(t, []string{"reviewer-bravo", "reviewer-alpha"}, reviewers())

	// A cascade from the second child re-pins it in place.
	_, err = f.snapshots.AddEntity(f.dbc, a.ID, gene("Y"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"reviewer-bravo", "reviewer-alpha"}, reviewers())

	frozen, err := f.snapshots.GetVersion(f.dbc, super.ID, v(0, 1))
	require.NoError(t, err)
	refs := frozen.Data.Data().ChildPanels
	require.Len(t, refs, 2)
	assert.Equal(t, b.ID, refs[0].PanelID)
	assert.Equal(t, a.ID, refs[1].PanelID)
}

func TestSignOffAndPromote(t *testing.T) {
	f := newFixture(t)
	p, snap := testutil.SeedPanel(t, f.db, "Cardiac", 1, 2, "MYH7")
	require.NoError(t, f.db.Model(snap).Update("version_comment", "Curated").Error)

	promoted, err := f.snapshots.Promote(f.dbc, p.ID, "Promoted for GMS", "")
	require.NoError(t, err)
	assert.Equal(t, v(2, 0), promoted.Version())
	assert.Equal(t, "Promoted for GMS\n\nCurated", promoted.Comment)

	res, err := f.snapshots.SignOff(f.dbc, p.ID, "", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, v(2, 0), res.SignedOff.Version())
	require.NotNil(t, res.SignedOff.SignedOffDate)
	assert.True(t, res.SignedOff.SignedOffDate.Equal(fixedNow))
	assert.Equal(t, v(2, 1), res.Snapshot.Version())
	assert.Equal(t, promoted.Comment, res.Snapshot.Comment)
	assert.Len(t, res.Snapshot.Entities, 1)

	panel, err := f.snapshots.GetPanel(f.dbc, p.ID)
	require.NoError(t, err)
	require.NotNil(t, panel.SignedOffID)
	assert.Equal(t, res.SignedOff.ID, *panel.SignedOffID)
	require.NotNil(t, panel.SignedOffVersion())
	assert.Equal(t, v(2, 0), *panel.SignedOffVersion())
}
