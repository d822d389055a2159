package panels

import (
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
)

func TestPanelSnapshotRepoActive(t *testing.T) {
	db := testutil.SQLiteDB(t)
	dbc := testutil.DBC(db)
	repo := NewPanelSnapshotRepo(db, testutil.Logger(t))

	p, _ := testutil.SeedPanel(t, db, "Cardiomyopathy", 0, 9, "MYH7")
	for _, v := range []panels.Version{{Major: 1, Minor: 0}, {Major: 0, Minor: 10}} {
		s := &types.PanelSnapshot{PanelID: p.ID, Level4Title: panels.Level4Title{Name: p.Name}}
		s.SetVersion(v)
		if err := repo.Create(dbc, s); err != nil {
			t.Fatalf("Create %s: %v", v, err)
		}
	}

	active, err := repo.GetActive(dbc, p.ID)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active == nil || active.Version() != panels.NewVersion(1, 0) {
		t.Fatalf("GetActive: expected 1.0 got %v", active)
	}
	if active.Panel == nil || active.Panel.Name != "Cardiomyopathy" {
		t.Fatalf("GetActive: panel not loaded")
	}

	other, _ := testutil.SeedPanel(t, db, "Epilepsy", 2, 3)
	byPanel, err := repo.GetActiveByPanelIDs(dbc, []uint{p.ID, other.ID})
	if err != nil {
		t.Fatalf("GetActiveByPanelIDs: %v", err)
	}
	if byPanel[p.ID].Version() != panels.NewVersion(1, 0) || byPanel[other.ID].Version() != panels.NewVersion(2, 3) {
		t.Fatalf("GetActiveByPanelIDs: unexpected %v", byPanel)
	}

	versions, err := repo.ListByPanel(dbc, p.ID)
	if err != nil || len(versions) != 3 {
		t.Fatalf("ListByPanel: err=%v len=%d", err, len(versions))
	}

	if missing, err := repo.GetActive(dbc, 9999); err != nil || missing != nil {
		t.Fatalf("GetActive(missing): got=%v err=%v", missing, err)
	}

	dup := &types.PanelSnapshot{PanelID: p.ID, MajorVersion: 1, MinorVersion: 0, Level4Title: panels.Level4Title{Name: p.Name}}
	if err := repo.Create(dbc, dup); !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("Create duplicate version: expected ErrDuplicatedKey, got %v", err)
	}
}

func TestPanelSnapshotRepoChildren(t *testing.T) {
	db := testutil.SQLiteDB(t)
	dbc := testutil.DBC(db)
	repo := NewPanelSnapshotRepo(db, testutil.Logger(t))

	_, childB := testutil.SeedPanel(t, db, "B", 0, 1, "BRCA2")
	_, childA := testutil.SeedPanel(t, db, "A", 0, 0, "BRCA1")
	super, _ := testutil.SeedPanel(t, db, "Super", 0, 0)

	parent := &types.PanelSnapshot{
		PanelID:      super.ID,
		MajorVersion: 0,
		MinorVersion: 1,
		Level4Title:  panels.Level4Title{Name: "Super"},
		ChildPanels:  []*types.PanelSnapshot{childA, childB},
	}
	if err := repo.Create(dbc, parent); err != nil {
		t.Fatalf("Create parent: %v", err)
	}

	got, err := repo.GetByID(dbc, parent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	// A has the higher panel id but was added first.
	if len(got.ChildPanels) != 2 || got.ChildPanels[0].ID != childA.ID || got.ChildPanels[1].ID != childB.ID {
		t.Fatalf("GetByID: children not in insertion order: %v", got.ChildIDs())
	}
	active, err := repo.GetActiveByPanelIDs(dbc, []uint{super.ID})
	if err != nil || active[super.ID] == nil || active[super.ID].ChildPanels[0].ID != childA.ID {
		t.Fatalf("GetActiveByPanelIDs: children not in insertion order: err=%v", err)
	}

	parents, err := repo.ListParentIDs(dbc, childA.ID)
	if err != nil || len(parents) != 1 || parents[0] != parent.ID {
		t.Fatalf("ListParentIDs: got=%v err=%v", parents, err)
	}
	parents, err = repo.ListParentIDsByChildPanel(dbc, childA.PanelID)
	if err != nil || len(parents) != 1 {
		t.Fatalf("ListParentIDsByChildPanel: got=%v err=%v", parents, err)
	}
}

func TestEntityRepo(t *testing.T) {
	db := testutil.SQLiteDB(t)
	dbc := testutil.DBC(db)
	repo := NewEntityRepo(db, testutil.Logger(t))

	_, s := testutil.SeedPanel(t, db, "Ataxia", 0, 0, "ATM", "FXN")
	ev := &types.Evaluation{EntityID: s.Entities[0].ID, Reviewer: "r1", Rating: panels.RatingGreen}
	if err := repo.UpsertEvaluation(dbc, ev); err != nil {
		t.Fatalf("UpsertEvaluation: %v", err)
	}
	again := &types.Evaluation{EntityID: s.Entities[0].ID, Reviewer: "r1", Rating: panels.RatingRed}
	if err := repo.UpsertEvaluation(dbc, again); err != nil {
		t.Fatalf("UpsertEvaluation again: %v", err)
	}

	rows, err := repo.ListBySnapshot(dbc, s.ID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ListBySnapshot: err=%v len=%d", err, len(rows))
	}
	if len(rows[0].Evaluations) != 1 || rows[0].Evaluations[0].Rating != panels.RatingRed {
		t.Fatalf("UpsertEvaluation: expected one RED evaluation, got %+v", rows[0].Evaluations)
	}

	if err := repo.DeleteByIDs(dbc, []uint{rows[0].ID}); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	rows, err = repo.ListBySnapshot(dbc, s.ID)
	if err != nil || len(rows) != 1 || rows[0].EntityName != "FXN" {
		t.Fatalf("after delete: err=%v rows=%v", err, rows)
	}
}

func TestHistoricalSnapshotRepoGetOrCreate(t *testing.T) {
	db := testutil.SQLiteDB(t)
	dbc := testutil.DBC(db)
	repo := NewHistoricalSnapshotRepo(db, testutil.Logger(t))

	p, s := testutil.SeedPanel(t, db, "Deafness", 1, 2, "GJB2")
	s.Comment = "first"
	first, err := repo.GetOrCreate(dbc, panels.NewHistoricalSnapshot(p, s, s.Entities))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s.Comment = "second"
	second, err := repo.GetOrCreate(dbc, panels.NewHistoricalSnapshot(p, s, nil))
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if first.ID != second.ID || second.Reason != "first" {
		t.Fatalf("GetOrCreate: archive rewritten: first=%d second=%d reason=%q", first.ID, second.ID, second.Reason)
	}
	if got := second.Data.Data(); len(got.Entities) != 1 || got.Entities[0].EntityName != "GJB2" {
		t.Fatalf("GetOrCreate: data not stored: %+v", got)
	}

	at := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	if err := repo.SetSignedOffDate(dbc, first.ID, at); err != nil {
		t.Fatalf("SetSignedOffDate: %v", err)
	}
	got, err := repo.GetByVersion(dbc, p.ID, panels.NewVersion(1, 2))
	if err != nil || got == nil || got.SignedOffDate == nil || !got.SignedOffDate.Equal(at) {
		t.Fatalf("GetByVersion: got=%v err=%v", got, err)
	}

	list, err := repo.ListByPanel(dbc, p.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByPanel: err=%v len=%d", err, len(list))
	}
	if n, err := repo.Count(dbc); err != nil || n != 1 {
		t.Fatalf("Count: n=%d err=%v", n, err)
	}
}

func TestPanelRepoListAndTypes(t *testing.T) {
	db := testutil.SQLiteDB(t)
	dbc := testutil.DBC(db)
	log := testutil.Logger(t)
	repo := NewPanelRepo(db, log)
	typeRepo := NewPanelTypeRepo(db, log)

	a, _ := testutil.SeedPanel(t, db, "Rare Disease A", 0, 0)
	testutil.SeedPanel(t, db, "Cancer B", 0, 0)

	rows := []*types.PanelType{{Name: "Rare Disease 100K", Slug: "rare-disease-100k"}}
	if err := typeRepo.Upsert(dbc, rows); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if rows[0].ID == 0 {
		t.Fatalf("Upsert: id not filled")
	}
	if err := repo.ReplaceTypes(dbc, a, rows); err != nil {
		t.Fatalf("ReplaceTypes: %v", err)
	}

	found, err := repo.List(dbc, PanelFilter{Types: []string{"rare-disease-100k"}})
	if err != nil || len(found) != 1 || found[0].ID != a.ID {
		t.Fatalf("List(types): err=%v found=%v", err, found)
	}
	found, err = repo.List(dbc, PanelFilter{Search: "cancer"})
	if err != nil || len(found) != 1 || found[0].Name != "Cancer B" {
		t.Fatalf("List(search): err=%v found=%v", err, found)
	}

	existing, err := repo.ExistingIDs(dbc, []uint{a.ID, 4242})
	if err != nil || !existing[a.ID] || existing[4242] {
		t.Fatalf("ExistingIDs: got=%v err=%v", existing, err)
	}

	locked, err := repo.LockByID(dbc, a.ID)
	if err != nil || locked == nil || locked.ID != a.ID {
		t.Fatalf("LockByID: got=%v err=%v", locked, err)
	}
}
