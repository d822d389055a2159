package releases

import (
	"testing"
	"time"

	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
)

func TestReleaseRepoList(t *testing.T) {
	db := testutil.SQLiteDB(t)
	dbc := testutil.DBC(db)
	log := testutil.Logger(t)
	repo := NewReleaseRepo(db, log)
	deployments := NewReleaseDeploymentRepo(db, log)

	p, _ := testutil.SeedPanel(t, db, "Panel", 0, 0)
	pending := testutil.SeedRelease(t, db, "2025 Q1", "", &types.ReleasePanel{PanelID: p.ID})
	done := testutil.SeedRelease(t, db, "2024 Q4", "")

	start := time.Now().UTC()
	end := start.Add(time.Minute)
	if err := deployments.Create(dbc, &types.ReleaseDeployment{ReleaseID: done.ID, Start: &start, End: &end}); err != nil {
		t.Fatalf("Create deployment: %v", err)
	}

	all, err := repo.List(dbc, ReleaseFilter{OrderBy: "name"})
	if err != nil || len(all) != 2 {
		t.Fatalf("List: err=%v len=%d", err, len(all))
	}
	if all[0].ID != done.ID || all[1].PanelCount != 1 {
		t.Fatalf("List: unexpected order or count: %+v %+v", all[0], all[1])
	}

	rows, err := repo.List(dbc, ReleaseFilter{Deployment: []string{DeploymentFilterPending}})
	if err != nil || len(rows) != 1 || rows[0].ID != pending.ID {
		t.Fatalf("List(pending): err=%v rows=%v", err, rows)
	}
	rows, err = repo.List(dbc, ReleaseFilter{Deployment: []string{DeploymentFilterDone}, Search: "q4"})
	if err != nil || len(rows) != 1 || rows[0].Deployment == nil {
		t.Fatalf("List(done): err=%v rows=%v", err, rows)
	}
	if _, err := repo.List(dbc, ReleaseFilter{Deployment: []string{"later"}}); err == nil {
		t.Fatalf("List: expected error for unknown deployment filter")
	}

	locked, err := repo.LockForDeploy(dbc, pending.ID)
	if err != nil || locked == nil || locked.ID != pending.ID {
		t.Fatalf("LockForDeploy: got=%v err=%v", locked, err)
	}
}

func TestReleasePanelRepoSearch(t *testing.T) {
	db := testutil.SQLiteDB(t)
	dbc := testutil.DBC(db)
	repo := NewReleasePanelRepo(db, testutil.Logger(t))

	b, _ := testutil.SeedPanel(t, db, "Bravo", 0, 0)
	a, _ := testutil.SeedPanel(t, db, "Alpha", 0, 0)
	if err := db.Model(a).Update("status", "retired").Error; err != nil {
		t.Fatalf("retire: %v", err)
	}
	rel := testutil.SeedRelease(t, db, "R", "",
		&types.ReleasePanel{PanelID: b.ID, Promote: true},
		&types.ReleasePanel{PanelID: a.ID},
	)

	rows, err := repo.ListByRelease(dbc, rel.ID, ReleasePanelFilter{})
	if err != nil || len(rows) != 2 || rows[0].PanelID != b.ID {
		t.Fatalf("ListByRelease: err=%v rows=%v", err, rows)
	}
	if rows[0].Panel == nil || rows[0].Panel.Name != "Bravo" {
		t.Fatalf("ListByRelease: panel not loaded")
	}

	rows, err = repo.ListByRelease(dbc, rel.ID, ReleasePanelFilter{OrderBy: "name"})
	if err != nil || rows[0].PanelID != a.ID {
		t.Fatalf("ListByRelease(order name): err=%v rows=%v", err, rows)
	}
	rows, err = repo.ListByRelease(dbc, rel.ID, ReleasePanelFilter{Statuses: []string{"retired"}})
	if err != nil || len(rows) != 1 || rows[0].PanelID != a.ID {
		t.Fatalf("ListByRelease(status): err=%v rows=%v", err, rows)
	}
	rows, err = repo.ListByRelease(dbc, rel.ID, ReleasePanelFilter{Search: "RAV"})
	if err != nil || len(rows) != 1 || rows[0].PanelID != b.ID {
		t.Fatalf("ListByRelease(search): err=%v rows=%v", err, rows)
	}

	if err := repo.Upsert(dbc, &types.ReleasePanel{ReleaseID: rel.ID, PanelID: a.ID, Promote: true}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	row, err := repo.Get(dbc, rel.ID, a.ID)
	if err != nil || row == nil || !row.Promote {
		t.Fatalf("Get after upsert: row=%v err=%v", row, err)
	}

	if ok, err := repo.Delete(dbc, rel.ID, a.ID); err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if err := repo.DeleteByRelease(dbc, rel.ID); err != nil {
		t.Fatalf("DeleteByRelease: %v", err)
	}
	rows, err = repo.ListByRelease(dbc, rel.ID, ReleasePanelFilter{})
	if err != nil || len(rows) != 0 {
		t.Fatalf("after DeleteByRelease: err=%v rows=%v", err, rows)
	}
}

func TestParseSortField(t *testing.T) {
	if f, desc := ParseSortField("-name"); f != "name" || !desc {
		t.Fatalf("ParseSortField(-name) = %s %v", f, desc)
	}
	if f, desc := ParseSortField("status"); f != "status" || desc {
		t.Fatalf("ParseSortField(status) = %s %v", f, desc)
	}
}
