package testutil

import (
	"testing"

	"gorm.io/gorm"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
)

// SeedPanel creates a panel with one snapshot at (major, minor) holding
// the given gene names.
func SeedPanel(tb testing.TB, tx *gorm.DB, name string, major, minor int, genes ...string) (*types.Panel, *types.PanelSnapshot) {
	tb.Helper()
	p := &types.Panel{Name: name, Status: panels.PanelStatusPublic}
	if err := tx.Omit("SignedOff", "Types").Create(p).Error; err != nil {
		tb.Fatalf("seed panel: %v", err)
	}
	s := &types.PanelSnapshot{
		PanelID:      p.ID,
		MajorVersion: major,
		MinorVersion: minor,
		Level4Title:  panels.Level4Title{Name: name},
	}
	if err := tx.Omit("Panel", "ChildPanels", "Entities").Create(s).Error; err != nil {
		tb.Fatalf("seed snapshot: %v", err)
	}
	for _, g := range genes {
		e := &types.Entity{
			PanelSnapshotID: s.ID,
			EntityType:      panels.EntityGene,
			EntityName:      g,
			SavedGelStatus:  panels.GelStatusGreen,
			Gene:            panels.GeneData{GeneName: g},
		}
		if err := tx.Create(e).Error; err != nil {
			tb.Fatalf("seed entity: %v", err)
		}
		s.Entities = append(s.Entities, e)
	}
	return p, s
}

func SeedRelease(tb testing.TB, tx *gorm.DB, name, promotionComment string, rows ...*types.ReleasePanel) *types.Release {
	tb.Helper()
	rel := &types.Release{Name: name, PromotionComment: promotionComment}
	if err := tx.Omit("Deployment", "Panels").Create(rel).Error; err != nil {
		tb.Fatalf("seed release: %v", err)
	}
	for _, row := range rows {
		row.ReleaseID = rel.ID
		if err := tx.Omit("Panel", "Deployment").Create(row).Error; err != nil {
			tb.Fatalf("seed release panel: %v", err)
		}
	}
	return rel
}
