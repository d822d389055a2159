package panels

import (
	"sort"
	"time"

	"gorm.io/datatypes"
)

// PanelSnapshot is the content of a Panel at one (major, minor). Once a
// newer snapshot exists, a row is never changed again.
type PanelSnapshot struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	PanelID      uint             `gorm:"column:panel_id;not null;uniqueIndex:idx_panel_snapshot_version,priority:1" json:"panel_id"`
	Panel        *Panel           `gorm:"foreignKey:PanelID" json:"panel,omitempty"`
	MajorVersion int              `gorm:"column:major_version;not null;uniqueIndex:idx_panel_snapshot_version,priority:2" json:"major_version"`
	MinorVersion int              `gorm:"column:minor_version;not null;uniqueIndex:idx_panel_snapshot_version,priority:3" json:"minor_version"`
	Level4Title  Level4Title      `gorm:"embedded;embeddedPrefix:level4_" json:"level4title"`
	Comment      string           `gorm:"column:version_comment;type:text" json:"version_comment,omitempty"`
	ModifiedBy   string           `gorm:"column:modified_by" json:"modified_by,omitempty"`
	ChildPanels  []*PanelSnapshot `gorm:"many2many:panel_snapshot_child;joinForeignKey:ParentID;joinReferences:ChildID" json:"child_panels,omitempty"`
	Entities     []*Entity        `gorm:"foreignKey:PanelSnapshotID" json:"entities,omitempty"`
	CreatedAt    time.Time        `gorm:"not null;index" json:"created_at"`

	// Child panel ids in the order they were added.
	ChildOrder datatypes.JSONSlice[uint] `gorm:"column:child_order" json:"-"`
}

func (PanelSnapshot) TableName() string { return "panel_snapshot" }

func (s *PanelSnapshot) Version() Version {
	return Version{Major: s.MajorVersion, Minor: s.MinorVersion}
}

func (s *PanelSnapshot) SetVersion(v Version) {
	s.MajorVersion = v.Major
	s.MinorVersion = v.Minor
}

// IsSuperPanel reports whether the snapshot composes child snapshots.
func (s *PanelSnapshot) IsSuperPanel() bool {
	return s != nil && len(s.ChildPanels) > 0
}

// ChildIDs returns child snapshot ids in stored order.
func (s *PanelSnapshot) ChildIDs() []uint {
	if s == nil {
		return nil
	}
	out := make([]uint, 0, len(s.ChildPanels))
	for _, c := range s.ChildPanels {
		if c != nil {
			out = append(out, c.ID)
		}
	}
	return out
}

// RecordChildOrder stores the current ChildPanels order in ChildOrder.
func (s *PanelSnapshot) RecordChildOrder() {
	if len(s.ChildPanels) == 0 {
		s.ChildOrder = nil
		return
	}
	order := make(datatypes.JSONSlice[uint], 0, len(s.ChildPanels))
	for _, c := range s.ChildPanels {
		if c != nil {
			order = append(order, c.PanelID)
		}
	}
	s.ChildOrder = order
}

// SortChildren puts ChildPanels back into ChildOrder. Children missing from
// ChildOrder keep their loaded order after the known ones.
func (s *PanelSnapshot) SortChildren() {
	if s == nil || len(s.ChildPanels) < 2 {
		return
	}
	pos := make(map[uint]int, len(s.ChildOrder))
	for i, id := range s.ChildOrder {
		pos[id] = i
	}
	rank := func(c *PanelSnapshot) int {
		if c == nil {
			return len(pos)
		}
		if i, ok := pos[c.PanelID]; ok {
			return i
		}
		return len(pos)
	}
	sort.SliceStable(s.ChildPanels, func(i, j int) bool {
		return rank(s.ChildPanels[i]) < rank(s.ChildPanels[j])
	})
}

// FindEntity returns the entity with the given type and name.
func (s *PanelSnapshot) FindEntity(entityType EntityType, name string) *Entity {
	if s == nil {
		return nil
	}
	for _, e := range s.Entities {
		if e != nil && e.EntityType == entityType && e.EntityName == name {
			return e
		}
	}
	return nil
}
