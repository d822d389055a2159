package panels

import (
	"time"

	"gorm.io/datatypes"
)

type PanelStatus string

const (
	PanelStatusInternal PanelStatus = "internal"
	PanelStatusPublic   PanelStatus = "public"
	PanelStatusPromoted PanelStatus = "promoted"
	PanelStatusDeleted  PanelStatus = "deleted"
	PanelStatusRetired  PanelStatus = "retired"
)

func (s PanelStatus) Valid() bool {
	switch s {
	case PanelStatusInternal, PanelStatusPublic, PanelStatusPromoted, PanelStatusDeleted, PanelStatusRetired:
		return true
	default:
		return false
	}
}

// Panel is the stable identity of a named panel. Rows are never deleted;
// Status flips to deleted instead.
type Panel struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	Name        string              `gorm:"column:name;not null;uniqueIndex:idx_panel_name" json:"name"`
	Status      PanelStatus         `gorm:"column:status;not null;index;default:internal" json:"status"`
	SignedOffID *uint               `gorm:"column:signed_off_id;index" json:"signed_off_id,omitempty"`
	SignedOff   *HistoricalSnapshot `gorm:"foreignKey:SignedOffID" json:"signed_off,omitempty"`
	Types       []*PanelType        `gorm:"many2many:panel_panel_type;" json:"types,omitempty"`
	CreatedAt   time.Time           `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"not null" json:"updated_at"`
}

func (Panel) TableName() string { return "panel" }

// SignedOffVersion returns the signed off version, if any.
func (p *Panel) SignedOffVersion() *Version {
	if p == nil || p.SignedOff == nil {
		return nil
	}
	v := p.SignedOff.Version()
	return &v
}

// TypeSlugs lists the panel type slugs in stored order.
func (p *Panel) TypeSlugs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Types))
	for _, t := range p.Types {
		if t != nil {
			out = append(out, t.Slug)
		}
	}
	return out
}

type PanelType struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Slug        string `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Description string `gorm:"column:description;type:text" json:"description,omitempty"`
}

func (PanelType) TableName() string { return "panel_type" }

// Level4Title is the descriptive metadata carried by each snapshot.
type Level4Title struct {
	Name        string                      `gorm:"column:name;not null" json:"name"`
	Level3Title string                      `gorm:"column:level3title" json:"level3title,omitempty"`
	Level2Title string                      `gorm:"column:level2title" json:"level2title,omitempty"`
	Description string                      `gorm:"column:description;type:text" json:"description,omitempty"`
	OMIM        datatypes.JSONSlice[string] `gorm:"column:omim" json:"omim,omitempty"`
	Orphanet    datatypes.JSONSlice[string] `gorm:"column:orphanet" json:"orphanet,omitempty"`
	HPO         datatypes.JSONSlice[string] `gorm:"column:hpo" json:"hpo,omitempty"`
}

// Clone copies t with fresh backing arrays for the list fields.
func (t Level4Title) Clone() Level4Title {
	t.OMIM = cloneStrings(t.OMIM)
	t.Orphanet = cloneStrings(t.Orphanet)
	t.HPO = cloneStrings(t.HPO)
	return t
}
