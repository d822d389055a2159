package panels

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntityType string

const (
	EntityGene   EntityType = "gene"
	EntitySTR    EntityType = "str"
	EntityRegion EntityType = "region"
)

func (t EntityType) Valid() bool {
	return t == EntityGene || t == EntitySTR || t == EntityRegion
}

// GelStatus is the saved traffic-light status of an entity.
type GelStatus int

const (
	GelStatusNone GelStatus = iota
	GelStatusRed
	GelStatusAmber
	GelStatusGreen
)

func (s GelStatus) String() string {
	switch s {
	case GelStatusRed:
		return "red"
	case GelStatusAmber:
		return "amber"
	case GelStatusGreen:
		return "green"
	default:
		return "none"
	}
}

type VariantType string

const (
	VariantSmall   VariantType = "small"
	VariantCNVLoss VariantType = "cnv_loss"
	VariantCNVGain VariantType = "cnv_gain"
	VariantCNVBoth VariantType = "cnv_both"
)

func (v VariantType) Valid() bool {
	switch v {
	case VariantSmall, VariantCNVLoss, VariantCNVGain, VariantCNVBoth:
		return true
	default:
		return false
	}
}

// Dosage sensitivity scores accepted for regions.
var dosageScores = map[string]bool{"": true, "0": true, "1": true, "2": true, "3": true, "30": true, "40": true}

type GeneData struct {
	HGNCID          string `gorm:"column:hgnc_id" json:"hgnc_id,omitempty"`
	GeneName        string `gorm:"column:name" json:"gene_name,omitempty"`
	EnsemblIDGRCh37 string `gorm:"column:ensembl_grch37" json:"ensembl_id_grch37,omitempty"`
	EnsemblIDGRCh38 string `gorm:"column:ensembl_grch38" json:"ensembl_id_grch38,omitempty"`
}

type STRData struct {
	Chromosome        string `gorm:"column:chromosome" json:"chromosome,omitempty"`
	RepeatedSequence  string `gorm:"column:repeated_sequence" json:"repeated_sequence,omitempty"`
	GRCh37Start       *int   `gorm:"column:grch37_start" json:"grch37_start,omitempty"`
	GRCh37End         *int   `gorm:"column:grch37_end" json:"grch37_end,omitempty"`
	GRCh38Start       *int   `gorm:"column:grch38_start" json:"grch38_start,omitempty"`
	GRCh38End         *int   `gorm:"column:grch38_end" json:"grch38_end,omitempty"`
	NormalRepeats     *int   `gorm:"column:normal_repeats" json:"normal_repeats,omitempty"`
	PathogenicRepeats *int   `gorm:"column:pathogenic_repeats" json:"pathogenic_repeats,omitempty"`
}

type RegionData struct {
	VerboseName               string      `gorm:"column:verbose_name" json:"verbose_name,omitempty"`
	Chromosome                string      `gorm:"column:chromosome" json:"chromosome,omitempty"`
	GRCh37Start               *int        `gorm:"column:grch37_start" json:"grch37_start,omitempty"`
	GRCh37End                 *int        `gorm:"column:grch37_end" json:"grch37_end,omitempty"`
	GRCh38Start               *int        `gorm:"column:grch38_start" json:"grch38_start,omitempty"`
	GRCh38End                 *int        `gorm:"column:grch38_end" json:"grch38_end,omitempty"`
	HaploinsufficiencyScore   string      `gorm:"column:haploinsufficiency_score" json:"haploinsufficiency_score,omitempty"`
	TriplosensitivityScore    string      `gorm:"column:triplosensitivity_score" json:"triplosensitivity_score,omitempty"`
	RequiredOverlapPercentage *int        `gorm:"column:required_overlap_percentage" json:"required_overlap_percentage,omitempty"`
	TypeOfVariants            VariantType `gorm:"column:type_of_variants" json:"type_of_variants,omitempty"`
}

// Entity is a gene, STR or region attached to one snapshot. The variant
// payload lives in the embedded struct matching EntityType; the others
// stay zero.
type Entity struct {
	ID                  uint                        `gorm:"primaryKey" json:"id"`
	PanelSnapshotID     uint                        `gorm:"column:panel_snapshot_id;not null;uniqueIndex:idx_entity_snapshot_name,priority:1" json:"panel_snapshot_id"`
	EntityType          EntityType                  `gorm:"column:entity_type;not null;uniqueIndex:idx_entity_snapshot_name,priority:2" json:"entity_type"`
	EntityName          string                      `gorm:"column:entity_name;not null;uniqueIndex:idx_entity_snapshot_name,priority:3;index" json:"entity_name"`
	SavedGelStatus      GelStatus                   `gorm:"column:saved_gel_status;not null;default:0;index" json:"saved_gel_status"`
	ModeOfInheritance   string                      `gorm:"column:mode_of_inheritance" json:"mode_of_inheritance,omitempty"`
	ModeOfPathogenicity string                      `gorm:"column:mode_of_pathogenicity" json:"mode_of_pathogenicity,omitempty"`
	Penetrance          string                      `gorm:"column:penetrance" json:"penetrance,omitempty"`
	Phenotypes          datatypes.JSONSlice[string] `gorm:"column:phenotypes" json:"phenotypes,omitempty"`
	Publications        datatypes.JSONSlice[string] `gorm:"column:publications" json:"publications,omitempty"`
	Tags                datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags,omitempty"`
	Gene                GeneData                    `gorm:"embedded;embeddedPrefix:gene_" json:"gene_data"`
	STR                 STRData                     `gorm:"embedded;embeddedPrefix:str_" json:"str_data"`
	Region              RegionData                  `gorm:"embedded;embeddedPrefix:region_" json:"region_data"`
	Evaluations         []*Evaluation               `gorm:"foreignKey:EntityID" json:"evaluations,omitempty"`
	CreatedAt           time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Entity) TableName() string { return "panel_entity" }

var ErrInvalidEntity = errors.New("invalid entity")

// Validate checks the common header and the payload for the entity type.
func (e *Entity) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: missing entity", ErrInvalidEntity)
	}
	if !e.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidEntity, e.EntityType)
	}
	if strings.TrimSpace(e.EntityName) == "" {
		return fmt.Errorf("%w: entity_name is required", ErrInvalidEntity)
	}
	if e.SavedGelStatus < GelStatusNone || e.SavedGelStatus > GelStatusGreen {
		return fmt.Errorf("%w: saved_gel_status out of range", ErrInvalidEntity)
	}
	switch e.EntityType {
	case EntitySTR:
		if strings.TrimSpace(e.STR.Chromosome) == "" || strings.TrimSpace(e.STR.RepeatedSequence) == "" {
			return fmt.Errorf("%w: STR requires chromosome and repeated_sequence", ErrInvalidEntity)
		}
		if err := validateRange("grch37", e.STR.GRCh37Start, e.STR.GRCh37End); err != nil {
			return err
		}
		if err := validateRange("grch38", e.STR.GRCh38Start, e.STR.GRCh38End); err != nil {
			return err
		}
	case EntityRegion:
		if strings.TrimSpace(e.Region.Chromosome) == "" {
			return fmt.Errorf("%w: region requires chromosome", ErrInvalidEntity)
		}
		if !e.Region.TypeOfVariants.Valid() {
			return fmt.Errorf("%w: unknown type_of_variants %q", ErrInvalidEntity, e.Region.TypeOfVariants)
		}
		if !dosageScores[e.Region.HaploinsufficiencyScore] || !dosageScores[e.Region.TriplosensitivityScore] {
			return fmt.Errorf("%w: invalid dosage sensitivity score", ErrInvalidEntity)
		}
		if err := validateRange("grch37", e.Region.GRCh37Start, e.Region.GRCh37End); err != nil {
			return err
		}
		if err := validateRange("grch38", e.Region.GRCh38Start, e.Region.GRCh38End); err != nil {
			return err
		}
	}
	return nil
}

func validateRange(build string, start, end *int) error {
	if (start == nil) != (end == nil) {
		return fmt.Errorf("%w: %s range needs both start and end", ErrInvalidEntity, build)
	}
	if start != nil && *start > *end {
		return fmt.Errorf("%w: %s range start after end", ErrInvalidEntity, build)
	}
	return nil
}

// Clone deep-copies the entity and its evaluations for snapshotID. Row ids
// are cleared so the copies insert as new rows.
func (e *Entity) Clone(snapshotID uint) *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.ID = 0
	out.PanelSnapshotID = snapshotID
	out.Phenotypes = cloneStrings(e.Phenotypes)
	out.Publications = cloneStrings(e.Publications)
	out.Tags = cloneStrings(e.Tags)
	out.STR = e.STR.clone()
	out.Region = e.Region.clone()
	out.Evaluations = make([]*Evaluation, 0, len(e.Evaluations))
	for _, ev := range e.Evaluations {
		if ev != nil {
			out.Evaluations = append(out.Evaluations, ev.Clone())
		}
	}
	return &out
}

func (d STRData) clone() STRData {
	d.GRCh37Start = cloneInt(d.GRCh37Start)
	d.GRCh37End = cloneInt(d.GRCh37End)
	d.GRCh38Start = cloneInt(d.GRCh38Start)
	d.GRCh38End = cloneInt(d.GRCh38End)
	d.NormalRepeats = cloneInt(d.NormalRepeats)
	d.PathogenicRepeats = cloneInt(d.PathogenicRepeats)
	return d
}

func (d RegionData) clone() RegionData {
	d.GRCh37Start = cloneInt(d.GRCh37Start)
	d.GRCh37End = cloneInt(d.GRCh37End)
	d.GRCh38Start = cloneInt(d.GRCh38Start)
	d.GRCh38End = cloneInt(d.GRCh38End)
	d.RequiredOverlapPercentage = cloneInt(d.RequiredOverlapPercentage)
	return d
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(in datatypes.JSONSlice[string]) datatypes.JSONSlice[string] {
	if in == nil {
		return nil
	}
	out := make(datatypes.JSONSlice[string], len(in))
	copy(out, in)
	return out
}
