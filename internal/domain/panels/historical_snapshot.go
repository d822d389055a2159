package panels

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SnapshotSchemaVersion tags the layout of HistoricalSnapshot.Data.
const SnapshotSchemaVersion = "1.0"

// ChildRef pins a child snapshot inside a frozen super-panel.
type ChildRef struct {
	PanelID uint    `json:"panel_id"`
	Name    string  `json:"name"`
	Version Version `json:"version"`
}

// SnapshotData is the frozen serialisation stored on a HistoricalSnapshot.
type SnapshotData struct {
	PanelID     uint        `json:"panel_id"`
	Name        string      `json:"name"`
	Status      PanelStatus `json:"status"`
	Types       []string    `json:"types,omitempty"`
	Version     Version     `json:"version"`
	Level4Title Level4Title `json:"level4title"`
	Comment     string      `json:"comment,omitempty"`
	ModifiedBy  string      `json:"modified_by,omitempty"`
	ChildPanels []ChildRef  `json:"child_panels,omitempty"`
	Entities    []*Entity   `json:"entities"`
	CreatedAt   time.Time   `json:"created_at"`
}

// HistoricalSnapshot is an append-only frozen copy of a PanelSnapshot,
// unique per (panel, major, minor).
type HistoricalSnapshot struct {
	ID            uint                             `gorm:"primaryKey" json:"id"`
	PanelID       uint                             `gorm:"column:panel_id;not null;uniqueIndex:idx_historical_snapshot_version,priority:1" json:"panel_id"`
	MajorVersion  int                              `gorm:"column:major_version;not null;uniqueIndex:idx_historical_snapshot_version,priority:2" json:"major_version"`
	MinorVersion  int                              `gorm:"column:minor_version;not null;uniqueIndex:idx_historical_snapshot_version,priority:3" json:"minor_version"`
	Reason        string                           `gorm:"column:reason;type:text" json:"reason,omitempty"`
	SchemaVersion string                           `gorm:"column:schema_version;not null" json:"schema_version"`
	Data          datatypes.JSONType[SnapshotData] `gorm:"column:data" json:"data"`
	SignedOffDate *time.Time                       `gorm:"column:signed_off_date;index" json:"signed_off_date,omitempty"`
	CreatedAt     time.Time                        `gorm:"not null;index" json:"created_at"`
}

func (HistoricalSnapshot) TableName() string { return "historical_snapshot" }

func (h *HistoricalSnapshot) Version() Version {
	return Version{Major: h.MajorVersion, Minor: h.MinorVersion}
}

// NewHistoricalSnapshot freezes s. entities is the effective entity set,
// which differs from s.Entities for super-panels.
func NewHistoricalSnapshot(panel *Panel, s *PanelSnapshot, entities []*Entity) *HistoricalSnapshot {
	data := SnapshotData{
		PanelID:     s.PanelID,
		Version:     s.Version(),
		Level4Title: s.Level4Title,
		Comment:     s.Comment,
		ModifiedBy:  s.ModifiedBy,
		Entities:    entities,
		CreatedAt:   s.CreatedAt,
	}
	if panel != nil {
		data.Name = panel.Name
		data.Status = panel.Status
		data.Types = panel.TypeSlugs()
	}
	if data.Entities == nil {
		data.Entities = []*Entity{}
	}
	for _, c := range s.ChildPanels {
		if c == nil {
			continue
		}
		ref := ChildRef{PanelID: c.PanelID, Version: c.Version(), Name: c.Level4Title.Name}
		if c.Panel != nil {
			ref.Name = c.Panel.Name
		}
		data.ChildPanels = append(data.ChildPanels, ref)
	}
	return &HistoricalSnapshot{
		PanelID:       s.PanelID,
		MajorVersion:  s.MajorVersion,
		MinorVersion:  s.MinorVersion,
		Reason:        s.Comment,
		SchemaVersion: SnapshotSchemaVersion,
		Data:          datatypes.NewJSONType(data),
	}
}

var tsvHeader = []string{
	"Entity Name",
	"Entity type",
	"Gene Symbol",
	"Sources(; separated)",
	"Level4",
	"Level3",
	"Level2",
	"Model_Of_Inheritance",
	"Phenotypes",
	"Omim",
	"Orphanet",
	"HPO",
	"Publications",
	"Description",
	"Flagged",
	"GEL_Status",
	"UserRatings_Green_amber_red",
	"version",
	"ready",
	"Mode of pathogenicity",
	"EnsemblId(GRch37)",
	"EnsemblId(GRch38)",
	"HGNC",
	"Position Chromosome",
	"Position GRCh37 Start",
	"Position GRCh37 End",
	"Position GRCh38 Start",
	"Position GRCh38 End",
	"STR Repeated Sequence",
	"STR Normal Repeats",
	"STR Pathogenic Repeats",
	"Region Haploinsufficiency Score",
	"Region Triplosensitivity Score",
	"Region Required Overlap Percentage",
	"Region Variant Type",
	"Region Verbose Name",
}

// WriteTSV renders the frozen entity list, one row per entity.
func (h *HistoricalSnapshot) WriteTSV(w io.Writer) error {
	data := h.Data.Data()
	tw := csv.NewWriter(w)
	tw.Comma = '\t'
	if err := tw.Write(tsvHeader); err != nil {
		return err
	}
	version := h.Version().String()
	for _, e := range data.Entities {
		if e == nil {
			continue
		}
		var green, amber, red int
		for _, ev := range e.Evaluations {
			switch ev.Rating {
			case RatingGreen:
				green++
			case RatingAmber:
				amber++
			case RatingRed:
				red++
			}
		}
		symbol := ""
		if e.EntityType == EntityGene {
			symbol = e.EntityName
		}
		chromosome, g37s, g37e, g38s, g38e := "", "", "", "", ""
		switch e.EntityType {
		case EntitySTR:
			chromosome = e.STR.Chromosome
			g37s, g37e = intCell(e.STR.GRCh37Start), intCell(e.STR.GRCh37End)
			g38s, g38e = intCell(e.STR.GRCh38Start), intCell(e.STR.GRCh38End)
		case EntityRegion:
			chromosome = e.Region.Chromosome
			g37s, g37e = intCell(e.Region.GRCh37Start), intCell(e.Region.GRCh37End)
			g38s, g38e = intCell(e.Region.GRCh38Start), intCell(e.Region.GRCh38End)
		}
		row := []string{
			e.EntityName,
			string(e.EntityType),
			symbol,
			strings.Join(e.Tags, ";"),
			data.Level4Title.Name,
			data.Level4Title.Level3Title,
			data.Level4Title.Level2Title,
			e.ModeOfInheritance,
			strings.Join(e.Phenotypes, ";"),
			strings.Join(data.Level4Title.OMIM, ";"),
			strings.Join(data.Level4Title.Orphanet, ";"),
			strings.Join(data.Level4Title.HPO, ";"),
			strings.Join(e.Publications, ";"),
			data.Level4Title.Description,
			strconv.FormatBool(e.SavedGelStatus == GelStatusNone),
			strconv.Itoa(int(e.SavedGelStatus)),
			strconv.Itoa(green) + ";" + strconv.Itoa(amber) + ";" + strconv.Itoa(red),
			version,
			strconv.FormatBool(e.SavedGelStatus >= GelStatusAmber),
			e.ModeOfPathogenicity,
			e.Gene.EnsemblIDGRCh37,
			e.Gene.EnsemblIDGRCh38,
			e.Gene.HGNCID,
			chromosome,
			g37s,
			g37e,
			g38s,
			g38e,
			e.STR.RepeatedSequence,
			intCell(e.STR.NormalRepeats),
			intCell(e.STR.PathogenicRepeats),
			e.Region.HaploinsufficiencyScore,
			e.Region.TriplosensitivityScore,
			intCell(e.Region.RequiredOverlapPercentage),
			string(e.Region.TypeOfVariants),
			e.Region.VerboseName,
		}
		if err := tw.Write(row); err != nil {
			return err
		}
	}
	tw.Flush()
	return tw.Error()
}

func intCell(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
