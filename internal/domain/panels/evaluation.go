package panels

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Rating string

const (
	RatingNone  Rating = ""
	RatingGreen Rating = "GREEN"
	RatingAmber Rating = "AMBER"
	RatingRed   Rating = "RED"
)

// ParseRating accepts ratings case-insensitively; blank means no rating.
func ParseRating(raw string) (Rating, bool) {
	switch Rating(strings.ToUpper(strings.TrimSpace(raw))) {
	case RatingNone:
		return RatingNone, true
	case RatingGreen:
		return RatingGreen, true
	case RatingAmber:
		return RatingAmber, true
	case RatingRed:
		return RatingRed, true
	default:
		return RatingNone, false
	}
}

// Evaluation is one reviewer's opinion on one entity in one snapshot.
type Evaluation struct {
	ID                  uint                        `gorm:"primaryKey" json:"id"`
	EntityID            uint                        `gorm:"column:entity_id;not null;uniqueIndex:idx_evaluation_entity_reviewer,priority:1" json:"entity_id"`
	Reviewer            string                      `gorm:"column:reviewer;not null;uniqueIndex:idx_evaluation_entity_reviewer,priority:2" json:"reviewer"`
	Rating              Rating                      `gorm:"column:rating" json:"rating,omitempty"`
	ModeOfInheritance   string                      `gorm:"column:mode_of_inheritance" json:"mode_of_inheritance,omitempty"`
	ModeOfPathogenicity string                      `gorm:"column:mode_of_pathogenicity" json:"mode_of_pathogenicity,omitempty"`
	Publications        datatypes.JSONSlice[string] `gorm:"column:publications" json:"publications,omitempty"`
	Phenotypes          datatypes.JSONSlice[string] `gorm:"column:phenotypes" json:"phenotypes,omitempty"`
	Comments            datatypes.JSONSlice[string] `gorm:"column:comments" json:"comments,omitempty"`
	CurrentDiagnostic   bool                        `gorm:"column:current_diagnostic;not null;default:false" json:"current_diagnostic"`
	ClinicallyRelevant  bool                        `gorm:"column:clinically_relevant;not null;default:false" json:"clinically_relevant"`
	CreatedAt           time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Evaluation) TableName() string { return "evaluation" }

func (ev *Evaluation) Clone() *Evaluation {
	if ev == nil {
		return nil
	}
	out := *ev
	out.ID = 0
	out.EntityID = 0
	out.Publications = cloneStrings(ev.Publications)
	out.Phenotypes = cloneStrings(ev.Phenotypes)
	out.Comments = cloneStrings(ev.Comments)
	return &out
}
