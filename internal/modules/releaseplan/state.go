package releaseplan

import (
	"sort"

	"github.com/yungbote/panelapp-backend/internal/domain/panels"
)

// PanelState is the value view of an active snapshot that deployment
// commands operate on.
type PanelState struct {
	PanelID   uint               `json:"panel_id"`
	Name      string             `json:"name"`
	Version   panels.Version     `json:"version"`
	SignedOff *panels.Version    `json:"signed_off,omitempty"`
	Status    panels.PanelStatus `json:"status"`
	Types     []string           `json:"types,omitempty"`
	Comment   string             `json:"comment,omitempty"`
}

// StateOf builds the value view of snapshot s of panel p.
func StateOf(p *panels.Panel, s *panels.PanelSnapshot) PanelState {
	st := PanelState{
		Version: s.Version(),
		Comment: s.Comment,
		PanelID: s.PanelID,
	}
	if p != nil {
		st.PanelID = p.ID
		st.Name = p.Name
		st.Status = p.Status
		st.SignedOff = p.SignedOffVersion()
		st.Types = p.TypeSlugs()
		sort.Strings(st.Types)
	}
	return st
}

// MergeComment places comment above current, separated by a blank line.
// Either side may be empty.
func MergeComment(comment, current string) string {
	switch {
	case current != "" && comment != "":
		return comment + "\n\n" + current
	case current == "":
		return comment
	default:
		return current
	}
}

// Promote bumps the major version and merges comment into the current one.
func (s PanelState) Promote(comment string) PanelState {
	s.Comment = MergeComment(comment, s.Comment)
	s.Version = s.Version.IncrementMajor()
	return s
}

// SignOff records the current version as signed off, then bumps minor.
func (s PanelState) SignOff() PanelState {
	signed := s.Version
	s.SignedOff = &signed
	s.Version = s.Version.IncrementMinor()
	return s
}

// Command is one step of a release panel deployment.
type Command interface {
	Apply(PanelState) PanelState
	Name() string
}

type Promote struct {
	Comment string
}

func (c Promote) Apply(s PanelState) PanelState { return s.Promote(c.Comment) }
func (Promote) Name() string                     { return "promote" }

type SignOff struct{}

func (SignOff) Apply(s PanelState) PanelState { return s.SignOff() }
func (SignOff) Name() string                   { return "sign_off" }
