package releaseplan

import (
	"time"

	"github.com/yungbote/panelapp-backend/internal/domain/panels"
)

// PlannedPanel is one release row together with the panel state it would
// be deployed from.
type PlannedPanel struct {
	State   PanelState
	Promote bool
}

// Outcome is the projected result of deploying one PlannedPanel.
type Outcome struct {
	Before    PanelState
	After     PanelState
	SignedOff panels.Version
	// Rendered promotion comment. Empty when the row is not promoted.
	Comment string
}

// Commands returns the pipeline for one row: an optional Promote carrying
// the rendered template, then SignOff. The template sees the version the
// panel will have once promoted.
func Commands(tmpl string, now time.Time, current panels.Version, promote bool) ([]Command, string, error) {
	cmds := make([]Command, 0, 2)
	var rendered string
	if promote {
		var err error
		rendered, err = RenderPromotionComment(tmpl, now, current.IncrementMajor())
		if err != nil {
			return nil, "", err
		}
		cmds = append(cmds, Promote{Comment: rendered})
	}
	return append(cmds, SignOff{}), rendered, nil
}

// Deploy runs the pipeline for a single row over values.
func Deploy(tmpl string, now time.Time, p PlannedPanel) (Outcome, error) {
	cmds, rendered, err := Commands(tmpl, now, p.State.Version, p.Promote)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Before: p.State, Comment: rendered}
	st := p.State
	for _, cmd := range cmds {
		st = cmd.Apply(st)
		if _, ok := cmd.(SignOff); ok {
			out.SignedOff = *st.SignedOff
		}
	}
	out.After = st
	return out, nil
}

// Simulate projects a whole release without touching storage. Outcomes are
// returned in input order.
func Simulate(now time.Time, promotionComment string, planned []PlannedPanel) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(planned))
	for _, p := range planned {
		out, err := Deploy(promotionComment, now, p)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
