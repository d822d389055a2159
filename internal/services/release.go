package services

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/modules/releaseplan"
	"github.com/yungbote/panelapp-backend/internal/observability"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type CreateReleaseInput struct {
	Name             string `json:"name" validate:"required,notblank,max=255"`
	PromotionComment string `json:"promotion_comment" validate:"max=10000"`
}

type UpdateReleaseInput struct {
	Name             *string `json:"name" validate:"omitempty,notblank,max=255"`
	PromotionComment *string `json:"promotion_comment" validate:"omitempty,max=10000"`
}

// ReleasePanelView is a planned row with the versions it had or will have.
// Before deployment the After fields are projected; afterwards they are
// read from the deployment record.
type ReleasePanelView struct {
	*types.ReleasePanel
	ActiveVersion   string `json:"active_version,omitempty"`
	SignedOffBefore string `json:"signed_off_before,omitempty"`
	SignedOffAfter  string `json:"signed_off_after,omitempty"`
	VersionAfter    string `json:"version_after,omitempty"`
	CommentAfter    string `json:"comment_after,omitempty"`
}

type ReleaseService interface {
	Create(dbc dbctx.Context, in CreateReleaseInput) (*types.Release, error)
	Update(dbc dbctx.Context, releaseID uint, in UpdateReleaseInput) (*types.Release, error)
	Get(dbc dbctx.Context, releaseID uint) (*types.Release, error)
	List(dbc dbctx.Context, filter repos.ReleaseFilter) ([]*repos.ReleaseSummary, error)

	ImportPlan(dbc dbctx.Context, releaseID uint, r io.Reader) (int, error)
	ExportPlan(dbc dbctx.Context, releaseID uint, w io.Writer) (string, error)
	Simulate(dbc dbctx.Context, releaseID uint) ([]releaseplan.Outcome, error)

	SetReleasePanel(dbc dbctx.Context, releaseID, panelID uint, promote bool) (*types.ReleasePanel, error)
	RemoveReleasePanel(dbc dbctx.Context, releaseID, panelID uint) error
	ListReleasePanels(dbc dbctx.Context, releaseID uint, filter repos.ReleasePanelFilter) ([]*ReleasePanelView, error)
}

type releaseService struct {
	db            *gorm.DB
	log           *logger.Logger
	releases      repos.ReleaseRepo
	releasePanels repos.ReleasePanelRepo
	deployments   repos.ReleaseDeploymentRepo
	panels        repos.PanelRepo
	snapshots     SnapshotService
	notify        ReleaseNotifier
	now           func() time.Time
}

func NewReleaseService(
	db *gorm.DB,
	baseLog *logger.Logger,
	releaseRepo repos.ReleaseRepo,
	releasePanelRepo repos.ReleasePanelRepo,
	deploymentRepo repos.ReleaseDeploymentRepo,
	panelRepo repos.PanelRepo,
	snapshots SnapshotService,
	notify ReleaseNotifier,
) ReleaseService {
	if notify == nil {
		notify = NewReleaseNotifier(nil)
	}
	return &releaseService{
		db:            db,
		log:           baseLog.With("service", "ReleaseService"),
		releases:      releaseRepo,
		releasePanels: releasePanelRepo,
		deployments:   deploymentRepo,
		panels:        panelRepo,
		snapshots:     snapshots,
		notify:        notify,
		now:           time.Now,
	}
}

func (s *releaseService) Create(dbc dbctx.Context, in CreateReleaseInput) (*types.Release, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput("invalid_release", in); err != nil {
		return nil, err
	}
	if err := releaseplan.CompileTemplate(in.PromotionComment); err != nil {
		return nil, err
	}
	dbc = readDBC(s.db, dbc)
	existing, err := s.releases.GetByName(dbc, in.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, releases.ErrReleaseExists
	}
	rel := &types.Release{Name: in.Name, PromotionComment: in.PromotionComment}
	if err := s.releases.Create(dbc, rel); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, releases.ErrReleaseExists
		}
		return nil, fmt.Errorf("create release: %w", err)
	}
	s.log.Info("Release created", "release_id", rel.ID, "name", rel.Name)
	return rel, nil
}

func (s *releaseService) Update(dbc dbctx.Context, releaseID uint, in UpdateReleaseInput) (*types.Release, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	if err := validateInput("invalid_release", in); err != nil {
		return nil, err
	}
	if in.PromotionComment != nil {
		if err := releaseplan.CompileTemplate(*in.PromotionComment); err != nil {
			return nil, err
		}
	}
	var out *types.Release
	_, err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		rel, err := s.lockEditable(dbc, releaseID)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{"updated_at": s.now()}
		if in.Name != nil && *in.Name != rel.Name {
			other, err := s.releases.GetByName(dbc, *in.Name)
			if err != nil {
				return err
			}
			if other != nil {
				return releases.ErrReleaseExists
			}
			updates["name"] = *in.Name
			rel.Name = *in.Name
		}
		if in.PromotionComment != nil {
			updates["promotion_comment"] = *in.PromotionComment
			rel.PromotionComment = *in.PromotionComment
		}
		if err := s.releases.UpdateFields(dbc, releaseID, updates); err != nil {
			return fmt.Errorf("update release: %w", err)
		}
		out = rel
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockEditable takes the release lock and rejects releases that already
// have a deployment record.
func (s *releaseService) lockEditable(dbc dbctx.Context, releaseID uint) (*types.Release, error) {
	rel, err := s.releases.LockForDeploy(dbc, releaseID)
	if errors.Is(err, releases.ErrReleaseLocked) {
		observability.Current().IncLockContention("release_edit")
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, releases.ErrReleaseNotFound
	}
	dep, err := s.deployments.GetByRelease(dbc, releaseID)
	if err != nil {
		return nil, err
	}
	if dep != nil {
		return nil, releases.ErrReleaseDeployed
	}
	return rel, nil
}

func (s *releaseService) Get(dbc dbctx.Context, releaseID uint) (*types.Release, error) {
	rel, err := s.releases.GetByID(readDBC(s.db, dbc), releaseID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, releases.ErrReleaseNotFound
	}
	return rel, nil
}

func (s *releaseService) List(dbc dbctx.Context, filter repos.ReleaseFilter) ([]*repos.ReleaseSummary, error) {
	return s.releases.List(readDBC(s.db, dbc), filter)
}

// ImportPlan replaces the whole plan of a release with the rows of r. The
// file is validated completely before anything is written.
func (s *releaseService) ImportPlan(dbc dbctx.Context, releaseID uint, r io.Reader) (int, error) {
	rel, err := s.Get(dbc, releaseID)
	if err != nil {
		return 0, err
	}
	if rel.Deployment != nil {
		observability.Current().IncPlanImport("deployed")
		return 0, releases.ErrReleaseDeployed
	}
	rows, err := releaseplan.ParsePlan(r)
	if err != nil {
		observability.Current().IncPlanImport("invalid")
		return 0, err
	}

	owned, err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		if _, err := s.lockEditable(dbc, releaseID); err != nil {
			return err
		}
		ids := make([]uint, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.PanelID)
		}
		existing, err := s.panels.ExistingIDs(dbc, ids)
		if err != nil {
			return err
		}
		var rowErrs []error
		for _, row := range rows {
			if !existing[row.PanelID] {
				rowErrs = append(rowErrs, releaseplan.NewRowError(row.Number, "Panel does not exist."))
			}
		}
		if len(rowErrs) > 0 {
			return &releaseplan.ImportError{Errors: rowErrs}
		}
		if err := s.releasePanels.DeleteByRelease(dbc, releaseID); err != nil {
			return fmt.Errorf("clear plan: %w", err)
		}
		planned := make([]*types.ReleasePanel, 0, len(rows))
		for _, row := range rows {
			planned = append(planned, &types.ReleasePanel{ReleaseID: releaseID, PanelID: row.PanelID, Promote: row.Promote})
		}
		if err := s.releasePanels.Create(dbc, planned); err != nil {
			return fmt.Errorf("store plan: %w", err)
		}
		return nil
	})
	if err != nil {
		outcome := "error"
		var ie *releaseplan.ImportError
		switch {
		case errors.As(err, &ie):
			outcome = "invalid"
		case errors.Is(err, releases.ErrReleaseLocked):
			outcome = "locked"
		case errors.Is(err, releases.ErrReleaseDeployed):
			outcome = "deployed"
		}
		observability.Current().IncPlanImport(outcome)
		return 0, err
	}
	observability.Current().IncPlanImport("imported")
	s.log.Info("Release plan imported", "release_id", releaseID, "rows", len(rows))
	if owned {
		s.notify.PlanImported(rel, len(rows))
	}
	return len(rows), nil
}

// planned pairs every release row with the state of its panel's active
// snapshot, in panel id order.
func (s *releaseService) planned(dbc dbctx.Context, rows []*types.ReleasePanel) ([]releaseplan.PlannedPanel, error) {
	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.PanelID)
	}
	active, err := s.snapshots.ActiveSnapshots(dbc, ids)
	if err != nil {
		return nil, err
	}
	out := make([]releaseplan.PlannedPanel, 0, len(rows))
	for _, row := range rows {
		snap := active[row.PanelID]
		if snap == nil {
			return nil, fmt.Errorf("%w: %d", panels.ErrPanelNotFound, row.PanelID)
		}
		panel := row.Panel
		if panel == nil {
			panel = snap.Panel
		}
		out = append(out, releaseplan.PlannedPanel{State: releaseplan.StateOf(panel, snap), Promote: row.Promote})
	}
	return out, nil
}

func (s *releaseService) Simulate(dbc dbctx.Context, releaseID uint) ([]releaseplan.Outcome, error) {
	dbc = readDBC(s.db, dbc)
	rel, err := s.Get(dbc, releaseID)
	if err != nil {
		return nil, err
	}
	rows, err := s.releasePanels.ListByRelease(dbc, releaseID, repos.ReleasePanelFilter{})
	if err != nil {
		return nil, err
	}
	planned, err := s.planned(dbc, rows)
	if err != nil {
		return nil, err
	}
	return releaseplan.Simulate(s.now(), rel.PromotionComment, planned)
}

// ExportPlan writes the plan CSV and returns its file name. A finished
// deployment is exported from its records; anything else is projected.
func (s *releaseService) ExportPlan(dbc dbctx.Context, releaseID uint, w io.Writer) (string, error) {
	dbc = readDBC(s.db, dbc)
	now := s.now()
	rel, err := s.Get(dbc, releaseID)
	if err != nil {
		return "", err
	}
	rows, err := s.releasePanels.ListByRelease(dbc, releaseID, repos.ReleasePanelFilter{})
	if err != nil {
		return "", err
	}
	deployed := rel.Deployment.State(now) == releases.DeploymentFinished

	out := make([]releaseplan.ExportRow, 0, len(rows))
	if deployed {
		for _, row := range rows {
			er := releaseplan.ExportRow{PanelID: row.PanelID, Promote: row.Promote}
			if d := row.Deployment; d != nil {
				er.SignedOffBefore = versionOf(d.SignedOffBefore)
				er.SignedOffAfter = versionOf(d.SignedOffAfter)
				er.CommentBefore = d.CommentBefore
				er.CommentAfter = d.CommentAfter
			}
			out = append(out, er)
		}
	} else {
		planned, err := s.planned(dbc, rows)
		if err != nil {
			return "", err
		}
		outcomes, err := releaseplan.Simulate(now, rel.PromotionComment, planned)
		if err != nil {
			return "", err
		}
		for i, row := range rows {
			er := releaseplan.ExportRow{
				PanelID:        row.PanelID,
				Promote:        row.Promote,
				SignedOffAfter: outcomes[i].SignedOff.String(),
				CommentAfter:   outcomes[i].Comment,
			}
			if so := planned[i].State.SignedOff; so != nil {
				er.SignedOffBefore = so.String()
			}
			out = append(out, er)
		}
	}
	if err := releaseplan.WriteExport(w, out); err != nil {
		return "", err
	}
	return releaseplan.ExportFilename(rel.Name, deployed, now), nil
}

func versionOf(h *types.HistoricalSnapshot) string {
	if h == nil {
		return ""
	}
	return h.Version().String()
}

func (s *releaseService) SetReleasePanel(dbc dbctx.Context, releaseID, panelID uint, promote bool) (*types.ReleasePanel, error) {
	var out *types.ReleasePanel
	_, err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		if _, err := s.lockEditable(dbc, releaseID); err != nil {
			return err
		}
		existing, err := s.panels.ExistingIDs(dbc, []uint{panelID})
		if err != nil {
			return err
		}
		if !existing[panelID] {
			return fmt.Errorf("%w: %d", panels.ErrPanelNotFound, panelID)
		}
		row := &types.ReleasePanel{ReleaseID: releaseID, PanelID: panelID, Promote: promote}
		if err := s.releasePanels.Upsert(dbc, row); err != nil {
			return fmt.Errorf("save release panel: %w", err)
		}
		out, err = s.releasePanels.Get(dbc, releaseID, panelID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *releaseService) RemoveReleasePanel(dbc dbctx.Context, releaseID, panelID uint) error {
	_, err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		if _, err := s.lockEditable(dbc, releaseID); err != nil {
			return err
		}
		deleted, err := s.releasePanels.Delete(dbc, releaseID, panelID)
		if err != nil {
			return err
		}
		if !deleted {
			return releases.ErrReleasePanelNotFound
		}
		return nil
	})
	return err
}

func (s *releaseService) ListReleasePanels(dbc dbctx.Context, releaseID uint, filter repos.ReleasePanelFilter) ([]*ReleasePanelView, error) {
	dbc = readDBC(s.db, dbc)
	rel, err := s.Get(dbc, releaseID)
	if err != nil {
		return nil, err
	}
	rows, err := s.releasePanels.ListByRelease(dbc, releaseID, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*ReleasePanelView, 0, len(rows))
	for _, row := range rows {
		views = append(views, &ReleasePanelView{ReleasePanel: row})
	}

	now := s.now()
	if rel.Deployment.State(now) == releases.DeploymentFinished {
		for _, v := range views {
			if d := v.Deployment; d != nil {
				v.SignedOffBefore = versionOf(d.SignedOffBefore)
				v.SignedOffAfter = versionOf(d.SignedOffAfter)
				v.CommentAfter = d.CommentAfter
			}
		}
		return views, nil
	}

	planned, err := s.planned(dbc, rows)
	if err != nil {
		return nil, err
	}
	outcomes, err := releaseplan.Simulate(now, rel.PromotionComment, planned)
	if err != nil {
		return nil, err
	}
	for i, v := range views {
		v.ActiveVersion = planned[i].State.Version.String()
		if so := planned[i].State.SignedOff; so != nil {
			v.SignedOffBefore = so.String()
		}
		v.SignedOffAfter = outcomes[i].SignedOff.String()
		v.VersionAfter = outcomes[i].After.Version.String()
		v.CommentAfter = outcomes[i].Comment
	}
	return views, nil
}
