package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/modules/releaseplan"
	"github.com/yungbote/panelapp-backend/internal/observability"
	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type IncrementOptions struct {
	Major   bool
	User    string
	Comment string
	// Re-pin every super-panel whose active snapshot holds the prior
	// snapshot of this panel.
	IncludeSuperPanels bool
}

type CreatePanelInput struct {
	Name        string             `json:"name" validate:"required,notblank,max=255"`
	Status      panels.PanelStatus `json:"status" validate:"omitempty,panelstatus"`
	Types       []string           `json:"types" validate:"omitempty,dive,notblank"`
	Level4Title panels.Level4Title `json:"level4title"`
	Comment     string             `json:"comment"`
	User        string             `json:"-"`
}

// UpdatePanelInput changes panel metadata. Nil fields are left alone.
type UpdatePanelInput struct {
	Name        *string             `json:"name" validate:"omitempty,notblank,max=255"`
	Status      *panels.PanelStatus `json:"status" validate:"omitempty,panelstatus"`
	Types       *[]string           `json:"types"`
	Level4Title *panels.Level4Title `json:"level4title"`
	Comment     string              `json:"comment"`
	User        string              `json:"-"`
}

// SignOffResult is the archived version that was signed off together with
// the snapshot that replaced it.
type SignOffResult struct {
	SignedOff *types.HistoricalSnapshot
	Snapshot  *types.PanelSnapshot
}

type SnapshotService interface {
	CreatePanel(dbc dbctx.Context, in CreatePanelInput) (*types.PanelSnapshot, error)
	GetPanel(dbc dbctx.Context, panelID uint) (*types.Panel, error)
	ListPanels(dbc dbctx.Context, filter repos.PanelFilter) ([]*types.Panel, error)
	ListPanelTypes(dbc dbctx.Context) ([]*types.PanelType, error)
	UpsertPanelTypes(dbc dbctx.Context, rows []*types.PanelType) error

	ActiveSnapshot(dbc dbctx.Context, panelID uint) (*types.PanelSnapshot, error)
	ActiveSnapshots(dbc dbctx.Context, panelIDs []uint) (map[uint]*types.PanelSnapshot, error)
	EffectiveEntities(dbc dbctx.Context, s *types.PanelSnapshot) ([]*types.Entity, error)

	Increment(dbc dbctx.Context, panelID uint, opts IncrementOptions) (*types.PanelSnapshot, error)
	UpdatePanel(dbc dbctx.Context, panelID uint, in UpdatePanelInput) (*types.PanelSnapshot, error)
	AddEntity(dbc dbctx.Context, panelID uint, e *types.Entity, user string) (*types.PanelSnapshot, error)
	UpdateEntity(dbc dbctx.Context, panelID uint, e *types.Entity, user string) (*types.PanelSnapshot, error)
	RemoveEntity(dbc dbctx.Context, panelID uint, entityType panels.EntityType, name string, user string) (*types.PanelSnapshot, error)
	RemoveEntities(dbc dbctx.Context, panelID uint, entityType panels.EntityType, names []string, user string) (*types.PanelSnapshot, error)
	SubmitEvaluation(dbc dbctx.Context, panelID uint, entityType panels.EntityType, name string, ev *types.Evaluation) (*types.PanelSnapshot, error)
	SetChildPanels(dbc dbctx.Context, panelID uint, childPanelIDs []uint, user string) (*types.PanelSnapshot, error)

	ListVersions(dbc dbctx.Context, panelID uint) ([]*types.HistoricalSnapshot, error)
	GetVersion(dbc dbctx.Context, panelID uint, v types.Version) (*types.HistoricalSnapshot, error)

	SignOff(dbc dbctx.Context, panelID uint, user string, at time.Time) (*SignOffResult, error)
	Promote(dbc dbctx.Context, panelID uint, comment string, user string) (*types.PanelSnapshot, error)
}

type snapshotService struct {
	db         *gorm.DB
	log        *logger.Logger
	panels     repos.PanelRepo
	panelTypes repos.PanelTypeRepo
	snapshots  repos.PanelSnapshotRepo
	entities   repos.EntityRepo
	historical repos.HistoricalSnapshotRepo
	notify     ReleaseNotifier
}

func NewSnapshotService(
	db *gorm.DB,
	baseLog *logger.Logger,
	panelRepo repos.PanelRepo,
	panelTypeRepo repos.PanelTypeRepo,
	snapshotRepo repos.PanelSnapshotRepo,
	entityRepo repos.EntityRepo,
	historicalRepo repos.HistoricalSnapshotRepo,
	notify ReleaseNotifier,
) SnapshotService {
	if notify == nil {
		notify = NewReleaseNotifier(nil)
	}
	return &snapshotService{
		db:         db,
		log:        baseLog.With("service", "SnapshotService"),
		panels:     panelRepo,
		panelTypes: panelTypeRepo,
		snapshots:  snapshotRepo,
		entities:   entityRepo,
		historical: historicalRepo,
		notify:     notify,
	}
}

// change describes one increment. Hooks run in order check, archived,
// prepare, apply; any error aborts the surrounding transaction.
type change struct {
	opts IncrementOptions
	// Non-nil replaces the child panels of the new snapshot.
	children func(prior *types.PanelSnapshot) []*types.PanelSnapshot
	check    func(dbc dbctx.Context, prior *types.PanelSnapshot) error
	archived func(dbc dbctx.Context, prior *types.PanelSnapshot, hist *types.HistoricalSnapshot) error
	prepare  func(prior, next *types.PanelSnapshot)
	apply    func(dbc dbctx.Context, next *types.PanelSnapshot) error
}

type bumpResult struct {
	prior   *types.PanelSnapshot
	next    *types.PanelSnapshot
	archive *types.HistoricalSnapshot
	// Every snapshot written, cascaded super-panels included.
	created []*types.PanelSnapshot
}

var errNotPinned = errors.New("super panel no longer pins the child snapshot")

// bump must run inside a transaction.
func (s *snapshotService) bump(dbc dbctx.Context, panelID uint, ch change) (*bumpResult, error) {
	locked, err := s.panels.LockByID(dbc, panelID)
	if err != nil {
		return nil, fmt.Errorf("lock panel: %w", err)
	}
	if locked == nil {
		return nil, panels.ErrPanelNotFound
	}
	prior, err := s.snapshots.GetActive(dbc, panelID)
	if err != nil {
		return nil, fmt.Errorf("load active snapshot: %w", err)
	}
	if prior == nil {
		return nil, panels.ErrPanelNotFound
	}
	own, err := s.entities.ListBySnapshot(dbc, prior.ID)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	prior.Entities = own

	if ch.check != nil {
		if err := ch.check(dbc, prior); err != nil {
			return nil, err
		}
	}

	effective := own
	if prior.IsSuperPanel() {
		if effective, err = s.EffectiveEntities(dbc, prior); err != nil {
			return nil, err
		}
	}
	archive, err := s.historical.GetOrCreate(dbc, panels.NewHistoricalSnapshot(prior.Panel, prior, effective))
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", prior.Version(), err)
	}
	if ch.archived != nil {
		if err := ch.archived(dbc, prior, archive); err != nil {
			return nil, err
		}
	}

	next := &types.PanelSnapshot{
		PanelID:     prior.PanelID,
		Level4Title: prior.Level4Title.Clone(),
		Comment:     ch.opts.Comment,
		ModifiedBy:  ch.opts.User,
		ChildPanels: prior.ChildPanels,
	}
	if ch.children != nil {
		next.ChildPanels = ch.children(prior)
	}
	if ch.opts.Major {
		next.SetVersion(prior.Version().IncrementMajor())
	} else {
		next.SetVersion(prior.Version().IncrementMinor())
	}
	if ch.prepare != nil {
		ch.prepare(prior, next)
	}
	if err := s.snapshots.Create(dbc, next); err != nil {
		return nil, fmt.Errorf("create snapshot %s: %w", next.Version(), err)
	}

	if !next.IsSuperPanel() && len(own) > 0 {
		clones := make([]*types.Entity, 0, len(own))
		for _, e := range own {
			clones = append(clones, e.Clone(next.ID))
		}
		if err := s.entities.Create(dbc, clones); err != nil {
			return nil, fmt.Errorf("copy entities: %w", err)
		}
		next.Entities = clones
	}
	if ch.apply != nil {
		if err := ch.apply(dbc, next); err != nil {
			return nil, err
		}
	}
	next.Panel = prior.Panel
	observability.Current().IncSnapshotIncrement(ch.opts.Major)

	res := &bumpResult{prior: prior, next: next, archive: archive, created: []*types.PanelSnapshot{next}}
	if ch.opts.IncludeSuperPanels && !prior.IsSuperPanel() {
		cascaded, err := s.cascade(dbc, prior, next, ch.opts.User)
		if err != nil {
			return nil, err
		}
		res.created = append(res.created, cascaded...)
	}
	return res, nil
}

// cascade re-pins next in every super-panel whose active snapshot holds
// prior.
func (s *snapshotService) cascade(dbc dbctx.Context, prior, next *types.PanelSnapshot, user string) ([]*types.PanelSnapshot, error) {
	parentIDs, err := s.snapshots.ListParentIDs(dbc, prior.ID)
	if err != nil {
		return nil, fmt.Errorf("list super panels: %w", err)
	}
	seen := map[uint]bool{}
	var created []*types.PanelSnapshot
	for _, id := range parentIDs {
		parent, err := s.snapshots.GetByID(dbc, id)
		if err != nil {
			return nil, err
		}
		if parent == nil || seen[parent.PanelID] {
			continue
		}
		seen[parent.PanelID] = true
		res, err := s.bump(dbc, parent.PanelID, change{
			opts: IncrementOptions{User: user},
			check: func(_ dbctx.Context, active *types.PanelSnapshot) error {
				for _, cid := range active.ChildIDs() {
					if cid == prior.ID {
						return nil
					}
				}
				return errNotPinned
			},
			children: func(active *types.PanelSnapshot) []*types.PanelSnapshot {
				out := make([]*types.PanelSnapshot, 0, len(active.ChildPanels))
				for _, c := range active.ChildPanels {
					if c.ID == prior.ID {
						out = append(out, next)
					} else {
						out = append(out, c)
					}
				}
				return out
			},
		})
		if errors.Is(err, errNotPinned) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cascade to panel %d: %w", parent.PanelID, err)
		}
		created = append(created, res.created...)
	}
	return created, nil
}

func (s *snapshotService) run(dbc dbctx.Context, panelID uint, ch change) (*bumpResult, error) {
	var res *bumpResult
	owned, err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		var err error
		res, err = s.bump(dbc, panelID, ch)
		return err
	})
	if err != nil {
		return nil, err
	}
	if owned {
		for _, c := range res.created {
			s.notify.PanelVersionCreated(c)
		}
	}
	return res, nil
}

func (s *snapshotService) CreatePanel(dbc dbctx.Context, in CreatePanelInput) (*types.PanelSnapshot, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput("invalid_panel", in); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = panels.PanelStatusInternal
	}
	if in.User == "" {
		in.User = ctxutil.User(dbc.Ctx)
	}
	var out *types.PanelSnapshot
	owned, err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		existing, err := s.panels.GetByName(dbc, in.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return panels.ErrPanelExists
		}
		typeRows, err := s.resolveTypes(dbc, in.Types)
		if err != nil {
			return err
		}
		p := &types.Panel{Name: in.Name, Status: in.Status}
		if err := s.panels.Create(dbc, p); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return panels.ErrPanelExists
			}
			return fmt.Errorf("create panel: %w", err)
		}
		if len(typeRows) > 0 {
			if err := s.panels.ReplaceTypes(dbc, p, typeRows); err != nil {
				return fmt.Errorf("set panel types: %w", err)
			}
			p.Types = typeRows
		}
		l4 := in.Level4Title.Clone()
		l4.Name = p.Name
		out = &types.PanelSnapshot{
			PanelID:     p.ID,
			Level4Title: l4,
			Comment:     in.Comment,
			ModifiedBy:  in.User,
		}
		if err := s.snapshots.Create(dbc, out); err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		out.Panel = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Panel created", "panel_id", out.PanelID, "name", in.Name, "user", in.User)
	if owned {
		s.notify.PanelVersionCreated(out)
	}
	return out, nil
}

func (s *snapshotService) resolveTypes(dbc dbctx.Context, slugs []string) ([]*types.PanelType, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	rows, err := s.panelTypes.ListBySlugs(dbc, slugs)
	if err != nil {
		return nil, err
	}
	found := map[string]bool{}
	for _, r := range rows {
		found[r.Slug] = true
	}
	for _, slug := range slugs {
		if !found[slug] {
			return nil, fmt.Errorf("%w: %s", panels.ErrUnknownPanelType, slug)
		}
	}
	return rows, nil
}

func (s *snapshotService) GetPanel(dbc dbctx.Context, panelID uint) (*types.Panel, error) {
	p, err := s.panels.GetByID(readDBC(s.db, dbc), panelID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, panels.ErrPanelNotFound
	}
	return p, nil
}

func (s *snapshotService) ListPanels(dbc dbctx.Context, filter repos.PanelFilter) ([]*types.Panel, error) {
	return s.panels.List(readDBC(s.db, dbc), filter)
}

func (s *snapshotService) ListPanelTypes(dbc dbctx.Context) ([]*types.PanelType, error) {
	return s.panelTypes.List(readDBC(s.db, dbc))
}

func (s *snapshotService) UpsertPanelTypes(dbc dbctx.Context, rows []*types.PanelType) error {
	return s.panelTypes.Upsert(readDBC(s.db, dbc), rows)
}

// ActiveSnapshot returns the greatest version with its effective entities.
func (s *snapshotService) ActiveSnapshot(dbc dbctx.Context, panelID uint) (*types.PanelSnapshot, error) {
	dbc = readDBC(s.db, dbc)
	active, err := s.snapshots.GetActive(dbc, panelID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, panels.ErrPanelNotFound
	}
	if active.Entities, err = s.EffectiveEntities(dbc, active); err != nil {
		return nil, err
	}
	return active, nil
}

func (s *snapshotService) ActiveSnapshots(dbc dbctx.Context, panelIDs []uint) (map[uint]*types.PanelSnapshot, error) {
	return s.snapshots.GetActiveByPanelIDs(readDBC(s.db, dbc), panelIDs)
}

// EffectiveEntities is the snapshot's own entities, or for a super-panel
// the merge of its children's entities in child order.
func (s *snapshotService) EffectiveEntities(dbc dbctx.Context, snap *types.PanelSnapshot) ([]*types.Entity, error) {
	dbc = readDBC(s.db, dbc)
	if !snap.IsSuperPanel() {
		return s.entities.ListBySnapshot(dbc, snap.ID)
	}
	byID, err := s.entities.ListBySnapshotIDs(dbc, snap.ChildIDs())
	if err != nil {
		return nil, err
	}
	children := make([]*types.PanelSnapshot, 0, len(snap.ChildPanels))
	for _, c := range snap.ChildPanels {
		child := *c
		child.Entities = byID[c.ID]
		children = append(children, &child)
	}
	return panels.MergeEntities(children), nil
}

func (s *snapshotService) Increment(dbc dbctx.Context, panelID uint, opts IncrementOptions) (*types.PanelSnapshot, error) {
	if opts.User == "" {
		opts.User = ctxutil.User(dbc.Ctx)
	}
	res, err := s.run(dbc, panelID, change{opts: opts})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}

func (s *snapshotService) UpdatePanel(dbc dbctx.Context, panelID uint, in UpdatePanelInput) (*types.PanelSnapshot, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	if err := validateInput("invalid_panel", in); err != nil {
		return nil, err
	}
	if in.User == "" {
		in.User = ctxutil.User(dbc.Ctx)
	}
	if in.Comment == "" {
		in.Comment = "Panel information updated"
	}
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{User: in.User, Comment: in.Comment},
		prepare: func(prior, next *types.PanelSnapshot) {
			if in.Level4Title != nil {
				next.Level4Title = in.Level4Title.Clone()
				next.Level4Title.Name = prior.Level4Title.Name
			}
			if in.Name != nil {
				next.Level4Title.Name = *in.Name
			}
		},
		apply: func(dbc dbctx.Context, next *types.PanelSnapshot) error {
			updates := map[string]interface{}{}
			if in.Name != nil {
				other, err := s.panels.GetByName(dbc, *in.Name)
				if err != nil {
					return err
				}
				if other != nil && other.ID != panelID {
					return panels.ErrPanelExists
				}
				updates["name"] = *in.Name
			}
			if in.Status != nil {
				updates["status"] = *in.Status
			}
			if err := s.panels.UpdateFields(dbc, panelID, updates); err != nil {
				return fmt.Errorf("update panel: %w", err)
			}
			if in.Types != nil {
				rows, err := s.resolveTypes(dbc, *in.Types)
				if err != nil {
					return err
				}
				if err := s.panels.ReplaceTypes(dbc, &types.Panel{ID: panelID}, rows); err != nil {
					return fmt.Errorf("set panel types: %w", err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}

func (s *snapshotService) AddEntity(dbc dbctx.Context, panelID uint, e *types.Entity, user string) (*types.PanelSnapshot, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if user == "" {
		user = ctxutil.User(dbc.Ctx)
	}
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{User: user, Comment: fmt.Sprintf("Added %s %s", e.EntityType, e.EntityName), IncludeSuperPanels: true},
		check: func(dbc dbctx.Context, prior *types.PanelSnapshot) error {
			if prior.IsSuperPanel() {
				return panels.ErrIsSuperPanel
			}
			if prior.FindEntity(e.EntityType, e.EntityName) != nil {
				return fmt.Errorf("%w: %s", panels.ErrEntityExists, e.EntityName)
			}
			return nil
		},
		apply: func(dbc dbctx.Context, next *types.PanelSnapshot) error {
			row := e.Clone(next.ID)
			if err := s.entities.Create(dbc, []*types.Entity{row}); err != nil {
				return fmt.Errorf("add entity: %w", err)
			}
			next.Entities = append(next.Entities, row)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}

func (s *snapshotService) UpdateEntity(dbc dbctx.Context, panelID uint, e *types.Entity, user string) (*types.PanelSnapshot, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if user == "" {
		user = ctxutil.User(dbc.Ctx)
	}
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{User: user, Comment: fmt.Sprintf("Updated %s %s", e.EntityType, e.EntityName), IncludeSuperPanels: true},
		check: func(dbc dbctx.Context, prior *types.PanelSnapshot) error {
			if prior.IsSuperPanel() {
				return panels.ErrIsSuperPanel
			}
			if prior.FindEntity(e.EntityType, e.EntityName) == nil {
				return fmt.Errorf("%w: %s", panels.ErrGeneDoesNotExist, e.EntityName)
			}
			return nil
		},
		apply: func(dbc dbctx.Context, next *types.PanelSnapshot) error {
			current := next.FindEntity(e.EntityType, e.EntityName)
			updated := e.Clone(next.ID)
			updated.ID = current.ID
			updated.CreatedAt = current.CreatedAt
			updated.Evaluations = current.Evaluations
			if err := s.entities.Update(dbc, updated); err != nil {
				return fmt.Errorf("update entity: %w", err)
			}
			*current = *updated
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}

func (s *snapshotService) RemoveEntity(dbc dbctx.Context, panelID uint, entityType panels.EntityType, name string, user string) (*types.PanelSnapshot, error) {
	return s.RemoveEntities(dbc, panelID, entityType, []string{name}, user)
}

// RemoveEntities drops every named entity in one increment. A single
// missing name fails with ErrGeneDoesNotExist; several with
// GenesDoNotExistError listing them all.
func (s *snapshotService) RemoveEntities(dbc dbctx.Context, panelID uint, entityType panels.EntityType, names []string, user string) (*types.PanelSnapshot, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no entity names", panels.ErrInvalidEntity)
	}
	if user == "" {
		user = ctxutil.User(dbc.Ctx)
	}
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{User: user, Comment: "Removed " + strings.Join(names, ", "), IncludeSuperPanels: true},
		check: func(dbc dbctx.Context, prior *types.PanelSnapshot) error {
			if prior.IsSuperPanel() {
				return panels.ErrIsSuperPanel
			}
			var missing []string
			for _, n := range names {
				if prior.FindEntity(entityType, n) == nil {
					missing = append(missing, n)
				}
			}
			switch {
			case len(missing) == 1:
				return fmt.Errorf("%w: %s", panels.ErrGeneDoesNotExist, missing[0])
			case len(missing) > 1:
				return &panels.GenesDoNotExistError{Names: missing}
			}
			return nil
		},
		apply: func(dbc dbctx.Context, next *types.PanelSnapshot) error {
			drop := map[string]bool{}
			for _, n := range names {
				drop[n] = true
			}
			var ids []uint
			kept := next.Entities[:0]
			for _, e := range next.Entities {
				if e.EntityType == entityType && drop[e.EntityName] {
					ids = append(ids, e.ID)
					continue
				}
				kept = append(kept, e)
			}
			next.Entities = kept
			if err := s.entities.DeleteByIDs(dbc, ids); err != nil {
				return fmt.Errorf("remove entities: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}

// SubmitEvaluation stores the reviewer's opinion on the new snapshot's copy
// of the entity, replacing an earlier one from the same reviewer.
func (s *snapshotService) SubmitEvaluation(dbc dbctx.Context, panelID uint, entityType panels.EntityType, name string, ev *types.Evaluation) (*types.PanelSnapshot, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: missing evaluation", panels.ErrInvalidEntity)
	}
	if strings.TrimSpace(ev.Reviewer) == "" {
		ev.Reviewer = ctxutil.User(dbc.Ctx)
	}
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{User: ev.Reviewer, Comment: fmt.Sprintf("Reviewed %s %s", entityType, name), IncludeSuperPanels: true},
		check: func(dbc dbctx.Context, prior *types.PanelSnapshot) error {
			if prior.IsSuperPanel() {
				return panels.ErrIsSuperPanel
			}
			if prior.FindEntity(entityType, name) == nil {
				return fmt.Errorf("%w: %s", panels.ErrGeneDoesNotExist, name)
			}
			return nil
		},
		apply: func(dbc dbctx.Context, next *types.PanelSnapshot) error {
			target := next.FindEntity(entityType, name)
			row := ev.Clone()
			row.EntityID = target.ID
			if err := s.entities.UpsertEvaluation(dbc, row); err != nil {
				return fmt.Errorf("save evaluation: %w", err)
			}
			replaced := false
			for i, cur := range target.Evaluations {
				if cur.Reviewer == row.Reviewer {
					target.Evaluations[i] = row
					replaced = true
				}
			}
			if !replaced {
				target.Evaluations = append(target.Evaluations, row)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}

// SetChildPanels makes panelID a super-panel over the active snapshots of
// the given panels. An empty list turns it back into a plain panel.
func (s *snapshotService) SetChildPanels(dbc dbctx.Context, panelID uint, childPanelIDs []uint, user string) (*types.PanelSnapshot, error) {
	if user == "" {
		user = ctxutil.User(dbc.Ctx)
	}
	ids := dedupeIDs(childPanelIDs)
	for _, id := range ids {
		if id == panelID {
			return nil, fmt.Errorf("%w: a panel cannot contain itself", panels.ErrInvalidChild)
		}
	}
	var children []*types.PanelSnapshot
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{User: user, Comment: "Child panels updated"},
		check: func(dbc dbctx.Context, prior *types.PanelSnapshot) error {
			if !prior.IsSuperPanel() && len(prior.Entities) > 0 {
				return fmt.Errorf("%w: panel %d has entities", panels.ErrInvalidChild, panelID)
			}
			if err := s.checkNotPinned(dbc, panelID); err != nil {
				return err
			}
			active, err := s.snapshots.GetActiveByPanelIDs(dbc, ids)
			if err != nil {
				return err
			}
			children = make([]*types.PanelSnapshot, 0, len(ids))
			for _, id := range ids {
				c := active[id]
				if c == nil {
					return fmt.Errorf("%w: %d", panels.ErrPanelNotFound, id)
				}
				if c.IsSuperPanel() {
					return fmt.Errorf("%w: child panel %d", panels.ErrIsSuperPanel, id)
				}
				children = append(children, c)
			}
			return nil
		},
		children: func(*types.PanelSnapshot) []*types.PanelSnapshot { return children },
	})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}

// checkNotPinned rejects panels that an active super-panel already holds.
func (s *snapshotService) checkNotPinned(dbc dbctx.Context, panelID uint) error {
	parentIDs, err := s.snapshots.ListParentIDsByChildPanel(dbc, panelID)
	if err != nil {
		return err
	}
	for _, id := range parentIDs {
		parent, err := s.snapshots.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if parent == nil {
			continue
		}
		active, err := s.snapshots.GetActive(dbc, parent.PanelID)
		if err != nil {
			return err
		}
		if active != nil && active.ID == parent.ID {
			return fmt.Errorf("%w: panel %d is a child of panel %d", panels.ErrIsSuperPanel, panelID, parent.PanelID)
		}
	}
	return nil
}

// dedupeIDs drops repeats and keeps first-seen order.
func dedupeIDs(in []uint) []uint {
	out := make([]uint, 0, len(in))
	seen := map[uint]bool{}
	for _, id := range in {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *snapshotService) ListVersions(dbc dbctx.Context, panelID uint) ([]*types.HistoricalSnapshot, error) {
	dbc = readDBC(s.db, dbc)
	p, err := s.panels.GetByID(dbc, panelID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, panels.ErrPanelNotFound
	}
	return s.historical.ListByPanel(dbc, panelID)
}

// GetVersion returns the archived version, archiving a live snapshot at
// that version on first access.
func (s *snapshotService) GetVersion(dbc dbctx.Context, panelID uint, v types.Version) (*types.HistoricalSnapshot, error) {
	dbc = readDBC(s.db, dbc)
	hist, err := s.historical.GetByVersion(dbc, panelID, v)
	if err != nil || hist != nil {
		return hist, err
	}
	snap, err := s.snapshots.GetByVersion(dbc, panelID, v)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: panel %d version %s", panels.ErrVersionNotFound, panelID, v)
	}
	entities, err := s.EffectiveEntities(dbc, snap)
	if err != nil {
		return nil, err
	}
	return s.historical.GetOrCreate(dbc, panels.NewHistoricalSnapshot(snap.Panel, snap, entities))
}

// SignOff archives the active version as signed off and moves the panel on
// to the next minor version. The comment carries over.
func (s *snapshotService) SignOff(dbc dbctx.Context, panelID uint, user string, at time.Time) (*SignOffResult, error) {
	if user == "" {
		user = ctxutil.User(dbc.Ctx)
	}
	at = at.UTC()
	out := &SignOffResult{}
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{User: user, IncludeSuperPanels: true},
		archived: func(dbc dbctx.Context, prior *types.PanelSnapshot, hist *types.HistoricalSnapshot) error {
			if err := s.historical.SetSignedOffDate(dbc, hist.ID, at); err != nil {
				return fmt.Errorf("mark signed off: %w", err)
			}
			if err := s.panels.UpdateFields(dbc, panelID, map[string]interface{}{"signed_off_id": hist.ID}); err != nil {
				return fmt.Errorf("set signed off: %w", err)
			}
			hist.SignedOffDate = &at
			out.SignedOff = hist
			return nil
		},
		prepare: func(prior, next *types.PanelSnapshot) {
			next.Comment = prior.Comment
		},
	})
	if err != nil {
		return nil, err
	}
	out.Snapshot = res.next
	return out, nil
}

// Promote bumps the major version, placing comment above the current one.
func (s *snapshotService) Promote(dbc dbctx.Context, panelID uint, comment string, user string) (*types.PanelSnapshot, error) {
	if user == "" {
		user = ctxutil.User(dbc.Ctx)
	}
	res, err := s.run(dbc, panelID, change{
		opts: IncrementOptions{Major: true, User: user, IncludeSuperPanels: true},
		prepare: func(prior, next *types.PanelSnapshot) {
			next.Comment = releaseplan.MergeComment(comment, prior.Comment)
		},
	})
	if err != nil {
		return nil, err
	}
	return res.next, nil
}
