package app

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/services"
)

// Fixture is the YAML document read by the seed command.
type Fixture struct {
	PanelTypes []FixturePanelType `yaml:"panel_types"`
	Panels     []FixturePanel     `yaml:"panels"`
	Releases   []FixtureRelease   `yaml:"releases"`
}

type FixturePanelType struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
}

type FixturePanel struct {
	Name     string        `yaml:"name"`
	Status   string        `yaml:"status"`
	Types    []string      `yaml:"types"`
	Genes    []FixtureGene `yaml:"genes"`
	Children []string      `yaml:"children"`
	SignOff  bool          `yaml:"sign_off"`
}

type FixtureGene struct {
	Name              string   `yaml:"name"`
	Status            string   `yaml:"status"`
	ModeOfInheritance string   `yaml:"mode_of_inheritance"`
	Phenotypes        []string `yaml:"phenotypes"`
	Publications      []string `yaml:"publications"`
}

type FixtureRelease struct {
	Name             string                `yaml:"name"`
	PromotionComment string                `yaml:"promotion_comment"`
	Panels           []FixtureReleasePanel `yaml:"panels"`
}

type FixtureReleasePanel struct {
	Panel   string `yaml:"panel"`
	Promote bool   `yaml:"promote"`
}

type SeedReport struct {
	PanelsCreated   int
	PanelsSkipped   int
	ReleasesCreated int
	ReleasesSkipped int
}

func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

func gelStatus(raw string) (panels.GelStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "green":
		return panels.GelStatusGreen, nil
	case "amber":
		return panels.GelStatusAmber, nil
	case "red":
		return panels.GelStatusRed, nil
	case "none":
		return panels.GelStatusNone, nil
	}
	return 0, fmt.Errorf("unknown gene status %q", raw)
}

// Seed applies f through the services. Panels and releases that already
// exist by name are left untouched, so seeding twice is safe.
func Seed(dbc dbctx.Context, svc Services, f *Fixture) (*SeedReport, error) {
	report := &SeedReport{}
	if len(f.PanelTypes) > 0 {
		rows := make([]*types.PanelType, 0, len(f.PanelTypes))
		for _, t := range f.PanelTypes {
			rows = append(rows, &types.PanelType{Name: t.Name, Slug: t.Slug, Description: t.Description})
		}
		if err := svc.Snapshots.UpsertPanelTypes(dbc, rows); err != nil {
			return nil, fmt.Errorf("panel types: %w", err)
		}
	}

	ids := map[string]uint{}
	created := map[string]bool{}
	for _, p := range f.Panels {
		snap, err := svc.Snapshots.CreatePanel(dbc, services.CreatePanelInput{
			Name:   p.Name,
			Status: panels.PanelStatus(p.Status),
			Types:  p.Types,
		})
		if errors.Is(err, panels.ErrPanelExists) {
			id, lerr := panelIDByName(dbc, svc, p.Name)
			if lerr != nil {
				return nil, lerr
			}
			ids[p.Name] = id
			report.PanelsSkipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("panel %q: %w", p.Name, err)
		}
		ids[p.Name] = snap.PanelID
		created[p.Name] = true
		report.PanelsCreated++

		for _, g := range p.Genes {
			status, err := gelStatus(g.Status)
			if err != nil {
				return nil, fmt.Errorf("panel %q: %w", p.Name, err)
			}
			e := &types.Entity{
				EntityType:        panels.EntityGene,
				EntityName:        g.Name,
				SavedGelStatus:    status,
				ModeOfInheritance: g.ModeOfInheritance,
				Phenotypes:        g.Phenotypes,
				Publications:      g.Publications,
				Gene:              panels.GeneData{GeneName: g.Name},
			}
			if _, err := svc.Snapshots.AddEntity(dbc, snap.PanelID, e, ""); err != nil {
				return nil, fmt.Errorf("panel %q gene %q: %w", p.Name, g.Name, err)
			}
		}
	}

	// Children and sign-offs need every panel to exist first.
	for _, p := range f.Panels {
		if !created[p.Name] {
			continue
		}
		if len(p.Children) > 0 {
			childIDs := make([]uint, 0, len(p.Children))
			for _, name := range p.Children {
				id, ok := ids[name]
				if !ok {
					return nil, fmt.Errorf("panel %q: unknown child %q", p.Name, name)
				}
				childIDs = append(childIDs, id)
			}
			if _, err := svc.Snapshots.SetChildPanels(dbc, ids[p.Name], childIDs, ""); err != nil {
				return nil, fmt.Errorf("panel %q children: %w", p.Name, err)
			}
		}
	}
	for _, p := range f.Panels {
		if created[p.Name] && p.SignOff {
			if _, err := svc.Snapshots.SignOff(dbc, ids[p.Name], "", timeNow()); err != nil {
				return nil, fmt.Errorf("panel %q sign-off: %w", p.Name, err)
			}
		}
	}

	for _, r := range f.Releases {
		rel, err := svc.Releases.Create(dbc, services.CreateReleaseInput{Name: r.Name, PromotionComment: r.PromotionComment})
		if errors.Is(err, releases.ErrReleaseExists) {
			report.ReleasesSkipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("release %q: %w", r.Name, err)
		}
		for _, rp := range r.Panels {
			id, ok := ids[rp.Panel]
			if !ok {
				if id, err = panelIDByName(dbc, svc, rp.Panel); err != nil {
					return nil, fmt.Errorf("release %q: %w", r.Name, err)
				}
			}
			if _, err := svc.Releases.SetReleasePanel(dbc, rel.ID, id, rp.Promote); err != nil {
				return nil, fmt.Errorf("release %q panel %q: %w", r.Name, rp.Panel, err)
			}
		}
		report.ReleasesCreated++
	}
	return report, nil
}

func panelIDByName(dbc dbctx.Context, svc Services, name string) (uint, error) {
	rows, err := svc.Snapshots.ListPanels(dbc, repos.PanelFilter{Search: name})
	if err != nil {
		return 0, err
	}
	for _, p := range rows {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", panels.ErrPanelNotFound, name)
}

var timeNow = time.Now
