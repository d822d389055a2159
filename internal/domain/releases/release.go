package releases

import (
	"errors"
	"time"

	"github.com/yungbote/panelapp-backend/internal/domain/panels"
)

// DeploymentTimeout bounds how long a deployment may stay running before
// it is reported as timed out.
const DeploymentTimeout = 30 * time.Minute

// Background job that deploys a release. Jobs are keyed by
// (EntityTypeRelease, release id).
const (
	JobTypeDeploy     = "release_deploy"
	EntityTypeRelease = "release"
)

var (
	ErrReleaseNotFound      = errors.New("release not found")
	ErrReleaseExists        = errors.New("release with this name already exists")
	ErrReleaseLocked        = errors.New("release in use")
	ErrReleaseDeployed      = errors.New("release has been deployed")
	ErrAlreadyDeployed      = errors.New("release already deployed")
	ErrDeploymentInProgress = errors.New("release deployment in progress")
	ErrReleasePanelNotFound = errors.New("release panel not found")
)

type Release struct {
	ID               uint               `gorm:"primaryKey" json:"id"`
	Name             string             `gorm:"column:name;not null;uniqueIndex:idx_release_name" json:"name"`
	PromotionComment string             `gorm:"column:promotion_comment;type:text" json:"promotion_comment,omitempty"`
	Deployment       *ReleaseDeployment `gorm:"foreignKey:ReleaseID" json:"deployment,omitempty"`
	Panels           []*ReleasePanel    `gorm:"foreignKey:ReleaseID" json:"panels,omitempty"`
	CreatedAt        time.Time          `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"not null" json:"updated_at"`
}

func (Release) TableName() string { return "release" }

// ReleasePanel is one planned row of a release. (release, panel) is unique.
type ReleasePanel struct {
	ID         uint                    `gorm:"primaryKey" json:"id"`
	ReleaseID  uint                    `gorm:"column:release_id;not null;uniqueIndex:idx_release_panel,priority:1" json:"release_id"`
	PanelID    uint                    `gorm:"column:panel_id;not null;uniqueIndex:idx_release_panel,priority:2;index" json:"panel_id"`
	Panel      *panels.Panel           `gorm:"foreignKey:PanelID" json:"panel,omitempty"`
	Promote    bool                    `gorm:"column:promote;not null" json:"promote"`
	Deployment *ReleasePanelDeployment `gorm:"foreignKey:ReleasePanelID" json:"deployment,omitempty"`
}

func (ReleasePanel) TableName() string { return "release_panel" }

type DeploymentState string

const (
	DeploymentNone     DeploymentState = "none"
	DeploymentPending  DeploymentState = "pending"
	DeploymentRunning  DeploymentState = "running"
	DeploymentFinished DeploymentState = "finished"
	DeploymentTimedOut DeploymentState = "timed_out"
)

// ReleaseDeployment tracks the single deployment of a release.
type ReleaseDeployment struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ReleaseID     uint       `gorm:"column:release_id;not null;uniqueIndex" json:"release_id"`
	Start         *time.Time `gorm:"column:started_at" json:"start,omitempty"`
	End           *time.Time `gorm:"column:ended_at" json:"end,omitempty"`
	DeployingUser string     `gorm:"column:deploying_user" json:"deploying_user,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (ReleaseDeployment) TableName() string { return "release_deployment" }

// Elapsed is nil before start, now-start while running, end-start once finished.
func (d *ReleaseDeployment) Elapsed(now time.Time) *time.Duration {
	if d == nil || d.Start == nil {
		return nil
	}
	end := now
	if d.End != nil {
		end = *d.End
	}
	elapsed := end.Sub(*d.Start)
	return &elapsed
}

func (d *ReleaseDeployment) TimedOut(now time.Time) bool {
	if d == nil || d.End != nil {
		return false
	}
	elapsed := d.Elapsed(now)
	return elapsed != nil && *elapsed > DeploymentTimeout
}

func (d *ReleaseDeployment) State(now time.Time) DeploymentState {
	switch {
	case d == nil:
		return DeploymentNone
	case d.Start == nil:
		return DeploymentPending
	case d.End != nil:
		return DeploymentFinished
	case d.TimedOut(now):
		return DeploymentTimedOut
	default:
		return DeploymentRunning
	}
}

// ReleasePanelDeployment records the outcome of one deployed row.
type ReleasePanelDeployment struct {
	ID                uint                       `gorm:"primaryKey" json:"id"`
	ReleasePanelID    uint                       `gorm:"column:release_panel_id;not null;uniqueIndex" json:"release_panel_id"`
	BeforeID          uint                       `gorm:"column:before_id;not null" json:"before_id"`
	Before            *panels.HistoricalSnapshot `gorm:"foreignKey:BeforeID" json:"before,omitempty"`
	SignedOffBeforeID *uint                      `gorm:"column:signed_off_before_id" json:"signed_off_before_id,omitempty"`
	SignedOffBefore   *panels.HistoricalSnapshot `gorm:"foreignKey:SignedOffBeforeID" json:"signed_off_before,omitempty"`
	CommentBefore     string                     `gorm:"column:comment_before;type:text" json:"comment_before"`
	AfterID           uint                       `gorm:"column:after_id;not null" json:"after_id"`
	After             *panels.HistoricalSnapshot `gorm:"foreignKey:AfterID" json:"after,omitempty"`
	SignedOffAfterID  *uint                      `gorm:"column:signed_off_after_id" json:"signed_off_after_id,omitempty"`
	SignedOffAfter    *panels.HistoricalSnapshot `gorm:"foreignKey:SignedOffAfterID" json:"signed_off_after,omitempty"`
	CommentAfter      string                     `gorm:"column:comment_after;type:text" json:"comment_after"`
	CreatedAt         time.Time                  `gorm:"not null" json:"created_at"`
}

func (ReleasePanelDeployment) TableName() string { return "release_panel_deployment" }
