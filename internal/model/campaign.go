// internal/model/campaign.go
package model

import (
	"sort"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type Campaign struct {
	ID                string         `db:"id" json:"id"`
	OwnerID           string         `db:"owner_id" json:"owner_id"`
	Name              string         `db:"name" json:"name"`
	FromAddress       string         `db:"from_address" json:"from_address"`
	Status            CampaignStatus `db:"status" json:"status"`
	PausedReason      string         `db:"paused_reason" json:"paused_reason,omitempty"`
	FollowUpDelayDays int            `db:"follow_up_delay_days" json:"follow_up_delay_days"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         *time.Time     `db:"updated_at" json:"updated_at,omitempty"`

	Stages []TemplateStage `db:"-" json:"stages,omitempty"`
}

// TemplateStage is one step of the campaign sequence. Stage 1 is the
// initial outreach, every later stage is a follow-up.
type TemplateStage struct {
	CampaignID  string `db:"campaign_id" json:"campaign_id"`
	StageNumber int    `db:"stage_number" json:"stage_number"`
	Subject     string `db:"subject" json:"subject"`
	Body        string `db:"body" json:"body"`
	Enabled     bool   `db:"enabled" json:"enabled"`
}

// EnabledStages returns the enabled stages ordered by stage number.
func (c *Campaign) EnabledStages() []TemplateStage {
	out := make([]TemplateStage, 0, len(c.Stages))
	for _, s := range c.Stages {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out
}

// Stage returns the enabled stage with the given number.
func (c *Campaign) Stage(n int) (TemplateStage, bool) {
	for _, s := range c.Stages {
		if s.StageNumber == n && s.Enabled {
			return s, true
		}
	}
	return TemplateStage{}, false
}
