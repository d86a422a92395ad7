// cmd/seeder/fixture.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

type fixture struct {
	OwnerID      string               `yaml:"owner_id" validate:"required"`
	Counterparts []counterpartFixture `yaml:"counterparts" validate:"dive"`
	Campaigns    []campaignFixture    `yaml:"campaigns" validate:"required,min=1,dive"`
}

type counterpartFixture struct {
	Title    string `yaml:"title" validate:"required"`
	Category string `yaml:"category" validate:"required"`
	// Deadline is YYYY-MM-DD.
	Deadline string `yaml:"deadline" validate:"omitempty,datetime=2006-01-02"`
}

type campaignFixture struct {
	Name              string             `yaml:"name" validate:"required"`
	FromAddress       string             `yaml:"from_address" validate:"required,email"`
	FollowUpDelayDays int                `yaml:"follow_up_delay_days" validate:"min=0"`
	Stages            []stageFixture     `yaml:"stages" validate:"required,min=1,dive"`
	Recipients        []recipientFixture `yaml:"recipients" validate:"dive"`
}

type stageFixture struct {
	Stage    int    `yaml:"stage" validate:"min=1"`
	Subject  string `yaml:"subject" validate:"required"`
	Body     string `yaml:"body" validate:"required"`
	Disabled bool   `yaml:"disabled"`
}

type recipientFixture struct {
	Email     string `yaml:"email"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Company   string `yaml:"company"`
	Category  string `yaml:"category"`
}

// loadFixture reads and validates a YAML fixture. Environment variables in
// the file are expanded first.
func loadFixture(path string) (*fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseFixture([]byte(os.ExpandEnv(string(raw))))
}

func parseFixture(raw []byte) (*fixture, error) {
	var f fixture
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

type seedResult struct {
	Campaigns    []string
	Recipients   int
	Counterparts int
}

// apply inserts the fixture as draft campaigns. Recipient addresses are
// stored as given; the scheduler filters invalid ones at start.
func (f *fixture) apply(ctx context.Context, repo repository.CampaignRepositoryInterface) (*seedResult, error) {
	res := &seedResult{}
	for _, cp := range f.Counterparts {
		c := &model.Counterpart{OwnerID: f.OwnerID, Title: cp.Title, Category: cp.Category}
		if cp.Deadline != "" {
			d, err := time.Parse("2006-01-02", cp.Deadline)
			if err != nil {
				return res, fmt.Errorf("counterpart %s: %w", cp.Title, err)
			}
			c.Deadline = &d
		}
		if err := repo.CreateCounterpart(ctx, c); err != nil {
			return res, err
		}
		res.Counterparts++
	}

	for _, cf := range f.Campaigns {
		c := &model.Campaign{
			OwnerID:           f.OwnerID,
			Name:              cf.Name,
			FromAddress:       cf.FromAddress,
			Status:            model.CampaignDraft,
			FollowUpDelayDays: cf.FollowUpDelayDays,
		}
		for _, s := range cf.Stages {
			c.Stages = append(c.Stages, model.TemplateStage{
				StageNumber: s.Stage,
				Subject:     s.Subject,
				Body:        s.Body,
				Enabled:     !s.Disabled,
			})
		}
		if err := repo.CreateCampaign(ctx, c); err != nil {
			return res, err
		}
		res.Campaigns = append(res.Campaigns, c.ID)

		recipients := make([]*model.Recipient, 0, len(cf.Recipients))
		for _, r := range cf.Recipients {
			recipients = append(recipients, &model.Recipient{
				CampaignID: c.ID,
				Email:      r.Email,
				FirstName:  r.FirstName,
				LastName:   r.LastName,
				Company:    r.Company,
				Category:   r.Category,
			})
		}
		if len(recipients) > 0 {
			if err := repo.CreateRecipients(ctx, recipients); err != nil {
				return res, err
			}
			res.Recipients += len(recipients)
		}
	}
	return res, nil
}
