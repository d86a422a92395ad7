package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

func TestBundledFixtureSeeds(t *testing.T) {
	f, err := loadFixture(filepath.Join("..", "..", "seed", "campaign.yaml"))
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	ctx := context.Background()
	res, err := f.apply(ctx, store)
	require.NoError(t, err)
	require.Len(t, res.Campaigns, 1)
	assert.Equal(t, 4, res.Recipients)
	assert.Equal(t, 2, res.Counterparts)

	c, err := store.GetCampaign(ctx, res.Campaigns[0])
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, "owner-demo", c.OwnerID)
	assert.Len(t, c.EnabledStages(), 3)

	cps, err := store.ListCounterparts(ctx, "owner-demo")
	require.NoError(t, err)
	require.Len(t, cps, 2)
}

func TestFixtureExpandsEnvironment(t *testing.T) {
	t.Setenv("SEED_OWNER", "owner-env")
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
owner_id: ${SEED_OWNER}
campaigns:
  - name: Env campaign
    from_address: team@mailflow.test
    stages:
      - stage: 1
        subject: Hi
        body: Hello
      - stage: 2
        subject: Again
        body: Hello again
        disabled: true
`), 0o600))

	f, err := loadFixture(path)
	require.NoError(t, err)
	assert.Equal(t, "owner-env", f.OwnerID)

	store := repository.NewMemoryStore()
	res, err := f.apply(context.Background(), store)
	require.NoError(t, err)
	c, err := store.GetCampaign(context.Background(), res.Campaigns[0])
	require.NoError(t, err)
	assert.Len(t, c.EnabledStages(), 1)
}

func TestFixtureValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no owner", "campaigns: [{name: a, from_address: a@b.co, stages: [{stage: 1, subject: s, body: b}]}]"},
		{"no campaigns", "owner_id: o"},
		{"bad from address", "owner_id: o\ncampaigns: [{name: a, from_address: nope, stages: [{stage: 1, subject: s, body: b}]}]"},
		{"no stages", "owner_id: o\ncampaigns: [{name: a, from_address: a@b.co}]"},
		{"bad deadline", "owner_id: o\ncounterparts: [{title: t, category: c, deadline: soon}]\ncampaigns: [{name: a, from_address: a@b.co, stages: [{stage: 1, subject: s, body: b}]}]"},
		{"unknown field", "owner_id: o\nbudget: 10\ncampaigns: [{name: a, from_address: a@b.co, stages: [{stage: 1, subject: s, body: b}]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFixture([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
