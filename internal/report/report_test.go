package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

func newTestGenerator(t *testing.T) (*Generator, store.Bundle) {
	bundle := store.NewMemory().Bundle()
	gen := NewGenerator(bundle.Campaigns, bundle.Items, bundle.Profiles)
	gen.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return gen, bundle
}

func seedReportCampaign(t *testing.T, bundle store.Bundle) *domain.Campaign {
	t.Helper()
	camp := &domain.Campaign{
		ID:     "cmp-1",
		Name:   "Fundline seed round",
		Status: domain.CampaignActive,
		Company: domain.CompanyProfile{
			Version: 1,
			Name:    "Fundline",
			Sector:  "fintech",
			Stage:   "seed",
		},
		Counters: domain.CampaignCounters{
			Items:    10,
			Enriched: 8,
			Scored:   8,
			Approved: 6,
			Rejected: 2,
			Sent:     5,
			Opened:   4,
			Clicked:  2,
			Replied:  1,
			Bounced:  1,
		},
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, bundle.Campaigns.Create(context.Background(), camp))
	return camp
}

func seedScoredItem(t *testing.T, bundle store.Bundle, id, investorID string, score int, state domain.ItemState) *domain.OutreachItem {
	t.Helper()
	item := domain.NewOutreachItem(id, "cmp-1", investorID, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	item.State = state
	item.InvestorVersion = 1
	item.Score = &domain.MatchScore{Score: score, InvestorVersion: 1, CompanyVersion: 1}
	require.NoError(t, bundle.Items.Create(context.Background(), item))
	return item
}

func seedInvestor(t *testing.T, bundle store.Bundle, investorID, name, firm string, lastActivity time.Time) {
	t.Helper()
	p := &domain.InvestorProfile{
		InvestorID: investorID,
		Name:       name,
		Firm:       firm,
		Email:      investorID + "@example.com",
	}
	if !lastActivity.IsZero() {
		p.RecentActivity = []domain.ActivityItem{{Title: "speaking slot", OccurredAt: lastActivity}}
	}
	_, err := bundle.Profiles.Append(context.Background(), p)
	require.NoError(t, err)
}

func TestGenerateBuildsFunnelAndRates(t *testing.T) {
	gen, bundle := newTestGenerator(t)
	seedReportCampaign(t, bundle)

	rep, err := gen.Generate(context.Background(), "cmp-1")
	require.NoError(t, err)

	assert.Equal(t, "cmp-1", rep.CampaignID)
	assert.Equal(t, "Fundline seed round", rep.CampaignName)
	assert.Equal(t, "Fundline", rep.Company)
	assert.Equal(t, 10, rep.Funnel.Items)
	assert.Equal(t, 5, rep.Funnel.Sent)

	assert.InDelta(t, 0.8, rep.Rates.OpenRate, 0.001)
	assert.InDelta(t, 0.4, rep.Rates.ClickRate, 0.001)
	assert.InDelta(t, 0.2, rep.Rates.ReplyRate, 0.001)
	assert.InDelta(t, 0.2, rep.Rates.BounceRate, 0.001)
	assert.InDelta(t, 0.75, rep.Rates.ApprovalRate, 0.001)
}

func TestGenerateZeroSentLeavesRatesZero(t *testing.T) {
	gen, bundle := newTestGenerator(t)
	camp := seedReportCampaign(t, bundle)
	camp.Counters = domain.CampaignCounters{Items: 3}
	require.NoError(t, bundle.Campaigns.Update(context.Background(), camp))

	rep, err := gen.Generate(context.Background(), "cmp-1")
	require.NoError(t, err)

	assert.Zero(t, rep.Rates.OpenRate)
	assert.Zero(t, rep.Rates.ReplyRate)
	assert.Zero(t, rep.Rates.ApprovalRate)
}

func TestGenerateRanksTopMatches(t *testing.T) {
	gen, bundle := newTestGenerator(t)
	seedReportCampaign(t, bundle)

	seedInvestor(t, bundle, "inv-low", "Sam Ortiz", "Crestline Partners", time.Time{})
	seedInvestor(t, bundle, "inv-high", "Jordan Reeves", "Nexus Capital", time.Time{})
	seedInvestor(t, bundle, "inv-recent", "Dana Wu", "Harbor Ventures",
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))
	seedInvestor(t, bundle, "inv-stale", "Lee Park", "Summit Fund",
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	seedScoredItem(t, bundle, "item-low", "inv-low", 40, domain.StateScored)
	seedScoredItem(t, bundle, "item-high", "inv-high", 90, domain.StateSent)
	seedScoredItem(t, bundle, "item-recent", "inv-recent", 70, domain.StateTracking)
	seedScoredItem(t, bundle, "item-stale", "inv-stale", 70, domain.StateTracking)

	rep, err := gen.Generate(context.Background(), "cmp-1")
	require.NoError(t, err)
	require.Len(t, rep.TopMatches, 4)

	assert.Equal(t, "item-high", rep.TopMatches[0].ItemID)
	assert.Equal(t, "Nexus Capital", rep.TopMatches[0].Firm)
	assert.Equal(t, "Jordan Reeves", rep.TopMatches[0].Name)
	assert.Equal(t, domain.StateSent, rep.TopMatches[0].State)

	// Equal scores break ties toward the more recently active investor.
	assert.Equal(t, "item-recent", rep.TopMatches[1].ItemID)
	assert.Equal(t, "item-stale", rep.TopMatches[2].ItemID)
	assert.Equal(t, "item-low", rep.TopMatches[3].ItemID)
}

func TestGenerateCapsTopMatches(t *testing.T) {
	gen, bundle := newTestGenerator(t)
	seedReportCampaign(t, bundle)

	for i := 0; i < 15; i++ {
		id := string(rune('a' + i))
		seedInvestor(t, bundle, "inv-"+id, "Investor "+id, "Firm "+id, time.Time{})
		seedScoredItem(t, bundle, "item-"+id, "inv-"+id, 50+i, domain.StateScored)
	}

	rep, err := gen.Generate(context.Background(), "cmp-1")
	require.NoError(t, err)
	require.Len(t, rep.TopMatches, topMatchLimit)
	assert.Equal(t, 64, rep.TopMatches[0].Score)
}

func TestGenerateSkipsUnscoredItems(t *testing.T) {
	gen, bundle := newTestGenerator(t)
	seedReportCampaign(t, bundle)

	item := domain.NewOutreachItem("item-raw", "cmp-1", "inv-raw", time.Now())
	require.NoError(t, bundle.Items.Create(context.Background(), item))

	rep, err := gen.Generate(context.Background(), "cmp-1")
	require.NoError(t, err)
	assert.Empty(t, rep.TopMatches)
}

func TestGenerateListsPendingApprovals(t *testing.T) {
	gen, bundle := newTestGenerator(t)
	seedReportCampaign(t, bundle)
	seedInvestor(t, bundle, "inv-1", "Jordan Reeves", "Nexus Capital", time.Time{})

	item := seedScoredItem(t, bundle, "item-1", "inv-1", 80, domain.StateAwaitingApproval)
	item.AddDraft(domain.Draft{
		Subject: "Fundline x Nexus Capital",
		Body:    "Hi Jordan,",
		Author:  domain.DraftAuthorGenerator,
	})
	waiting := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	item.Transitions = append(item.Transitions, domain.Transition{
		From: domain.StateDrafting, To: domain.StateAwaitingApproval,
		Reason: "draft ready for review", At: waiting,
	})
	require.NoError(t, bundle.Items.Update(context.Background(), item))

	rep, err := gen.Generate(context.Background(), "cmp-1")
	require.NoError(t, err)
	require.Len(t, rep.Pending, 1)

	assert.Equal(t, "item-1", rep.Pending[0].ItemID)
	assert.Equal(t, "Fundline x Nexus Capital", rep.Pending[0].Subject)
	assert.Equal(t, 1, rep.Pending[0].DraftVersion)
	assert.Equal(t, waiting, rep.Pending[0].WaitingSince)
}

func TestGenerateUnknownCampaign(t *testing.T) {
	gen, _ := newTestGenerator(t)

	_, err := gen.Generate(context.Background(), "cmp-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStorageSaveAndLatestLocal(t *testing.T) {
	cfg := config.ReportConfig{StorageType: "local", LocalPath: t.TempDir()}
	storage, err := NewStorage(context.Background(), cfg)
	require.NoError(t, err)

	rep := &CampaignReport{
		CampaignID:   "cmp-1",
		CampaignName: "Fundline seed round",
		GeneratedAt:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Funnel:       domain.CampaignCounters{Items: 4, Sent: 2},
	}
	require.NoError(t, storage.Save(context.Background(), rep))

	got, err := storage.Latest(context.Background(), "cmp-1")
	require.NoError(t, err)
	assert.Equal(t, "Fundline seed round", got.CampaignName)
	assert.Equal(t, 4, got.Funnel.Items)
}

func TestStorageLatestOverwrites(t *testing.T) {
	cfg := config.ReportConfig{StorageType: "local", LocalPath: t.TempDir()}
	storage, err := NewStorage(context.Background(), cfg)
	require.NoError(t, err)

	first := &CampaignReport{
		CampaignID:  "cmp-1",
		GeneratedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Funnel:      domain.CampaignCounters{Sent: 1},
	}
	second := &CampaignReport{
		CampaignID:  "cmp-1",
		GeneratedAt: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		Funnel:      domain.CampaignCounters{Sent: 3},
	}
	require.NoError(t, storage.Save(context.Background(), first))
	require.NoError(t, storage.Save(context.Background(), second))

	got, err := storage.Latest(context.Background(), "cmp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Funnel.Sent)
}

func TestStorageLatestMissing(t *testing.T) {
	cfg := config.ReportConfig{StorageType: "local", LocalPath: t.TempDir()}
	storage, err := NewStorage(context.Background(), cfg)
	require.NoError(t, err)

	_, err = storage.Latest(context.Background(), "cmp-none")
	require.Error(t, err)
}

func TestStorageRejectsUnknownType(t *testing.T) {
	_, err := NewStorage(context.Background(), config.ReportConfig{StorageType: "tape"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown report storage type")
}

func TestStorageS3RequiresBucket(t *testing.T) {
	_, err := NewStorage(context.Background(), config.ReportConfig{StorageType: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3_bucket")
}
