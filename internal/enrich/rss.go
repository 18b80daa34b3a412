package enrich

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/fundline/outreach/internal/domain"
)

// RSSSource reads an investor's blog or firm news feed and contributes
// recent activity items.
type RSSSource struct {
	parser   *gofeed.Parser
	maxItems int
}

// NewRSSSource creates the feed source. maxItems bounds how many entries
// one fetch contributes.
func NewRSSSource(userAgent string, maxItems int) *RSSSource {
	parser := gofeed.NewParser()
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	if maxItems <= 0 {
		maxItems = 10
	}
	return &RSSSource{parser: parser, maxItems: maxItems}
}

func (s *RSSSource) Name() string { return "rss" }

func (s *RSSSource) Enrich(ctx context.Context, seed *domain.InvestorProfile) (*Partial, error) {
	if seed.FeedURL == "" {
		return nil, ErrNotApplicable
	}
	feed, err := s.parser.ParseURLWithContext(seed.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", seed.FeedURL, err)
	}

	partial := &Partial{}
	for _, item := range feed.Items {
		if len(partial.RecentActivity) >= s.maxItems {
			break
		}
		activity := domain.ActivityItem{Title: item.Title, URL: item.Link}
		switch {
		case item.PublishedParsed != nil:
			activity.OccurredAt = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			activity.OccurredAt = *item.UpdatedParsed
		default:
			continue // undated entries can't feed the recency tie-break
		}
		partial.RecentActivity = append(partial.RecentActivity, activity)
	}
	return partial, nil
}
