package domain

import (
	"sort"
	"time"
)

// PortfolioCompany is one known investment of an investor.
type PortfolioCompany struct {
	Name   string `json:"name" yaml:"name"`
	Sector string `json:"sector,omitempty" yaml:"sector,omitempty"`
}

// ActivityItem is a public signal tied to an investor, e.g. a blog post,
// a funding announcement, or a conference appearance.
type ActivityItem struct {
	Title      string    `json:"title" yaml:"title"`
	URL        string    `json:"url,omitempty" yaml:"url,omitempty"`
	OccurredAt time.Time `json:"occurred_at" yaml:"occurred_at"`
}

// InvestorProfile is an append-only versioned snapshot of what we know
// about an investor. Enrichment never edits a snapshot in place; it writes
// the next version.
type InvestorProfile struct {
	InvestorID string `json:"investor_id"`
	Version    int    `json:"version"`

	Name  string `json:"name"`
	Firm  string `json:"firm,omitempty"`
	Email string `json:"email"`

	Stages       []string `json:"stages,omitempty"`
	Sectors      []string `json:"sectors,omitempty"`
	Geographies  []string `json:"geographies,omitempty"`
	CheckSizeMin int64    `json:"check_size_min,omitempty"` // USD
	CheckSizeMax int64    `json:"check_size_max,omitempty"` // USD

	Portfolio       []PortfolioCompany `json:"portfolio,omitempty"`
	RecentActivity  []ActivityItem     `json:"recent_activity,omitempty"`
	WarmConnections []string           `json:"warm_connections,omitempty"`

	// SiteURL and FeedURL are operator-supplied lookup hints for the
	// enrichment sources; they carry forward across versions.
	SiteURL string `json:"site_url,omitempty"`
	FeedURL string `json:"feed_url,omitempty"`

	// Sources lists the enrichment sources that contributed to this version.
	Sources    []string  `json:"sources,omitempty"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// LastActivityAt returns the timestamp of the most recent activity item,
// or the zero time when no activity is known. Used as the ranking
// tie-breaker for equal scores.
func (p *InvestorProfile) LastActivityAt() time.Time {
	var last time.Time
	for _, a := range p.RecentActivity {
		if a.OccurredAt.After(last) {
			last = a.OccurredAt
		}
	}
	return last
}

// CompanyProfile describes the fundraising company. It is supplied at
// campaign creation and treated as read-only input; Version only changes
// when the operator uploads a revised profile.
type CompanyProfile struct {
	Version int `json:"version"`

	Name      string `json:"name"`
	Sector    string `json:"sector"`
	Stage     string `json:"stage"`
	Geography string `json:"geography,omitempty"`
	RaiseUSD  int64  `json:"raise_usd,omitempty"`

	// Metrics holds traction numbers keyed by metric name, e.g. "arr",
	// "mom_growth". Values stay strings so the generator quotes them as
	// the operator wrote them.
	Metrics      map[string]string `json:"metrics,omitempty"`
	Achievements []string          `json:"achievements,omitempty"`
}

// Facts flattens the profile into the fact set drafts are validated
// against. Every talking point in a generated draft must trace back to
// one of these.
func (c *CompanyProfile) Facts() []string {
	facts := make([]string, 0, len(c.Metrics)+len(c.Achievements)+4)
	if c.Name != "" {
		facts = append(facts, c.Name)
	}
	if c.Sector != "" {
		facts = append(facts, c.Sector)
	}
	if c.Stage != "" {
		facts = append(facts, c.Stage)
	}
	keys := make([]string, 0, len(c.Metrics))
	for k := range c.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		facts = append(facts, k+" "+c.Metrics[k])
	}
	facts = append(facts, c.Achievements...)
	return facts
}
