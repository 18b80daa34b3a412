// Package enrich builds investor profile versions by merging partial
// results from lookup sources. The operator seed is version 1; every
// enrichment run appends the next version and never edits one in place.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

// ErrNotApplicable is returned by a source that has nothing to look up
// for this investor, e.g. an RSS source with no feed URL. It is a skip,
// not a failure.
var ErrNotApplicable = errors.New("source not applicable")

// Source looks up one class of public signal about an investor.
type Source interface {
	Name() string
	Enrich(ctx context.Context, seed *domain.InvestorProfile) (*Partial, error)
}

// Partial is what one source contributes to a profile version. Empty
// fields contribute nothing. The yaml tags double as the directory file
// format.
type Partial struct {
	Name string `yaml:"name,omitempty"`
	Firm string `yaml:"firm,omitempty"`

	Stages       []string `yaml:"stages,omitempty"`
	Sectors      []string `yaml:"sectors,omitempty"`
	Geographies  []string `yaml:"geographies,omitempty"`
	CheckSizeMin int64    `yaml:"check_size_min,omitempty"`
	CheckSizeMax int64    `yaml:"check_size_max,omitempty"`

	Portfolio       []domain.PortfolioCompany `yaml:"portfolio,omitempty"`
	RecentActivity  []domain.ActivityItem     `yaml:"recent_activity,omitempty"`
	WarmConnections []string                  `yaml:"warm_connections,omitempty"`
}

// Collector runs the configured sources and appends the merged profile
// version. Sources run in order; a failing source doesn't block the
// others, but a run where every applicable source fails is a transient
// error so the stage can retry.
type Collector struct {
	profiles         store.ProfileStore
	sources          []Source
	maxActivityItems int
	log              *logger.Logger
	now              func() time.Time
}

// NewCollector creates a collector over the given profile store and sources.
func NewCollector(profiles store.ProfileStore, maxActivityItems int, sources ...Source) *Collector {
	if maxActivityItems <= 0 {
		maxActivityItems = 20
	}
	return &Collector{
		profiles:         profiles,
		sources:          sources,
		maxActivityItems: maxActivityItems,
		log:              logger.Component("enrich"),
		now:              time.Now,
	}
}

// Enrich runs all sources for the investor and appends the merged
// profile version. The returned profile carries its assigned version.
func (c *Collector) Enrich(ctx context.Context, investorID string) (*domain.InvestorProfile, error) {
	seed, err := c.profiles.Latest(ctx, investorID)
	if err != nil {
		return nil, domain.TerminalErr("enrich", fmt.Errorf("load profile %s: %w", investorID, err))
	}

	merged := *seed
	var contributed []string
	var failures []string
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, domain.TransientErr("enrich", err)
		}
		partial, err := src.Enrich(ctx, seed)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			c.log.Warn("source failed", "source", src.Name(), "investor_id", investorID, "error", err.Error())
			failures = append(failures, fmt.Sprintf("%s: %v", src.Name(), err))
			continue
		}
		mergePartial(&merged, partial)
		contributed = append(contributed, src.Name())
	}

	if len(contributed) == 0 && len(failures) > 0 {
		return nil, domain.TransientErr("enrich",
			fmt.Errorf("all applicable sources failed: %s", strings.Join(failures, "; ")))
	}

	merged.Sources = unionFold(seed.Sources, contributed)
	merged.EnrichedAt = c.now().UTC()
	trimActivity(&merged, c.maxActivityItems)

	stored, err := c.profiles.Append(ctx, &merged)
	if err != nil {
		return nil, domain.TransientErr("enrich", fmt.Errorf("append profile: %w", err))
	}
	c.log.Info("profile enriched", "investor_id", investorID, "version", stored.Version,
		"sources", strings.Join(contributed, ","), "failed_sources", len(failures))
	return stored, nil
}

// mergePartial folds one source result into the profile. Operator-seeded
// scalars win; list fields union case-insensitively.
func mergePartial(p *domain.InvestorProfile, in *Partial) {
	if p.Name == "" {
		p.Name = in.Name
	}
	if p.Firm == "" {
		p.Firm = in.Firm
	}
	if p.CheckSizeMin == 0 {
		p.CheckSizeMin = in.CheckSizeMin
	}
	if p.CheckSizeMax == 0 {
		p.CheckSizeMax = in.CheckSizeMax
	}
	p.Stages = unionFold(p.Stages, in.Stages)
	p.Sectors = unionFold(p.Sectors, in.Sectors)
	p.Geographies = unionFold(p.Geographies, in.Geographies)
	p.WarmConnections = unionFold(p.WarmConnections, in.WarmConnections)

	for _, pc := range in.Portfolio {
		if pc.Name == "" || hasPortfolio(p.Portfolio, pc.Name) {
			continue
		}
		p.Portfolio = append(p.Portfolio, pc)
	}
	p.RecentActivity = append(p.RecentActivity, in.RecentActivity...)
}

func hasPortfolio(list []domain.PortfolioCompany, name string) bool {
	for _, pc := range list {
		if strings.EqualFold(pc.Name, name) {
			return true
		}
	}
	return false
}

// unionFold merges b into a preserving a's order, deduplicating
// case-insensitively, and sorting the appended tail for stable output.
func unionFold(a, b []string) []string {
	out := append([]string(nil), a...)
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[strings.ToLower(v)] = true
	}
	var added []string
	for _, v := range b {
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		added = append(added, v)
	}
	sort.Strings(added)
	return append(out, added...)
}

func trimActivity(p *domain.InvestorProfile, max int) {
	sort.SliceStable(p.RecentActivity, func(i, j int) bool {
		return p.RecentActivity[i].OccurredAt.After(p.RecentActivity[j].OccurredAt)
	})
	// Drop duplicate URLs after sorting so the freshest copy survives.
	seen := make(map[string]bool)
	kept := p.RecentActivity[:0]
	for _, a := range p.RecentActivity {
		key := a.URL
		if key == "" {
			key = a.Title
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, a)
	}
	if len(kept) > max {
		kept = kept[:max]
	}
	p.RecentActivity = kept
}
