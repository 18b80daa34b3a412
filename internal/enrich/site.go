package enrich

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/httpretry"
)

// sectorKeywords maps text found on a firm site to canonical sector names.
var sectorKeywords = map[string]string{
	"saas":                    "SaaS",
	"software":                "SaaS",
	"fintech":                 "Fintech",
	"payments":                "Fintech",
	"healthcare":              "Healthcare",
	"health tech":             "Healthcare",
	"biotech":                 "Biotech",
	"climate":                 "Climate",
	"clean energy":            "Climate",
	"artificial intelligence": "AI",
	"machine learn":           "AI",
	"consumer":                "Consumer",
	"marketplace":             "Marketplace",
	"infrastructure":          "Infrastructure",
	"devtools":                "Infrastructure",
	"crypto":                  "Crypto",
	"edtech":                  "Edtech",
}

var stageKeywords = []string{"pre-seed", "seed", "series a", "series b", "series c"}

var checkRangePattern = regexp.MustCompile(`\$(\d+(?:\.\d+)?)\s*([mk])\s*(?:-|to)\s*\$?(\d+(?:\.\d+)?)\s*([mk])`)

// SiteSource scrapes an investor's firm website for sector focus, stage
// language, check size ranges, and portfolio company names.
type SiteSource struct {
	client *httpretry.Client
}

// NewSiteSource creates the website source over a retrying HTTP client.
func NewSiteSource(client *httpretry.Client) *SiteSource {
	return &SiteSource{client: client}
}

func (s *SiteSource) Name() string { return "site" }

func (s *SiteSource) Enrich(ctx context.Context, seed *domain.InvestorProfile) (*Partial, error) {
	if seed.SiteURL == "" {
		return nil, ErrNotApplicable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seed.SiteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", seed.SiteURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", seed.SiteURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", seed.SiteURL, err)
	}
	return parseSite(doc), nil
}

func parseSite(doc *goquery.Document) *Partial {
	partial := &Partial{}

	var text strings.Builder
	text.WriteString(doc.Find("title").Text())
	text.WriteString(" ")
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		text.WriteString(desc)
		text.WriteString(" ")
	}
	text.WriteString(doc.Find("body").Text())
	lower := strings.ToLower(text.String())

	for keyword, sector := range sectorKeywords {
		if strings.Contains(lower, keyword) {
			partial.Sectors = appendFold(partial.Sectors, sector)
		}
	}
	for _, stage := range stageKeywords {
		if !strings.Contains(lower, stage) {
			continue
		}
		if stage == "seed" && strings.Count(lower, "seed") == strings.Count(lower, "pre-seed") {
			continue // every "seed" on the page is part of "pre-seed"
		}
		partial.Stages = appendFold(partial.Stages, titleStage(stage))
	}

	if m := checkRangePattern.FindStringSubmatch(lower); m != nil {
		partial.CheckSizeMin = parseMoney(m[1], m[2])
		partial.CheckSizeMax = parseMoney(m[3], m[4])
	}

	doc.Find(`#portfolio a, .portfolio a, section[id*="portfolio"] a`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		name := strings.TrimSpace(sel.Text())
		if name != "" && len(name) < 80 && !hasPortfolio(partial.Portfolio, name) {
			partial.Portfolio = append(partial.Portfolio, domain.PortfolioCompany{Name: name})
		}
		return len(partial.Portfolio) < 30
	})

	return partial
}

func titleStage(stage string) string {
	switch {
	case strings.HasPrefix(stage, "series "):
		return "Series " + strings.ToUpper(strings.TrimPrefix(stage, "series "))
	case stage == "pre-seed":
		return "Pre-Seed"
	case stage == "seed":
		return "Seed"
	}
	return stage
}

func appendFold(list []string, v string) []string {
	for _, e := range list {
		if strings.EqualFold(e, v) {
			return list
		}
	}
	return append(list, v)
}

func parseMoney(num, unit string) int64 {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	switch unit {
	case "m":
		return int64(v * 1_000_000)
	default:
		return int64(v * 1_000)
	}
}
