package draft

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fundline/outreach/internal/domain"
)

const (
	maxSubjectLen = 120
	// minQuoteLen keeps a trivially short talking point from matching
	// inside some longer fact by accident.
	minQuoteLen = 12
)

// generated is the JSON object the model must return.
type generated struct {
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	TalkingPoints []string `json:"talking_points"`
}

// parseGenerated extracts and decodes the JSON object from raw model
// output. Models occasionally wrap the object in prose or code fences,
// so we take the outermost braces.
func parseGenerated(raw string) (*generated, []string) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, []string{"response contains no JSON object"}
	}
	var g generated
	if err := json.Unmarshal([]byte(raw[start:end+1]), &g); err != nil {
		return nil, []string{fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	return &g, nil
}

// validate checks a decoded draft against the fact set and returns the
// list of problems, empty when the draft is acceptable.
func validate(g *generated, facts []string) []string {
	var problems []string
	if strings.TrimSpace(g.Subject) == "" {
		problems = append(problems, "subject is empty")
	} else if len(g.Subject) > maxSubjectLen {
		problems = append(problems, fmt.Sprintf("subject exceeds %d characters", maxSubjectLen))
	}
	if strings.TrimSpace(g.Body) == "" {
		problems = append(problems, "body is empty")
	}
	if len(g.TalkingPoints) == 0 {
		problems = append(problems, "no talking points")
	}
	for _, point := range g.TalkingPoints {
		if !tracesToFact(point, facts) {
			problems = append(problems, fmt.Sprintf("talking point %q does not quote any supplied fact", point))
		}
	}
	return problems
}

// factSet flattens everything shown to the model into the strings a
// talking point may quote.
func factSet(inv *domain.InvestorProfile, com *domain.CompanyProfile, score *domain.MatchScore) []string {
	facts := com.Facts()
	facts = append(facts, inv.Name)
	if inv.Firm != "" {
		facts = append(facts, inv.Firm)
	}
	facts = append(facts, inv.Stages...)
	facts = append(facts, inv.Sectors...)
	facts = append(facts, inv.Geographies...)
	for _, pc := range inv.Portfolio {
		facts = append(facts, pc.Name)
	}
	for _, a := range inv.RecentActivity {
		facts = append(facts, a.Title)
	}
	facts = append(facts, inv.WarmConnections...)
	if score != nil {
		for _, f := range score.Rationale {
			if f.Detail != "" {
				facts = append(facts, f.Detail)
			}
		}
	}
	return facts
}

// tracesToFact reports whether a talking point quotes a supplied fact:
// either a whole fact appears inside the point, or the point is a long
// enough verbatim fragment of one.
func tracesToFact(point string, facts []string) bool {
	p := normalizeText(point)
	if p == "" {
		return false
	}
	for _, f := range facts {
		nf := normalizeText(f)
		if nf == "" {
			continue
		}
		if strings.Contains(p, nf) {
			return true
		}
		if len(p) >= minQuoteLen && strings.Contains(nf, p) {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
