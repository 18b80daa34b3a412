// Package draft turns profile snapshots and a match score into outreach
// email drafts. Generation requests are built deterministically and
// responses are fact-checked before a draft is accepted; a rejected
// response gets a bounded number of corrective regenerations before the
// stage reports a validation failure.
package draft

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/logger"
)

// Service coordinates prompt building, generation, and validation.
type Service struct {
	gen      Generator
	renderer *Renderer
	sender   string
	maxFix   int
	log      *logger.Logger
	now      func() time.Time
}

// NewService wires a generator into the drafting stage. sender is the
// signature name used in prompts, normally the dispatch from-name.
func NewService(gen Generator, cfg config.DraftingConfig, sender string) *Service {
	return &Service{
		gen:      gen,
		renderer: NewRenderer(),
		sender:   sender,
		maxFix:   cfg.MaxCorrectiveAttempts,
		log:      logger.Component("draft"),
		now:      time.Now,
	}
}

// Compose generates the next draft for an item. The draft comes back
// with Version zero; the caller assigns the version when appending it to
// the item. An item with a confirmed send gets a follow-up draft that
// references the dispatched one.
func (s *Service) Compose(ctx context.Context, item *domain.OutreachItem, inv *domain.InvestorProfile, com *domain.CompanyProfile) (domain.Draft, error) {
	if item.Score == nil {
		return domain.Draft{}, domain.TerminalErr("draft", fmt.Errorf("item %s has no score", item.ID))
	}

	var (
		prior        *domain.Draft
		priorSent    time.Time
		priorVersion int
	)
	if last := item.LastDispatch(); last != nil {
		priorVersion = last.DraftVersion
		priorSent = last.SentAt
		for i := range item.Drafts {
			if item.Drafts[i].Version == last.DraftVersion {
				prior = &item.Drafts[i]
			}
		}
	}

	facts := factSet(inv, com, item.Score)
	base, err := s.buildPrompt(item, inv, com, prior, priorSent)
	if err != nil {
		return domain.Draft{}, domain.TerminalErr("draft", err)
	}
	req := Request{System: systemPrompt, Prompt: base}

	var problems []string
	for attempt := 0; attempt <= s.maxFix; attempt++ {
		raw, err := s.gen.Generate(ctx, req)
		if err != nil {
			return domain.Draft{}, domain.TransientErr("draft", fmt.Errorf("%s: %w", s.gen.Name(), err))
		}

		var g *generated
		g, problems = parseGenerated(raw)
		if g != nil {
			problems = validate(g, facts)
		}
		if len(problems) == 0 {
			if attempt > 0 {
				s.log.Info("draft accepted after correction", "item_id", item.ID, "attempts", attempt+1)
			}
			return domain.Draft{
				Subject:       strings.TrimSpace(g.Subject),
				Body:          strings.TrimSpace(g.Body),
				TalkingPoints: g.TalkingPoints,
				Author:        domain.DraftAuthorGenerator,
				FollowUp:      priorVersion > 0,
				Inputs: domain.DraftInputs{
					InvestorVersion: inv.Version,
					CompanyVersion:  com.Version,
					Score:           item.Score.Score,
					PriorVersion:    priorVersion,
				},
				CreatedAt: s.now().UTC(),
			}, nil
		}

		s.log.Warn("draft rejected",
			"item_id", item.ID,
			"attempt", attempt+1,
			"problems", strings.Join(problems, "; "))
		if attempt == s.maxFix {
			break
		}
		fix, err := s.renderer.Render("corrective", correctivePrompt, map[string]interface{}{
			"problems": problems,
		})
		if err != nil {
			return domain.Draft{}, domain.TerminalErr("draft", err)
		}
		req.Prompt = base + "\n\nYour previous attempt:\n" + raw + "\n\n" + fix
	}
	return domain.Draft{}, domain.ValidationErr("draft",
		fmt.Errorf("rejected after %d attempts: %s", s.maxFix+1, strings.Join(problems, "; ")))
}

func (s *Service) buildPrompt(item *domain.OutreachItem, inv *domain.InvestorProfile, com *domain.CompanyProfile, prior *domain.Draft, priorSent time.Time) (string, error) {
	b := s.bindings(item, inv, com)
	if prior == nil {
		return s.renderer.Render("first_touch", firstTouchPrompt, b)
	}
	n := item.FollowUps
	if n < 1 {
		n = 1
	}
	b["follow_up_number"] = n
	b["prior"] = map[string]interface{}{
		"subject": prior.Subject,
		"body":    prior.Body,
		"sent_on": priorSent.UTC().Format("January 2, 2006"),
	}
	b["engagement_note"] = engagementNote(item, priorSent)
	return s.renderer.Render("follow_up", followUpPrompt, b)
}

func (s *Service) bindings(item *domain.OutreachItem, inv *domain.InvestorProfile, com *domain.CompanyProfile) map[string]interface{} {
	reasons := make([]string, 0, len(item.Score.Rationale))
	for _, f := range item.Score.Rationale {
		if f.Detail != "" {
			reasons = append(reasons, f.Name+": "+f.Detail)
		}
	}
	portfolio := make([]string, 0, len(inv.Portfolio))
	for _, pc := range inv.Portfolio {
		if pc.Sector != "" {
			portfolio = append(portfolio, pc.Name+" ("+pc.Sector+")")
		} else {
			portfolio = append(portfolio, pc.Name)
		}
	}
	activity := make([]string, 0, len(inv.RecentActivity))
	for _, a := range inv.RecentActivity {
		activity = append(activity, a.Title+" ("+a.OccurredAt.UTC().Format("Jan 2006")+")")
	}
	return map[string]interface{}{
		"sender":  s.sender,
		"score":   item.Score.Score,
		"reasons": reasons,
		"facts":   com.Facts(),
		"company": map[string]interface{}{
			"name":   com.Name,
			"sector": com.Sector,
			"stage":  com.Stage,
			"raise":  com.RaiseUSD,
		},
		"investor": map[string]interface{}{
			"name":        inv.Name,
			"firm":        inv.Firm,
			"stages":      inv.Stages,
			"sectors":     inv.Sectors,
			"geographies": inv.Geographies,
			"check_min":   inv.CheckSizeMin,
			"check_max":   inv.CheckSizeMax,
			"portfolio":   portfolio,
			"activity":    activity,
			"warm":        inv.WarmConnections,
		},
	}
}

// engagementNote summarizes what the recipient did since the last send,
// for the follow-up prompt.
func engagementNote(item *domain.OutreachItem, since time.Time) string {
	var opened, clicked bool
	for _, ev := range item.Engagement {
		if ev.Timestamp.Before(since) {
			continue
		}
		switch ev.Kind {
		case domain.EngagementClick:
			clicked = true
		case domain.EngagementOpen:
			opened = true
		}
	}
	switch {
	case clicked:
		return "They clicked a link in the earlier email but have not replied."
	case opened:
		return "They opened the earlier email but have not replied."
	default:
		return "The earlier email drew no visible engagement."
	}
}
