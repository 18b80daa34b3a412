package draft

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/logger"
)

const composerBody = `Hi {{ investor_name }},

I'm {{ sender }}, and I'm raising for {{ company_name }}, a {{ company_stage }}-stage {{ company_sector }} company.
{% if points.size > 0 %}
A few reasons I'm reaching out to you specifically:
{% for point in points %}- {{ point }}
{% endfor %}{% endif %}{% if follow_up %}
I wrote to you on {{ prior_sent_on }} and wanted to make sure this didn't get buried. Happy to share more context if useful.
{% endif %}
Would you be open to a short call in the next couple of weeks?

Best,
{{ sender }}`

// TemplateComposer renders drafts from a canned template without
// calling a model. Dev-mode servers use it so the pipeline can run end
// to end with no Bedrock access; the drafts are plain, but every
// talking point still quotes a profile fact.
type TemplateComposer struct {
	renderer *Renderer
	sender   string
	log      *logger.Logger
	now      func() time.Time
}

// NewTemplateComposer builds the offline composer. sender is the
// signature name, normally the dispatch from-name.
func NewTemplateComposer(sender string) *TemplateComposer {
	return &TemplateComposer{
		renderer: NewRenderer(),
		sender:   sender,
		log:      logger.Component("draft.template"),
		now:      time.Now,
	}
}

// Compose produces the next draft for an item from templates alone. The
// contract matches Service.Compose: Version is left for the caller to
// assign, and an item with a confirmed send gets a follow-up draft.
func (c *TemplateComposer) Compose(ctx context.Context, item *domain.OutreachItem, inv *domain.InvestorProfile, com *domain.CompanyProfile) (domain.Draft, error) {
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

	points := templatePoints(item, inv)
	body, err := c.renderer.Render("template_composer", composerBody, map[string]interface{}{
		"sender":         c.sender,
		"investor_name":  inv.Name,
		"company_name":   com.Name,
		"company_stage":  com.Stage,
		"company_sector": com.Sector,
		"points":         points,
		"follow_up":      prior != nil,
		"prior_sent_on":  priorSent.UTC().Format("January 2, 2006"),
	})
	if err != nil {
		return domain.Draft{}, domain.TerminalErr("draft", err)
	}

	subject := subjectFor(com, inv)
	if prior != nil {
		subject = "Re: " + prior.Subject
	}

	c.log.Debug("composed from template", "item_id", item.ID, "follow_up", prior != nil)
	return domain.Draft{
		Subject:       subject,
		Body:          body,
		TalkingPoints: points,
		Author:        domain.DraftAuthorGenerator,
		FollowUp:      priorVersion > 0,
		Inputs: domain.DraftInputs{
			InvestorVersion: inv.Version,
			CompanyVersion:  com.Version,
			Score:           item.Score.Score,
			PriorVersion:    priorVersion,
		},
		CreatedAt: c.now().UTC(),
	}, nil
}

func subjectFor(com *domain.CompanyProfile, inv *domain.InvestorProfile) string {
	firm := inv.Firm
	if firm == "" {
		firm = inv.Name
	}
	return fmt.Sprintf("%s x %s", com.Name, firm)
}

// templatePoints assembles up to three talking points, each a verbatim
// fact from the profiles so the output holds to the same grounding rule
// the validator enforces on generated drafts.
func templatePoints(item *domain.OutreachItem, inv *domain.InvestorProfile) []string {
	var points []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || len(points) >= 3 {
			return
		}
		points = append(points, p)
	}
	for _, f := range item.Score.Rationale {
		add(f.Detail)
	}
	for _, pc := range inv.Portfolio {
		add(pc.Name)
	}
	for _, a := range inv.RecentActivity {
		add(a.Title)
	}
	add(inv.Firm)
	return points
}
