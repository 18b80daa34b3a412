package draft

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

const systemPrompt = `You write investor outreach email for an early-stage founder. Reply with
one JSON object and nothing else. Keys: "subject" (a string), "body"
(plain text, under 180 words), "talking_points" (an array of strings).
Every talking point must quote one of the supplied facts verbatim. Never
invent metrics, names, or claims that are not in the facts.`

const firstTouchPrompt = `Write a cold outreach email from {{ sender }}, founder of {{ company.name }},
to {{ investor.name }}{% if investor.firm != "" %} at {{ investor.firm }}{% endif %}.

The company:
- Sector: {{ company.sector }}
- Stage: {{ company.stage }}
{% if company.raise > 0 %}- Raising: {{ company.raise | usd }}
{% endif %}
Facts you may use:
{{ facts | bullets }}

The investor:
{% if investor.sectors.size > 0 %}- Invests in: {{ investor.sectors | join: ", " }}
{% endif %}{% if investor.stages.size > 0 %}- Stages: {{ investor.stages | join: ", " }}
{% endif %}{% if investor.geographies.size > 0 %}- Geography: {{ investor.geographies | join: ", " }}
{% endif %}{% if investor.check_min > 0 %}- Check size: {{ investor.check_min | usd }} to {{ investor.check_max | usd }}
{% endif %}{% if investor.portfolio.size > 0 %}- Portfolio: {{ investor.portfolio | join: "; " }}
{% endif %}{% if investor.warm.size > 0 %}- Warm connections: {{ investor.warm | join: ", " }}
{% endif %}{% if investor.activity.size > 0 %}
Recent investor activity:
{{ investor.activity | bullets }}
{% endif %}
Why this investor fits (match score {{ score }}/100):
{{ reasons | bullets }}

Open with something specific to this investor, make the traction concrete
with the facts above, and close with a short ask for a call.`

const followUpPrompt = `Write follow-up number {{ follow_up_number }} from {{ sender }}, founder of
{{ company.name }}, to {{ investor.name }}{% if investor.firm != "" %} at {{ investor.firm }}{% endif %}.

The earlier email, sent {{ prior.sent_on }}:
Subject: {{ prior.subject }}
{{ prior.body }}

{{ engagement_note }}

Facts you may use:
{{ facts | bullets }}

Keep it shorter than the earlier email, reference it without repeating
it, and work in one fact the earlier email did not use. Close with a
specific ask.`

const correctivePrompt = `That attempt was rejected:
{{ problems | bullets }}

Return a corrected JSON object with the same keys. Quote the supplied
facts verbatim in every talking point and leave no field empty.`

// Renderer renders prompt templates through a shared liquid engine.
// Parsed templates are cached by name; corrective retries re-render the
// same templates often enough that re-parsing would dominate.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map
}

// NewRenderer builds a renderer with the outreach filter set registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()
	registerFilters(engine)
	return &Renderer{engine: engine}
}

// Render parses source, cached under name, and renders it with bindings.
func (r *Renderer) Render(name, source string, bindings map[string]interface{}) (string, error) {
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(name); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		r.cache.Store(name, parsed)
		tpl = parsed
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out, nil
}

func registerFilters(engine *liquid.Engine) {
	// usd prints a dollar amount the way the rest of the pipeline prints
	// money: $2.5M, $750K, $900.
	engine.RegisterFilter("usd", func(v float64) string {
		switch {
		case v >= 1_000_000:
			return strings.Replace(fmt.Sprintf("$%.1fM", v/1_000_000), ".0M", "M", 1)
		case v >= 1_000:
			return fmt.Sprintf("$%.0fK", v/1_000)
		default:
			return fmt.Sprintf("$%.0f", v)
		}
	})

	// bullets renders a list as one markdown bullet per line.
	engine.RegisterFilter("bullets", func(v interface{}) string {
		var lines []string
		switch items := v.(type) {
		case []string:
			for _, it := range items {
				lines = append(lines, "- "+it)
			}
		case []interface{}:
			for _, it := range items {
				lines = append(lines, fmt.Sprintf("- %v", it))
			}
		default:
			return fmt.Sprintf("- %v", v)
		}
		return strings.Join(lines, "\n")
	})
}
