// Package scoring computes investor/company match scores. Scoring is a
// pure function of two profile snapshots: the same investor version and
// company version always produce the same score and rationale.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/fundline/outreach/internal/domain"
)

// Weights holds the relative weight of each scoring criterion. A zero
// weight removes the criterion from the total but keeps its rationale line.
type Weights struct {
	Stage            float64
	Sector           float64
	Geography        float64
	CheckSize        float64
	PortfolioSynergy float64
}

// Config controls the scoring engine.
type Config struct {
	Weights Weights
	// Neutral is the sub-score for criteria the investor profile doesn't
	// state. An absent criterion never scores below an explicit mismatch.
	Neutral float64
}

// DefaultConfig returns equal weights and a 0.5 neutral sub-score.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{Stage: 1, Sector: 1, Geography: 1, CheckSize: 1, PortfolioSynergy: 1},
		Neutral: 0.5,
	}
}

// Engine scores investor profiles against a company profile.
type Engine struct {
	cfg Config
}

// NewEngine creates a scoring engine. Neutral is clamped into [0,1].
func NewEngine(cfg Config) *Engine {
	if cfg.Neutral < 0 {
		cfg.Neutral = 0
	}
	if cfg.Neutral > 1 {
		cfg.Neutral = 1
	}
	return &Engine{cfg: cfg}
}

// Score evaluates one investor snapshot against one company snapshot.
// The rationale always lists the five criteria in a fixed order so two
// scores from the same inputs compare equal field for field.
func (e *Engine) Score(inv *domain.InvestorProfile, com *domain.CompanyProfile) *domain.MatchScore {
	factors := []domain.ScoreFactor{
		e.stageFactor(inv, com),
		e.sectorFactor(inv, com),
		e.geographyFactor(inv, com),
		e.checkSizeFactor(inv, com),
		e.portfolioFactor(inv, com),
	}

	var sum, totalWeight float64
	for _, f := range factors {
		sum += f.SubScore * f.Weight
		totalWeight += f.Weight
	}
	score := 0
	if totalWeight > 0 {
		score = int(math.Round(100 * sum / totalWeight))
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &domain.MatchScore{
		Score:           score,
		Rationale:       factors,
		InvestorVersion: inv.Version,
		CompanyVersion:  com.Version,
	}
}

func (e *Engine) stageFactor(inv *domain.InvestorProfile, com *domain.CompanyProfile) domain.ScoreFactor {
	f := domain.ScoreFactor{Name: "stage", Weight: e.cfg.Weights.Stage}
	switch {
	case com.Stage == "":
		f.SubScore = e.cfg.Neutral
		f.Detail = "company stage not provided"
	case len(inv.Stages) == 0:
		f.SubScore = e.cfg.Neutral
		f.Detail = "no stage preference recorded"
	case containsFold(inv.Stages, com.Stage):
		f.SubScore = 1
		f.Detail = fmt.Sprintf("invests at %s", strings.ToLower(com.Stage))
	default:
		f.SubScore = 0
		f.Detail = fmt.Sprintf("%s outside stated stages (%s)", com.Stage, strings.Join(inv.Stages, ", "))
	}
	return f
}

func (e *Engine) sectorFactor(inv *domain.InvestorProfile, com *domain.CompanyProfile) domain.ScoreFactor {
	f := domain.ScoreFactor{Name: "sector", Weight: e.cfg.Weights.Sector}
	switch {
	case com.Sector == "":
		f.SubScore = e.cfg.Neutral
		f.Detail = "company sector not provided"
	case len(inv.Sectors) == 0:
		f.SubScore = e.cfg.Neutral
		f.Detail = "no sector focus recorded"
	case containsFold(inv.Sectors, com.Sector):
		f.SubScore = 1
		f.Detail = fmt.Sprintf("invests in %s", strings.ToLower(com.Sector))
	default:
		f.SubScore = 0
		f.Detail = fmt.Sprintf("%s outside stated sectors (%s)", com.Sector, strings.Join(inv.Sectors, ", "))
	}
	return f
}

func (e *Engine) geographyFactor(inv *domain.InvestorProfile, com *domain.CompanyProfile) domain.ScoreFactor {
	f := domain.ScoreFactor{Name: "geography", Weight: e.cfg.Weights.Geography}
	switch {
	case com.Geography == "":
		f.SubScore = e.cfg.Neutral
		f.Detail = "company geography not provided"
	case len(inv.Geographies) == 0:
		f.SubScore = e.cfg.Neutral
		f.Detail = "no geography preference recorded"
	case containsFold(inv.Geographies, com.Geography):
		f.SubScore = 1
		f.Detail = fmt.Sprintf("invests in %s", com.Geography)
	default:
		f.SubScore = 0
		f.Detail = fmt.Sprintf("%s outside stated geographies (%s)", com.Geography, strings.Join(inv.Geographies, ", "))
	}
	return f
}

func (e *Engine) checkSizeFactor(inv *domain.InvestorProfile, com *domain.CompanyProfile) domain.ScoreFactor {
	f := domain.ScoreFactor{Name: "check_size", Weight: e.cfg.Weights.CheckSize}
	min, max := inv.CheckSizeMin, inv.CheckSizeMax
	switch {
	case com.RaiseUSD <= 0:
		f.SubScore = e.cfg.Neutral
		f.Detail = "raise amount not provided"
	case min <= 0 && max <= 0:
		f.SubScore = e.cfg.Neutral
		f.Detail = "no check size range recorded"
	case (min <= 0 || com.RaiseUSD >= min) && (max <= 0 || com.RaiseUSD <= max):
		f.SubScore = 1
		f.Detail = fmt.Sprintf("raise %s within check range", formatUSD(com.RaiseUSD))
	default:
		// Outside the range the sub-score falls off with distance, capped
		// below both the in-range score and the absent-criterion score.
		var proximity float64
		if min > 0 && com.RaiseUSD < min {
			proximity = float64(com.RaiseUSD) / float64(min)
		} else {
			proximity = float64(max) / float64(com.RaiseUSD)
		}
		sub := 0.5 * proximity
		if sub > e.cfg.Neutral {
			sub = e.cfg.Neutral
		}
		f.SubScore = sub
		f.Detail = fmt.Sprintf("raise %s outside check range %s to %s",
			formatUSD(com.RaiseUSD), formatUSD(min), formatUSD(max))
	}
	return f
}

func (e *Engine) portfolioFactor(inv *domain.InvestorProfile, com *domain.CompanyProfile) domain.ScoreFactor {
	f := domain.ScoreFactor{Name: "portfolio_synergy", Weight: e.cfg.Weights.PortfolioSynergy}
	switch {
	case com.Sector == "":
		f.SubScore = e.cfg.Neutral
		f.Detail = "company sector not provided"
	case len(inv.Portfolio) == 0:
		f.SubScore = e.cfg.Neutral
		f.Detail = "portfolio unknown"
	default:
		matching := 0
		for _, pc := range inv.Portfolio {
			if strings.EqualFold(pc.Sector, com.Sector) {
				matching++
			}
		}
		// Three or more adjacent portfolio companies count as full synergy.
		sub := float64(matching) / 3
		if sub > 1 {
			sub = 1
		}
		f.SubScore = sub
		f.Detail = fmt.Sprintf("%d portfolio companies in %s", matching, strings.ToLower(com.Sector))
	}
	return f
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func formatUSD(v int64) string {
	switch {
	case v <= 0:
		return "$0"
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", float64(v)/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.0fK", float64(v)/1_000)
	default:
		return fmt.Sprintf("$%d", v)
	}
}
