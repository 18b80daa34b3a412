package domain

// ScoreFactor is one line of a match score's rationale. SubScore is in
// [0,1] before weighting.
type ScoreFactor struct {
	Name     string  `json:"name"`
	SubScore float64 `json:"sub_score"`
	Weight   float64 `json:"weight"`
	Detail   string  `json:"detail"`
}

// MatchScore is the deterministic fit evaluation of one investor snapshot
// against one company snapshot. It carries the snapshot versions it was
// computed from so staleness is a pure version comparison; recomputing
// from the same versions yields an equal value.
type MatchScore struct {
	Score           int           `json:"score"` // [0,100]
	Rationale       []ScoreFactor `json:"rationale"`
	InvestorVersion int           `json:"investor_version"`
	CompanyVersion  int           `json:"company_version"`
}

// StaleFor reports whether the score was computed from older snapshots
// than the given versions.
func (m *MatchScore) StaleFor(investorVersion, companyVersion int) bool {
	return m.InvestorVersion != investorVersion || m.CompanyVersion != companyVersion
}
