package model

// BrandAnalysis is the first-phase artifact: the LLM's structured read of
// the scraped brand site, adjusted by evidence validation.
type BrandAnalysis struct {
	Name              string              `json:"name"`
	Domain            string              `json:"domain"`
	Tagline           string              `json:"tagline"`
	Category          string              `json:"category"`
	ValuePropositions []string            `json:"value_propositions"`
	TargetAudience    string              `json:"target_audience"`
	Positioning       string              `json:"positioning"`
	KeyFeatures       []string            `json:"key_features"`
	Summary           string              `json:"summary"`
	EvidenceRefs      []string            `json:"evidence_refs"`
	Confidence        float64             `json:"confidence_0_1"`
	Evidence          *EvidenceValidation `json:"evidence,omitempty"`
}

// AdjustedConfidence returns the confidence surfaced to callers:
// the reported value minus the evidence penalty, floored at zero.
func (b *BrandAnalysis) AdjustedConfidence() float64 {
	c := b.Confidence
	if b.Evidence != nil {
		c -= b.Evidence.ConfidencePenalty
	}
	if c < 0 {
		return 0
	}
	return c
}

// CompetitorCandidate is a discovered competitor before deep analysis.
type CompetitorCandidate struct {
	Name       string  `json:"name"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// CompetitorAnalysis is the per-competitor deep-analysis artifact. It has
// the same shape as BrandAnalysis plus competitive-positioning fields.
type CompetitorAnalysis struct {
	BrandAnalysis
	PricingApproach string   `json:"pricingApproach"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Differentiation string   `json:"differentiation"`
}

// EvidenceValidation records the outcome of citation checking.
type EvidenceValidation struct {
	Valid             []string          `json:"valid"`
	Invalid           []InvalidEvidence `json:"invalid"`
	ConfidencePenalty float64           `json:"confidence_penalty"`
}

// InvalidEvidence is a rejected citation with the rejection reason.
type InvalidEvidence struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// BrandCard is the deterministic presentation projection of a
// BrandAnalysis: a stable card structure for rendering.
type BrandCard struct {
	Title      string        `json:"title"`
	Tagline    string        `json:"tagline"`
	Domain     string        `json:"domain"`
	Category   string        `json:"category"`
	Confidence float64       `json:"confidence"`
	Sections   []CardSection `json:"sections"`
}

// CardSection is one titled block of a BrandCard.
type CardSection struct {
	Heading string   `json:"heading"`
	Text    string   `json:"text,omitempty"`
	Items   []string `json:"items,omitempty"`
}
