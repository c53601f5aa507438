package model

// Kernel is the final synthesis artifact: the competitive-intelligence
// document assembled from the brand and competitor analyses.
type Kernel struct {
	KeywordMap      KeywordMap `json:"keywordMap"`
	GapMap          []GapEntry `json:"gapMap"`
	Insights        Insights   `json:"insights"`
	Recommendations []string   `json:"recommendations"`
}

// KeywordMap partitions the competitive keyword space.
type KeywordMap struct {
	BrandUnique []string `json:"brand_unique"`
	Shared      []string `json:"shared"`
	WhiteSpace  []string `json:"white_space"`
}

// Coverage grades how well an area is served.
type Coverage string

const (
	CoverageLow    Coverage = "low"
	CoverageMedium Coverage = "medium"
	CoverageHigh   Coverage = "high"
)

// GapEntry describes one competitive gap area.
type GapEntry struct {
	Area               string   `json:"area"`
	BrandCoverage      Coverage `json:"brand_coverage"`
	CompetitorCoverage Coverage `json:"competitor_coverage"`
	Opportunity        string   `json:"opportunity"`
}

// Insights groups the kernel's qualitative findings.
type Insights struct {
	Strengths     []string `json:"strengths"`
	Opportunities []string `json:"opportunities"`
	Risks         []string `json:"risks"`
}
