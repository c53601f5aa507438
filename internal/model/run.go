package model

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusActive   RunStatus = "active"
	RunStatusArchived RunStatus = "archived"
	RunStatusDeleted  RunStatus = "deleted"
)

// Run is a keyed workspace accumulating one brand's pipeline artifacts.
// Each artifact slot is independently optional and filled as the
// corresponding phase completes; a rewrite replaces the slot atomically.
type Run struct {
	ID                  string               `json:"id"`
	Status              RunStatus            `json:"status"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
	Brand               *BrandAnalysis       `json:"brand,omitempty"`
	CompetitorsTen      []CompetitorCandidate `json:"competitors_ten,omitempty"`
	CompetitorsAnalyzed []CompetitorAnalysis `json:"competitors_analyzed,omitempty"`
	Kernel              *Kernel              `json:"kernel,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
	ExpiresAt           time.Time            `json:"expires_at"`
}

// Expired reports whether the run is past its expiration deadline.
func (r *Run) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Status RunStatus
	Limit  int
}

// TokenUsage accumulates LLM token consumption across calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
