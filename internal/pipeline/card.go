package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/brandintel/internal/model"
)

// BuildBrandCard projects a BrandAnalysis into the stable card shape. The
// section list and its order are fixed so two runs over the same analysis
// always produce the same card.
func BuildBrandCard(b *model.BrandAnalysis) *model.BrandCard {
	return &model.BrandCard{
		Title:      b.Name,
		Tagline:    b.Tagline,
		Domain:     b.Domain,
		Category:   b.Category,
		Confidence: b.AdjustedConfidence(),
		Sections: []model.CardSection{
			{Heading: "Value Propositions", Items: b.ValuePropositions},
			{Heading: "Target Audience", Text: b.TargetAudience},
			{Heading: "Positioning", Text: b.Positioning},
			{Heading: "Key Features", Items: b.KeyFeatures},
		},
	}
}

// RenderBrandCard generates the markdown form of a card.
func RenderBrandCard(c *model.BrandCard) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", c.Title)
	if c.Tagline != "" {
		fmt.Fprintf(&b, "\n> %s\n", c.Tagline)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- **Domain**: %s\n", c.Domain)
	fmt.Fprintf(&b, "- **Category**: %s\n", c.Category)
	fmt.Fprintf(&b, "- **Confidence**: %.2f\n", c.Confidence)

	for _, s := range c.Sections {
		fmt.Fprintf(&b, "\n## %s\n", s.Heading)
		if s.Text != "" {
			fmt.Fprintf(&b, "%s\n", s.Text)
		}
		for _, item := range s.Items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	return b.String()
}
