package scrape

import "strings"

// BlockType describes the kind of anti-bot wall detected on a rendered page.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockEmpty      BlockType = "empty"
)

// DetectBlock inspects a rendered page for signs that a bot wall answered
// instead of the site. Blocked pages carry no brand signal and would poison
// the analysis corpus, so the fetcher drops them.
func DetectBlock(title, text string) (bool, BlockType) {
	lowerTitle := strings.ToLower(title)
	lowerText := strings.ToLower(text)

	// Cloudflare interstitials.
	if strings.Contains(lowerTitle, "just a moment") ||
		strings.Contains(lowerText, "checking your browser") ||
		strings.Contains(lowerText, "cf-browser-verification") {
		return true, BlockCloudflare
	}

	// Captcha walls.
	if strings.Contains(lowerTitle, "captcha") ||
		strings.Contains(lowerText, "complete the captcha") ||
		strings.Contains(lowerText, "verify you are human") ||
		strings.Contains(lowerText, "unusual traffic") {
		return true, BlockCaptcha
	}

	// A rendered page with no visible text at all is a wall or an error
	// page, never brand content.
	if strings.TrimSpace(text) == "" {
		return true, BlockEmpty
	}

	return false, BlockNone
}
