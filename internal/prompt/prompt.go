// Package prompt holds the embedded prompt pack: per-endpoint chat templates
// with temperature and token budgets. An optional override file merges over
// the embedded defaults so prompts can be tuned without a rebuild.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Endpoint tags. Each names one LLM call site in the pipeline.
const (
	TagBrandAnalysis        = "brand-analysis"
	TagCompetitorsDiscovery = "competitors-discovery"
	TagCompetitorAnalysis   = "competitor-analysis"
	TagKernelAssembly       = "kernel-assembly"
)

//go:embed prompts.yaml
var defaultsYAML []byte

// Prompt is one endpoint's chat template. User is a fmt format string
// expanded by Format.
type Prompt struct {
	System      string   `yaml:"system"`
	User        string   `yaml:"user"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

// Pack maps endpoint tags to their prompts.
type Pack struct {
	prompts map[string]Prompt
}

// Load parses the embedded defaults and, when overridePath is non-empty,
// merges that file's entries over them. Override fields that are set win;
// unset fields keep the embedded value.
func Load(overridePath string) (*Pack, error) {
	base, err := parse(defaultsYAML)
	if err != nil {
		return nil, eris.Wrap(err, "prompt: parse embedded defaults")
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, eris.Wrapf(err, "prompt: read override %s", overridePath)
		}
		over, err := parse(data)
		if err != nil {
			return nil, eris.Wrapf(err, "prompt: parse override %s", overridePath)
		}
		for tag, op := range over {
			p := base[tag]
			if op.System != "" {
				p.System = op.System
			}
			if op.User != "" {
				p.User = op.User
			}
			if op.Temperature != nil {
				p.Temperature = op.Temperature
			}
			if op.MaxTokens != nil {
				p.MaxTokens = op.MaxTokens
			}
			base[tag] = p
		}
	}

	return &Pack{prompts: base}, nil
}

func parse(data []byte) (map[string]Prompt, error) {
	var wrapper struct {
		Prompts map[string]Prompt `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if len(wrapper.Prompts) == 0 {
		return nil, eris.New("prompt: no prompts defined")
	}
	return wrapper.Prompts, nil
}

// Get returns the prompt registered for tag.
func (p *Pack) Get(tag string) (Prompt, error) {
	pr, ok := p.prompts[tag]
	if !ok {
		return Prompt{}, eris.Errorf("prompt: unknown tag %q", tag)
	}
	return pr, nil
}

// Format returns the tag's prompt with its user template expanded.
func (p *Pack) Format(tag string, args ...any) (Prompt, error) {
	pr, err := p.Get(tag)
	if err != nil {
		return Prompt{}, err
	}
	pr.User = fmt.Sprintf(pr.User, args...)
	return pr, nil
}

// Tags returns the defined endpoint tags in sorted order.
func (p *Pack) Tags() []string {
	tags := make([]string, 0, len(p.prompts))
	for tag := range p.prompts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
