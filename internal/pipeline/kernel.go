package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
)

// Kernel runs the synthesis phase: assemble the keyword map, gap map,
// insights, and recommendations from the brand and competitor artifacts.
func (p *Pipeline) Kernel(ctx context.Context, runID string) (resp *KernelResponse, err error) {
	started := p.now()
	done := trackPhase(phaseKernel, runID)
	defer func() { done(err) }()

	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Brand == nil {
		return nil, apperr.PrereqMissing("run " + runID + " has no brand analysis; run brand-summary first")
	}
	if len(run.CompetitorsAnalyzed) == 0 {
		return nil, apperr.PrereqMissing("run " + runID + " has no analyzed competitors; run competitors/analyze first")
	}

	brandJSON, err := json.Marshal(run.Brand)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal brand analysis")
	}
	analyzedJSON, err := json.Marshal(run.CompetitorsAnalyzed)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal analyzed competitors")
	}

	pr, err := p.prompts.Format(prompt.TagKernelAssembly, string(brandJSON), string(analyzedJSON))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build kernel prompt")
	}
	raw, usage, err := p.gateway.Call(ctx, prompt.TagKernelAssembly, pr)
	if err != nil {
		return nil, err
	}

	var kernel model.Kernel
	if err := json.Unmarshal(raw, &kernel); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeOpenAIError, "kernel payload has unexpected shape")
	}

	if err := ensureActive(ctx, phaseKernel); err != nil {
		return nil, err
	}
	if err := p.store.SaveKernel(ctx, runID, &kernel); err != nil {
		return nil, eris.Wrap(err, "pipeline: save kernel")
	}

	return &KernelResponse{
		RunID:  runID,
		Kernel: &kernel,
		Meta:   p.meta(started, 0, usage),
	}, nil
}
