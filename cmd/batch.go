package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brandintel/internal/ingest"
	"github.com/sells-group/brandintel/internal/pipeline"
)

var (
	batchFile        string
	batchLimit       int
	batchConcurrency int
	batchOutputDir   string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the full pipeline for a list of brands offline",
	Long:  "Reads brand URLs from a .csv or .xlsx file and runs all four phases (brand summary, competitor discovery, competitor analysis, kernel) per brand with bounded concurrency.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		brands, err := ingest.ReadBrandList(batchFile)
		if err != nil {
			return err
		}
		if len(brands) == 0 {
			zap.L().Info("no brand URLs found", zap.String("file", batchFile))
			return nil
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentBrands
		}

		return processBatch(ctx, brands, batchLimit, concurrency, batchOutputDir, env.Pipeline)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "brand list file (.csv or .xlsx, URLs in first column)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of brands to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent brands (default from config)")
	batchCmd.Flags().StringVar(&batchOutputDir, "output", "", "directory for per-brand artifact files (optional)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// phaseRunner is the pipeline surface the batch command drives.
type phaseRunner interface {
	BrandSummary(ctx context.Context, brandURL string) (*pipeline.BrandSummaryResponse, error)
	Competitors(ctx context.Context, runID string) (*pipeline.CompetitorsResponse, error)
	AnalyzeCompetitors(ctx context.Context, runID string, domains []string) (*pipeline.AnalyzeResponse, error)
	Kernel(ctx context.Context, runID string) (*pipeline.KernelResponse, error)
}

// batchResult summarizes one brand's pipeline outcome.
type batchResult struct {
	RunID       string
	BrandURL    string
	Domain      string
	Competitors int
	Analyzed    int
	HasKernel   bool
	Files       map[string]string
}

// processBatch applies limit, then runs the pipeline for each brand
// concurrently. One brand's failure does not stop the batch.
func processBatch(ctx context.Context, brands []string, limit, concurrency int, outputDir string, runner phaseRunner) error {
	if limit > 0 && len(brands) > limit {
		brands = brands[:limit]
	}

	zap.L().Info("processing batch",
		zap.Int("brands", len(brands)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, brand := range brands {
		brandURL := normalizeBrandURL(brand)
		g.Go(func() error {
			log := zap.L().With(zap.String("brand", brandURL))

			res, err := processBrand(gctx, runner, brandURL)
			if err != nil {
				failed.Add(1)
				log.Error("brand pipeline failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			if outputDir != "" {
				if err := writeBrandOutputs(outputDir, res); err != nil {
					log.Warn("failed to write brand outputs", zap.Error(err))
				}
			}

			succeeded.Add(1)
			log.Info("brand pipeline complete",
				zap.String("run_id", res.RunID),
				zap.Int("competitors", res.Competitors),
				zap.Int("analyzed", res.Analyzed),
				zap.Bool("kernel", res.HasKernel),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

// processBrand runs all four phases for one brand. When competitor
// discovery yields no candidates the analysis and kernel phases are
// skipped rather than failed.
func processBrand(ctx context.Context, runner phaseRunner, brandURL string) (*batchResult, error) {
	bs, err := runner.BrandSummary(ctx, brandURL)
	if err != nil {
		return nil, eris.Wrap(err, "brand summary")
	}

	res := &batchResult{
		RunID:    bs.RunID,
		BrandURL: brandURL,
		Files:    bs.Files,
	}
	if bs.Brand != nil {
		res.Domain = bs.Brand.Domain
	}

	comp, err := runner.Competitors(ctx, bs.RunID)
	if err != nil {
		return nil, eris.Wrap(err, "competitors")
	}
	res.Competitors = len(comp.Competitors)

	if len(comp.Competitors) == 0 {
		zap.L().Warn("no competitors survived the confidence gate, skipping analysis and kernel",
			zap.String("run_id", bs.RunID),
		)
		return res, nil
	}

	domains := make([]string, len(comp.Competitors))
	for i, c := range comp.Competitors {
		domains[i] = c.Domain
	}

	an, err := runner.AnalyzeCompetitors(ctx, bs.RunID, domains)
	if err != nil {
		return nil, eris.Wrap(err, "analyze competitors")
	}
	res.Analyzed = len(an.Analyzed)

	k, err := runner.Kernel(ctx, bs.RunID)
	if err != nil {
		return nil, eris.Wrap(err, "kernel")
	}
	if k.Kernel != nil {
		res.HasKernel = true
		if kernelJSON, err := json.MarshalIndent(k.Kernel, "", "  "); err == nil {
			if res.Files == nil {
				res.Files = make(map[string]string)
			}
			res.Files["kernel.json"] = string(kernelJSON)
		}
	}

	return res, nil
}

// writeBrandOutputs writes the artifact files for one brand under
// outputDir/<domain>/.
func writeBrandOutputs(outputDir string, res *batchResult) error {
	name := res.Domain
	if name == "" {
		name = sanitizeDirName(res.BrandURL)
	}

	dir := filepath.Join(outputDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return eris.Wrap(err, "batch: create output dir")
	}

	for file, content := range res.Files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
			return eris.Wrapf(err, "batch: write %s", file)
		}
	}
	return nil
}

// normalizeBrandURL prepends https:// when the list entry has no scheme.
func normalizeBrandURL(raw string) string {
	if !strings.Contains(raw, "://") {
		return "https://" + raw
	}
	return raw
}

// sanitizeDirName makes a URL safe to use as a directory name.
func sanitizeDirName(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	replacer := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_", "#", "_")
	return replacer.Replace(s)
}
