package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/drivergrid/internal/causal"
	"github.com/vk/drivergrid/internal/ctxlog"
	"github.com/vk/drivergrid/internal/export"
	"github.com/vk/drivergrid/internal/fsutil"
	"github.com/vk/drivergrid/internal/modelfile"
)

// runModelFiles is the one-shot mode: every model file under the configured
// path is hydrated and its declared analyses run, with reports delivered to
// the configured sink.
func (a *App) runModelFiles(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	paths, err := fsutil.FindModelFiles(a.config.ModelPath, ".hcl")
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		logger.Warn("No model files found, nothing to do.", "path", a.config.ModelPath)
		return nil
	}
	logger.Info("Model files resolved.", "count", len(paths))

	writer := &export.Writer{Dir: a.config.ReportsDir, UploadURL: a.config.UploadURL}
	for _, path := range paths {
		if err := a.runModelFile(ctx, path, writer); err != nil {
			return fmt.Errorf("model file %s: %w", path, err)
		}
	}
	return nil
}

func (a *App) runModelFile(ctx context.Context, path string, writer *export.Writer) error {
	logger := ctxlog.FromContext(ctx).With("model", filepath.Base(path))

	file, err := modelfile.Decode(ctx, path)
	if err != nil {
		return err
	}
	analyzer, err := causal.Hydrate(ctx, file.ToModel())
	if err != nil {
		return err
	}
	md := analyzer.Graph().Metadata()
	logger.Info("Model hydrated.", "nodes", len(md.Nodes), "edges", len(md.Edges), "periods", len(analyzer.Periods()))

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	for _, metric := range file.Metrics {
		result, err := analyzer.AnalyzeDrivers(ctx, metric)
		if err != nil {
			return err
		}
		report, err := export.DriverReport(metric, result)
		if err != nil {
			return err
		}
		dest, err := writer.Deliver(ctx, fmt.Sprintf("%s_%s_drivers.csv", base, metric), report)
		if err != nil {
			return err
		}
		logger.Info("Driver sensitivity report delivered.", "metric", metric, "destination", dest)

		weak, err := analyzer.DetectWeakAssumptions(ctx)
		if err != nil {
			return err
		}
		for _, w := range weak {
			logger.Warn("Weak assumption detected.", "driver", w.ID, "reason", w.Reason)
		}
	}

	for _, scenario := range file.Scenarios {
		result, err := analyzer.SimulateScenario(ctx, scenario.Metric, scenario.Changes)
		if err != nil {
			return err
		}
		logger.Info("Scenario simulated.",
			"scenario", scenario.Name,
			"metric", scenario.Metric,
			"baseline", result.Baseline,
			"projected", result.Scenario,
			"variance_percent", result.VariancePercent)
	}

	for _, variance := range file.Variances {
		result, err := analyzer.ExplainVariance(ctx, variance.Metric, variance.From, variance.To)
		if err != nil {
			return err
		}
		report, err := export.VarianceReport(variance.Metric, result)
		if err != nil {
			return err
		}
		dest, err := writer.Deliver(ctx, fmt.Sprintf("%s_%s_variance.csv", base, variance.Metric), report)
		if err != nil {
			return err
		}
		logger.Info("Variance report delivered.", "metric", variance.Metric, "variance", result.Variance, "destination", dest)
	}

	return nil
}
