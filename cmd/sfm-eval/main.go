// Command sfm-eval evaluates a reconstruction against rendered ground truth.
// It matches reconstructed camera poses to ground truth frames, solves the
// similarity alignment, computes pose and point cloud error metrics, and
// writes the results as text/CSV/JSON files, optional charts, and a row in
// the evaluation runs database.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/davidemarelli/sfm-flow/internal/config"
	"github.com/davidemarelli/sfm-flow/internal/db"
	"github.com/davidemarelli/sfm-flow/internal/sfm"
	"github.com/davidemarelli/sfm-flow/internal/sfm/charts"
	"github.com/davidemarelli/sfm-flow/internal/sfm/parse"
	sqlitestore "github.com/davidemarelli/sfm-flow/internal/sfm/storage/sqlite"
	"github.com/davidemarelli/sfm-flow/internal/version"
)

func main() {
	var (
		reconPath  = flag.String("recon", "", "Reconstruction file (.out or .nvm)")
		gtCameras  = flag.String("gt-cameras", "", "Ground truth camera poses CSV")
		gtPoints   = flag.String("gt-points", "", "Ground truth surface samples CSV (optional)")
		modelName  = flag.String("name", "", "Model name (default: reconstruction file basename)")
		configPath = flag.String("config", "", "Tuning config JSON (optional)")
		outDir     = flag.String("out", ".", "Output directory for evaluation files")
		overwrite  = flag.Bool("overwrite", false, "Overwrite existing evaluation files instead of appending")
		dbPath     = flag.String("db", "", "SQLite results database (optional)")
		withCharts = flag.Bool("charts", false, "Write HTML charts and a PNG error histogram")
		icpRefine  = flag.Bool("icp", false, "Refine the alignment with ICP over the point clouds")
		robust     = flag.Bool("robust", false, "Exclude flagged outliers from aggregate statistics")
		filter     = flag.Float64("filter", 0, "Point cloud distance filter threshold (0 disables)")
		showVer    = flag.Bool("version", false, "Print version information and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("sfm-eval %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *reconPath == "" || *gtCameras == "" {
		flag.Usage()
		log.Fatal("both -recon and -gt-cameras are required")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	// Flags override the config file when set explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "icp":
			cfg.ICPRefine = icpRefine
		case "robust":
			cfg.RobustStats = robust
		case "filter":
			cfg.FilterThreshold = filter
		}
	})

	gt, err := parse.ReadGroundTruth(*gtCameras, *gtPoints)
	if err != nil {
		log.Fatalf("Failed to load ground truth: %v", err)
	}

	name := *modelName
	if name == "" {
		base := filepath.Base(*reconPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	parser, err := parse.ForFile(*reconPath)
	if err != nil {
		log.Fatalf("Failed to resolve parser: %v", err)
	}
	models, err := parser.Parse(name, *reconPath)
	if err != nil {
		log.Fatalf("Failed to parse reconstruction: %v", err)
	}

	var store *sqlitestore.RunStore
	if *dbPath != "" {
		database, err := db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open results database: %v", err)
		}
		defer database.Close()
		store = sqlitestore.NewRunStore(database.DB)
	}

	pipeline := cfg.PipelineConfig()
	for _, model := range models {
		report, err := sfm.Evaluate(gt, model, pipeline)
		if err != nil {
			log.Fatalf("Evaluation of %s failed: %v", model.Name, err)
		}

		logSummary(report)

		if err := writeOutputs(report, *outDir, *overwrite, *withCharts); err != nil {
			log.Fatalf("Failed to write outputs: %v", err)
		}

		if store != nil {
			if err := persistRun(store, cfg, report, *reconPath, parser.Name()); err != nil {
				log.Fatalf("Failed to persist run: %v", err)
			}
			log.Printf("[Eval] Run %s stored in %s", report.RunID, *dbPath)
		}
	}
}

func logSummary(report *sfm.ErrorReport) {
	log.Printf("[Eval] Model %s: scale=%.6f completeness=%.1f%% (%d/%d cameras, %d outliers)",
		report.ModelName, report.Transform.Scale, report.Cameras.Completeness*100,
		report.Cameras.MatchedCount, report.Cameras.TruthCount, report.Cameras.OutlierCount)
	log.Printf("[Eval] Camera position error: mean=%.6f rms=%.6f max=%.6f",
		report.Cameras.Position.Mean, report.Cameras.Position.RMS, report.Cameras.Position.Max)
	log.Printf("[Eval] Camera rotation error: mean=%.3f° lookat=%.3f°",
		report.Cameras.Rotation.Mean, report.Cameras.LookAt.Mean)
	if report.Cloud != nil {
		log.Printf("[Eval] Point cloud distance: mean=%.6f rms=%.6f (%d/%d points used)",
			report.Cloud.Distance.Mean, report.Cloud.Distance.RMS,
			report.Cloud.UsedSize, report.Cloud.FullSize)
	}
}

func writeOutputs(report *sfm.ErrorReport, outDir string, overwrite, withCharts bool) error {
	if err := sfm.WriteText(report, filepath.Join(outDir, sfm.EvaluationFilename), overwrite); err != nil {
		return err
	}
	if err := sfm.WriteCSV(report, filepath.Join(outDir, "sfmflow_evaluation.csv"), overwrite); err != nil {
		return err
	}
	if err := sfm.WriteJSON(report, filepath.Join(outDir, report.RunID+".json")); err != nil {
		return err
	}
	if withCharts {
		if err := charts.WriteHTML(report, filepath.Join(outDir, report.RunID+".html")); err != nil {
			return err
		}
		if err := charts.WritePositionErrorPNG(report, filepath.Join(outDir, report.RunID+".png")); err != nil {
			return err
		}
	}
	return nil
}

func persistRun(store *sqlitestore.RunStore, cfg *config.TuningConfig, report *sfm.ErrorReport, sourceFile, parserName string) error {
	params, err := cfg.ParamsJSON()
	if err != nil {
		return err
	}
	run, err := sqlitestore.RunFromReport(report, sourceFile, parserName, json.RawMessage(params))
	if err != nil {
		return err
	}
	return store.Insert(run)
}
