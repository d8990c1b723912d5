package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"her2dish/internal/logger"
	"her2dish/pkg/analysis"
	"her2dish/pkg/cargo"
	"her2dish/pkg/classify"
	"her2dish/pkg/config"
	"her2dish/pkg/pipeline"
	"her2dish/pkg/report"
	"her2dish/pkg/segment"
	"her2dish/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Case directory of DISH images, or a tree of cases with -batch")
	configPath := flag.String("config", "her2dish.yaml", "Configuration file")
	workers := flag.Int("workers", 0, "Number of images processed at once (default: from config)")
	model := flag.String("model", "", "Segmentation model: stardist, cellpose, otsu or opencv (default: from config)")
	resume := flag.Bool("resume", false, "Reload the confirmed cells of a previous final report")
	auto := flag.Bool("auto", false, "Select the cells to report automatically and write the final report")
	batch := flag.Bool("batch", false, "Process every case found under -input")
	saveCells := flag.Bool("save-cells", true, "Save review crops of the reported cells")
	top := flag.Int("top", 10, "Number of ranked cells to print")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *workers > 0 {
		cfg.Processing.Workers = *workers
	}
	if *model != "" {
		cfg.Segmentation.Model = *model
	}

	lg, err := logger.New(cfg.Output.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	segModel, err := segment.ParseModel(cfg.Segmentation.Model)
	if err != nil {
		log.Fatalf("Invalid segmentation model: %v", err)
	}

	params := pipeline.Params{
		HER2Model:         cfg.Classifier.HER2Model,
		Chr17Model:        cfg.Classifier.Chr17Model,
		SegmentationModel: segModel,
		Workers:           cfg.Processing.Workers,
		SignalExpand:      cfg.Scoring.SignalExpand,
		BackgroundDelta:   cfg.Scoring.BackgroundDelta,
		Scoring: analysis.Options{
			HeatmapSigma:     cfg.Scoring.HeatmapSigma,
			HeatmapThreshold: cfg.Scoring.HeatmapThreshold,
		},
		Logger: lg,
	}
	if cfg.Output.Verbose {
		params.Status = func(s string) { fmt.Println(s) }
	}
	orchestrator, err := pipeline.NewOrchestrator(newClassifier(cfg), newSegmenter(cfg), params)
	if err != nil {
		log.Fatalf("Invalid processing parameters: %v", err)
	}

	policy := pipeline.ReviewPolicy{
		BaseCells:     cfg.Review.BaseCells,
		ExtendedCells: cfg.Review.ExtendedCells,
		RatioLow:      cfg.Review.RatioLow,
		RatioHigh:     cfg.Review.RatioHigh,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("================================")
	fmt.Println("HER2 / CHR17 DUAL ISH ANALYSIS")
	fmt.Println("================================")

	startTime := time.Now()
	if *batch {
		runBatch(ctx, orchestrator, *inputDir, pipeline.BatchOptions{
			OutputBase:     cfg.Processing.OutputBase,
			Review:         policy,
			CropExtend:     cfg.Review.CropExtend,
			AmplifiedRatio: cfg.Review.AmplifiedRatio,
			SaveCells:      *saveCells,
		})
		fmt.Printf("\nBatch completed in %.2f seconds\n", time.Since(startTime).Seconds())
		return
	}

	cas, err := cargo.NewCase(*inputDir, cargo.CaseOptions{
		OutputBase: cfg.Processing.OutputBase,
		Resume:     func(string) bool { return *resume },
		Logger:     lg,
	})
	if err != nil {
		log.Fatalf("Failed to open case: %v", err)
	}

	res, err := orchestrator.Process(ctx, cas)
	if err != nil {
		log.Fatalf("Processing failed: %v", err)
	}
	if err := report.WriteAllCellScore(cas.AllCellExcelPath(), cas.AllCellScore); err != nil {
		log.Fatalf("Failed to export ranking: %v", err)
	}

	fmt.Printf("\nProcessed %d images in %.2f seconds (run %s)\n", len(cas.Keys()), res.Elapsed.Seconds(), res.RunID)
	fmt.Printf("Ranked %d candidate cells, exported to: %s\n\n", len(cas.AllCellScore), cas.AllCellExcelPath())
	for i, r := range cas.AllCellScore {
		if i >= *top {
			break
		}
		fmt.Printf("%3d. %-28s HER2 %2d  Chr17 %2d  Ratio %.3f  Score %.6f\n", i+1, r.Name(), r.HER2, r.Chr17, r.Ratio, r.Score)
	}

	if *auto {
		if _, err := pipeline.AutoSelect(cas, policy, cfg.Review.CropExtend); err != nil {
			log.Fatalf("Cell selection failed: %v", err)
		}
		if err := report.WriteFinalReport(cas.ReportExcelPath(), cas.FinalCellScore, cfg.Review.AmplifiedRatio); err != nil {
			log.Fatalf("Failed to write final report: %v", err)
		}
		fmt.Printf("\nFinal report saved to: %s\n", cas.ReportExcelPath())

		if *saveCells {
			cellsDir := filepath.Join(cas.OutputPath, "cells")
			if err := visualization.SaveCellSequence(cas.FinalCellScore, cas.FinalCellImage, cellsDir); err != nil {
				log.Printf("Warning: Failed to save cell images: %v", err)
			} else {
				fmt.Printf("Cell images saved to: %s\n", cellsDir)
			}
		}
	}

	if len(cas.FinalCellScore) > 0 {
		printSummary(report.Summarize(cas.FinalCellScore, cfg.Review.AmplifiedRatio))
	}
}

func runBatch(ctx context.Context, o *pipeline.Orchestrator, root string, opts pipeline.BatchOptions) {
	cases, err := pipeline.DiscoverCases(root)
	if err != nil {
		log.Fatalf("Failed to discover cases: %v", err)
	}
	fmt.Printf("Found %d cases under %s\n", len(cases), root)

	summaries, err := o.RunBatch(ctx, cases, opts)
	if err != nil {
		log.Printf("Warning: some cases failed: %v", err)
	}

	resultsPath := filepath.Join(root, "results.xlsx")
	if err := report.WriteBatchSummary(resultsPath, summaries); err != nil {
		log.Fatalf("Failed to write batch results: %v", err)
	}
	fmt.Printf("Batch results saved to: %s\n", resultsPath)
}

func printSummary(s report.Summary) {
	fmt.Printf("\nCase Summary:\n")
	fmt.Printf("=============\n")
	fmt.Printf("Cells: %d\n", s.Cells)
	fmt.Printf("Total HER2: %d\n", s.HER2)
	fmt.Printf("Total Chr17: %d\n", s.Chr17)
	fmt.Printf("HER2 per cell: %.3f\n", s.HER2PerCell)
	fmt.Printf("Chr17 per cell: %.3f\n", s.Chr17PerCell)
	fmt.Printf("HER2 / Chr17: %.3f\n", s.Ratio)
	fmt.Printf("Result: %s\n", s.Result())
}

func newClassifier(cfg *config.Config) classify.Classifier {
	if len(cfg.Classifier.Command) > 0 {
		return classify.NewExec(cfg.Classifier.Command)
	}
	return classify.Threshold{}
}

func newSegmenter(cfg *config.Config) segment.Segmenter {
	threshold := segment.NewThreshold()
	threshold.MinArea = cfg.Segmentation.MinCellArea
	threshold.Expand = cfg.Segmentation.ExpandDistance

	sel := segment.Selector{
		segment.Otsu:   threshold,
		segment.OpenCV: segment.NewOpenCV(),
	}
	if len(cfg.Segmentation.Command) > 0 {
		e := segment.NewExec(cfg.Segmentation.Command)
		sel[segment.StarDist] = e
		sel[segment.Cellpose] = e
	}
	return sel
}
