package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"her2dish/pkg/cargo"
	"her2dish/pkg/imaging"
	"her2dish/pkg/report"
	"her2dish/pkg/visualization"
)

// DiscoverCases walks root and returns every leaf directory that holds only
// supported images, in lexical order. Directories whose path contains
// "output" are skipped.
func DiscoverCases(root string) ([]string, error) {
	var cases []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || strings.Contains(path, "output") {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			if entry.IsDir() || !imaging.IsSupported(entry.Name()) {
				return nil
			}
		}
		cases = append(cases, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return cases, nil
}

// BatchOptions configures RunBatch.
type BatchOptions struct {
	// OutputBase is handed to every case, see cargo.CaseOptions.
	OutputBase string

	Review         ReviewPolicy
	CropExtend     int
	AmplifiedRatio float64

	// SaveCells writes the review crops of the selected cells next to the
	// final report.
	SaveCells bool
}

// RunBatch processes every case directory, selects the cells to report with
// the review policy and writes each case's workbooks. A failing case is
// logged and skipped; its error is returned joined with the others after
// the remaining cases have run.
func (o *Orchestrator) RunBatch(ctx context.Context, inputs []string, opts BatchOptions) ([]report.CaseSummary, error) {
	if opts.AmplifiedRatio <= 0 {
		opts.AmplifiedRatio = report.DefaultAmplifiedRatio
	}

	var summaries []report.CaseSummary
	var errs []error
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary, err := o.runCase(ctx, input, opts)
		if err != nil {
			o.log.Error("case failed", "input", input, "error", err)
			errs = append(errs, fmt.Errorf("case %s: %w", input, err))
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, errors.Join(errs...)
}

func (o *Orchestrator) runCase(ctx context.Context, input string, opts BatchOptions) (report.CaseSummary, error) {
	o.status(fmt.Sprintf("Building cargo for case: %s", input))
	cas, err := cargo.NewCase(input, cargo.CaseOptions{OutputBase: opts.OutputBase, Logger: o.log})
	if err != nil {
		return report.CaseSummary{}, err
	}

	if _, err := o.Process(ctx, cas); err != nil {
		return report.CaseSummary{}, err
	}
	if err := report.WriteAllCellScore(cas.AllCellExcelPath(), cas.AllCellScore); err != nil {
		return report.CaseSummary{}, err
	}

	o.status(fmt.Sprintf("Creating report for case: %s", input))
	cells, err := AutoSelect(cas, opts.Review, opts.CropExtend)
	if err != nil {
		return report.CaseSummary{}, err
	}
	if err := report.WriteFinalReport(cas.ReportExcelPath(), cells, opts.AmplifiedRatio); err != nil {
		return report.CaseSummary{}, err
	}
	if opts.SaveCells {
		dir := filepath.Join(cas.OutputPath, "cells")
		if err := visualization.SaveCellSequence(cells, cas.FinalCellImage, dir); err != nil {
			return report.CaseSummary{}, err
		}
	}

	summary := report.CaseSummary{Case: cas.Name(), Cells: len(cells)}
	for _, c := range cells {
		summary.HER2 += c.HER2
		summary.Chr17 += c.Chr17
	}
	return summary, nil
}
