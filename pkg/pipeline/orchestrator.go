// Package pipeline runs the three processing stages over every container of
// a case and merges the per-image rankings into the case ranking.
//
// The stages are:
// 1. Classifying HER2 and Chr17 signals and removing them from the raw image
// 2. Segmenting cells on the cleaned image and rendering the signal overlay
// 3. Scoring the cells of every image
//
// Each stage is a barrier: every container finishes a stage before any
// container starts the next one. Artifacts already present in a container are
// reused, so a second run over a processed case does no work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"her2dish/internal/logger"
	"her2dish/internal/models"
	"her2dish/pkg/analysis"
	"her2dish/pkg/cargo"
	"her2dish/pkg/classify"
	"her2dish/pkg/imaging"
	"her2dish/pkg/imgproc"
	"her2dish/pkg/segment"
)

// Stage names used in errors and logs.
const (
	StageClassify = "classify"
	StageSegment  = "segment"
	StageScore    = "score"
)

// Params holds the configuration of a run.
type Params struct {
	// HER2Model and Chr17Model are handed to the classifier.
	HER2Model  string
	Chr17Model string

	// SegmentationModel selects the cell segmenter.
	SegmentationModel segment.Model

	// Workers bounds the containers processed at once within a stage.
	// Zero means the number of CPUs.
	Workers int

	// SignalExpand is the radius, in pixels, by which signal masks are grown
	// before the signals are painted out of the raw image.
	SignalExpand float64

	// BackgroundDelta is the tolerance around the mean color used to pick the
	// background fill color.
	BackgroundDelta float64

	// Scoring configures the signal heatmap filter.
	Scoring analysis.Options

	Logger *logger.Logger

	// Status, when set, receives one human readable line per stage.
	Status func(string)
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		HER2Model:         "classifier/HER2/HER2-0.yaml",
		Chr17Model:        "classifier/Chr17/Chr17-0.yaml",
		SegmentationModel: segment.Otsu,
		Workers:           runtime.NumCPU(),
		SignalExpand:      3,
		BackgroundDelta:   10,
		Scoring:           analysis.DefaultOptions(),
	}
}

// Result describes one completed run.
type Result struct {
	RunID uuid.UUID

	// Records is the merged ranking, also stored in the case.
	Records []models.CellRecord

	// Computed counts the artifacts produced by this run per stage.
	Computed map[string]int

	Elapsed time.Duration
}

// Orchestrator runs the stages with the given adapters.
type Orchestrator struct {
	classifier classify.Classifier
	segmenter  segment.Segmenter
	params     Params
	log        *logger.Logger
}

// Validate rejects parameters the stages cannot use.
func (p Params) Validate() error {
	var errs []error
	if p.SignalExpand < 0 {
		errs = append(errs, fmt.Errorf("signal expand must not be negative, got %g", p.SignalExpand))
	}
	if p.BackgroundDelta < 0 {
		errs = append(errs, fmt.Errorf("background delta must not be negative, got %g", p.BackgroundDelta))
	}
	if p.Scoring.HeatmapSigma < 0 {
		errs = append(errs, fmt.Errorf("heatmap sigma must not be negative, got %g", p.Scoring.HeatmapSigma))
	}
	return errors.Join(errs...)
}

// NewOrchestrator creates an orchestrator. Workers, SegmentationModel and
// Logger fall back to their defaults when unset; every other parameter is
// used as given, so start from DefaultParams.
func NewOrchestrator(c classify.Classifier, s segment.Segmenter, params Params) (*Orchestrator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	def := DefaultParams()
	if params.Workers <= 0 {
		params.Workers = def.Workers
	}
	if params.SegmentationModel == "" {
		params.SegmentationModel = def.SegmentationModel
	}
	log := params.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{classifier: c, segmenter: s, params: params, log: log}, nil
}

// taskFunc computes the missing artifacts of one container. It must not
// modify the container; the returned artifacts are stored after the stage
// barrier. Artifacts returned together with an error are still stored.
type taskFunc func(ctx context.Context, c *cargo.Container) (map[cargo.Artifact]imaging.Raster, error)

// Process runs every stage over the case and replaces cas.AllCellScore with
// the merged ranking.
func (o *Orchestrator) Process(ctx context.Context, cas *cargo.Case) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.New(), Computed: make(map[string]int)}
	log := o.log.With("run", res.RunID.String(), "case", cas.Name())

	log.Info("processing case", "containers", len(cas.Keys()), "workers", o.params.Workers)

	o.status(fmt.Sprintf("Segmenting signals for case: %s", cas.InputPath))
	n, err := o.runStage(ctx, log, cas, StageClassify, o.classifyTask)
	res.Computed[StageClassify] = n
	if err != nil {
		return res, err
	}

	o.status(fmt.Sprintf("Segmenting cells for case: %s", cas.InputPath))
	n, err = o.runStage(ctx, log, cas, StageSegment, o.segmentTask)
	res.Computed[StageSegment] = n
	if err != nil {
		return res, err
	}

	o.status(fmt.Sprintf("Calculating for case: %s", cas.InputPath))
	records, err := o.score(ctx, log, cas)
	if err != nil {
		return res, err
	}
	res.Computed[StageScore] = len(cas.Keys())

	cas.AllCellScore = records
	res.Records = records
	res.Elapsed = time.Since(start)

	log.Info("case processed", "cells", len(records), "elapsed", res.Elapsed)
	return res, nil
}

func (o *Orchestrator) status(msg string) {
	if o.params.Status != nil {
		o.params.Status(msg)
	}
}

// runStage runs task over every container and stores the produced artifacts
// in container order once all tasks have returned. It returns the number of
// artifacts stored and the first error.
func (o *Orchestrator) runStage(ctx context.Context, log *logger.Logger, cas *cargo.Case, stage string, task taskFunc) (int, error) {
	keys := cas.Keys()
	results := make([]map[cargo.Artifact]imaging.Raster, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.params.Workers)
	for i, key := range keys {
		container, _ := cas.GetContainer(key)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("stage %s: container %s: %w", stage, key, err)
			}
			out, err := task(gctx, container)
			results[i] = out
			if err != nil {
				return fmt.Errorf("stage %s: container %s: %w", stage, key, err)
			}
			return nil
		})
	}
	err := g.Wait()

	stored := 0
	var storeErrs []error
	for i, key := range keys {
		container, _ := cas.GetContainer(key)
		for _, a := range cargo.Derived {
			r, ok := results[i][a]
			if !ok {
				continue
			}
			if addErr := container.Add(a, r); addErr != nil {
				storeErrs = append(storeErrs, fmt.Errorf("stage %s: container %s: %w", stage, key, addErr))
				continue
			}
			stored++
		}
	}

	if err != nil {
		log.Error("stage failed", "stage", stage, "error", err)
		return stored, err
	}
	if len(storeErrs) > 0 {
		log.Error("failed to store artifacts", "stage", stage, "errors", len(storeErrs))
		return stored, errors.Join(storeErrs...)
	}
	log.Info("stage completed", "stage", stage, "computed", stored)
	return stored, nil
}

func (o *Orchestrator) classifyTask(ctx context.Context, c *cargo.Container) (map[cargo.Artifact]imaging.Raster, error) {
	out := make(map[cargo.Artifact]imaging.Raster)
	log := o.log.With("container", c.Name())

	raw, err := c.Color(cargo.Raw)
	if err != nil {
		return out, err
	}

	masks := make(map[cargo.Artifact]*imaging.Label)
	for _, sig := range []struct {
		artifact cargo.Artifact
		model    string
	}{
		{cargo.HER2, o.params.HER2Model},
		{cargo.Chr17, o.params.Chr17Model},
	} {
		if c.Has(sig.artifact) {
			log.Debug("skipping classification", "artifact", sig.artifact.String())
			continue
		}
		log.Info("classifying signals", "artifact", sig.artifact.String(), "model", sig.model)
		mask, err := o.classifier.Classify(ctx, raw, sig.model)
		if err != nil {
			return out, fmt.Errorf("%s: %w", sig.artifact, err)
		}
		if err := checkMask(mask, raw); err != nil {
			return out, fmt.Errorf("%s: %w", sig.artifact, err)
		}
		masks[sig.artifact] = mask
		out[sig.artifact] = mask
	}

	if c.Has(cargo.Dug) {
		log.Debug("skipping signal removal")
		return out, nil
	}
	for _, a := range []cargo.Artifact{cargo.HER2, cargo.Chr17} {
		if masks[a] != nil {
			continue
		}
		if masks[a], err = c.Label(a); err != nil {
			return out, err
		}
	}
	out[cargo.Dug] = RemoveSignals(raw, masks[cargo.HER2], masks[cargo.Chr17], o.params.SignalExpand, o.params.BackgroundDelta)
	return out, nil
}

func (o *Orchestrator) segmentTask(ctx context.Context, c *cargo.Container) (map[cargo.Artifact]imaging.Raster, error) {
	out := make(map[cargo.Artifact]imaging.Raster)
	log := o.log.With("container", c.Name())

	if c.Has(cargo.Cell) {
		log.Debug("skipping cell segmentation")
	} else {
		dug, err := c.Color(cargo.Dug)
		if err != nil {
			return out, err
		}
		log.Info("segmenting cells", "model", string(o.params.SegmentationModel))
		cells, err := o.segmenter.Segment(ctx, dug, o.params.SegmentationModel)
		if err != nil {
			return out, fmt.Errorf("cell: %w", err)
		}
		out[cargo.Cell] = cells
	}

	if c.Has(cargo.Overlay) {
		log.Debug("skipping overlay")
		return out, nil
	}
	raw, err := c.Color(cargo.Raw)
	if err != nil {
		return out, err
	}
	her2, err := c.Label(cargo.HER2)
	if err != nil {
		return out, err
	}
	chr17, err := c.Label(cargo.Chr17)
	if err != nil {
		return out, err
	}
	out[cargo.Overlay] = ComposeOverlay(raw, her2, chr17)
	return out, nil
}

// score computes the ranking of every container concurrently and merges the
// rankings in container order.
func (o *Orchestrator) score(ctx context.Context, log *logger.Logger, cas *cargo.Case) ([]models.CellRecord, error) {
	keys := cas.Keys()
	lists := make([][]models.CellRecord, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.params.Workers)
	for i, key := range keys {
		container, _ := cas.GetContainer(key)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, err := o.scoreContainer(container)
			if err != nil {
				return fmt.Errorf("stage %s: container %s: %w", StageScore, key, err)
			}
			lists[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("stage failed", "stage", StageScore, "error", err)
		return nil, err
	}

	records := Merge(lists...)
	log.Info("stage completed", "stage", StageScore, "cells", len(records))
	return records, nil
}

func (o *Orchestrator) scoreContainer(c *cargo.Container) ([]models.CellRecord, error) {
	cells, err := c.Label(cargo.Cell)
	if err != nil {
		return nil, err
	}
	her2, err := c.Label(cargo.HER2)
	if err != nil {
		return nil, err
	}
	chr17, err := c.Label(cargo.Chr17)
	if err != nil {
		return nil, err
	}
	return analysis.CalculateAllScore(c.Name(), cells, her2, chr17, o.params.Scoring)
}

// checkMask rejects a classifier mask that does not cover raw pixel for pixel.
func checkMask(mask *imaging.Label, raw *imaging.RGB) error {
	if mask == nil || !mask.Valid() {
		return fmt.Errorf("%w: empty or malformed mask", cargo.ErrUnsupportedArtifactShape)
	}
	if mask.Width != raw.Width || mask.Height != raw.Height {
		return fmt.Errorf("%w: mask is %dx%d, raw image is %dx%d",
			cargo.ErrUnsupportedArtifactShape, mask.Width, mask.Height, raw.Width, raw.Height)
	}
	return nil
}

// RemoveSignals paints every pixel within radius of a HER2 or Chr17 signal
// with the background color of raw.
func RemoveSignals(raw *imaging.RGB, her2, chr17 *imaging.Label, radius, delta float64) *imaging.RGB {
	mask := imgproc.DilateMask(imgproc.Union(her2, chr17), raw.Width, raw.Height, radius)
	return imgproc.Inpaint(raw, mask, imgproc.BackgroundFill(raw, delta))
}

// ComposeOverlay blends the HER2 mask in green and then the Chr17 mask in
// orange onto raw.
func ComposeOverlay(raw *imaging.RGB, her2, chr17 *imaging.Label) *imaging.RGB {
	out := imgproc.Overlay(raw, her2, imgproc.Green, 0.5)
	return imgproc.Overlay(out, chr17, imgproc.Orange, 0.5)
}
