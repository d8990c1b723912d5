package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"her2dish/internal/models"
	"her2dish/pkg/cargo"
	"her2dish/pkg/classify"
	"her2dish/pkg/imaging"
	"her2dish/pkg/report"
	"her2dish/pkg/segment"
)

// Image widths identify the two slides of the test case.
const (
	widthA = 30
	widthB = 32
	height = 20
)

type fakeClassifier struct {
	// masks maps a model and a raw image width to the mask returned.
	masks map[string]map[int]*imaging.Label
	calls atomic.Int32
}

func (f *fakeClassifier) Classify(_ context.Context, raw *imaging.RGB, model string) (*imaging.Label, error) {
	f.calls.Add(1)
	m, ok := f.masks[model][raw.Width]
	if !ok {
		return nil, fmt.Errorf("%w: %s", classify.ErrModelLoad, model)
	}
	return m.Clone(), nil
}

type fakeSegmenter struct {
	cells map[int]*imaging.Label
	calls atomic.Int32
}

func (f *fakeSegmenter) Segment(_ context.Context, cleaned *imaging.RGB, _ segment.Model) (*imaging.Label, error) {
	f.calls.Add(1)
	m, ok := f.cells[cleaned.Width]
	if !ok {
		return nil, fmt.Errorf("%w: no cells", segment.ErrModelLoad)
	}
	return m.Clone(), nil
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(200)
			if x >= width/2 {
				v = 100
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatal(err)
	}
}

func createMask(width int, v uint16, points ...[2]int) *imaging.Label {
	m := imaging.NewLabel(width, height)
	for _, p := range points {
		m.Set(p[1], p[0], v)
	}
	return m
}

func fillRect(m *imaging.Label, id uint16, r0, c0, r1, c1 int) {
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			m.Set(c, r, id)
		}
	}
}

// createFakes returns adapters for two slides:
//
//	a: one 5x5 cell with 10 HER2 and 2 Chr17 signals
//	b: one 3x9 cell with 4 HER2 and 2 Chr17 signals
func createFakes() (*fakeClassifier, *fakeSegmenter) {
	cellsA := imaging.NewLabel(widthA, height)
	fillRect(cellsA, 1, 5, 5, 9, 9)
	cellsB := imaging.NewLabel(widthB, height)
	fillRect(cellsB, 1, 5, 5, 7, 13)

	cls := &fakeClassifier{masks: map[string]map[int]*imaging.Label{
		"her2": {
			widthA: createMask(widthA, classify.SignalValue,
				[2]int{5, 5}, [2]int{5, 7}, [2]int{5, 9}, [2]int{6, 6}, [2]int{6, 8},
				[2]int{7, 5}, [2]int{7, 7}, [2]int{7, 9}, [2]int{8, 6}, [2]int{8, 8}),
			widthB: createMask(widthB, classify.SignalValue,
				[2]int{5, 5}, [2]int{5, 7}, [2]int{5, 9}, [2]int{5, 11}),
		},
		"chr17": {
			widthA: createMask(widthA, classify.SignalValue, [2]int{9, 5}, [2]int{9, 9}),
			widthB: createMask(widthB, classify.SignalValue, [2]int{7, 5}, [2]int{7, 7}),
		},
	}}
	seg := &fakeSegmenter{cells: map[int]*imaging.Label{widthA: cellsA, widthB: cellsB}}
	return cls, seg
}

// createCase writes the two slides into a case directory and returns its path.
func createCase(t *testing.T, root string) string {
	t.Helper()
	input := filepath.Join(root, "case-01")
	if err := os.MkdirAll(input, 0755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(input, "a.png"), widthA, height)
	writePNG(t, filepath.Join(input, "b.png"), widthB, height)
	return input
}

func loadCase(t *testing.T, input string) *cargo.Case {
	t.Helper()
	cas, err := cargo.NewCase(input, cargo.CaseOptions{})
	if err != nil {
		t.Fatalf("Failed to create case: %v", err)
	}
	return cas
}

func testParams(workers int) Params {
	p := DefaultParams()
	p.HER2Model = "her2"
	p.Chr17Model = "chr17"
	p.Workers = workers
	return p
}

func newOrchestrator(t *testing.T, cls classify.Classifier, seg segment.Segmenter) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cls, seg, testParams(2))
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	return o
}

var expectedRecords = []models.CellRecord{
	{Image: "a", Label: 1, Ratio: 5, HER2: 10, Chr17: 2, Score: 4.227185},
	{Image: "b", Label: 1, Ratio: 2, HER2: 4, Chr17: 2, Score: 3.84823},
}

func TestProcess(t *testing.T) {
	cls, seg := createFakes()
	cas := loadCase(t, createCase(t, t.TempDir()))

	var status []string
	params := testParams(0)
	params.Status = func(s string) { status = append(status, s) }
	o, err := NewOrchestrator(cls, seg, params)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	res, err := o.Process(context.Background(), cas)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !reflect.DeepEqual(cas.AllCellScore, expectedRecords) {
		t.Errorf("Expected %+v, got %+v", expectedRecords, cas.AllCellScore)
	}
	if !reflect.DeepEqual(res.Records, cas.AllCellScore) {
		t.Error("Result records differ from case ranking")
	}
	if res.Computed[StageClassify] != 6 || res.Computed[StageSegment] != 4 {
		t.Errorf("Unexpected computed counts: %v", res.Computed)
	}
	if len(status) != 3 {
		t.Errorf("Expected 3 status lines, got %v", status)
	}
	if cls.calls.Load() != 4 || seg.calls.Load() != 2 {
		t.Errorf("Expected 4 classifier and 2 segmenter calls, got %d and %d", cls.calls.Load(), seg.calls.Load())
	}

	for _, key := range cas.Keys() {
		c, _ := cas.GetContainer(key)
		for _, a := range cargo.Artifacts {
			if _, err := os.Stat(c.Path(a)); err != nil {
				t.Errorf("%s: %s not persisted: %v", key, a, err)
			}
		}
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	cls, seg := createFakes()
	input := createCase(t, t.TempDir())
	cas := loadCase(t, input)
	o := newOrchestrator(t, cls, seg)

	if _, err := o.Process(context.Background(), cas); err != nil {
		t.Fatal(err)
	}
	first := cas.AllCellScore
	calls := cls.calls.Load() + seg.calls.Load()

	res, err := o.Process(context.Background(), cas)
	if err != nil {
		t.Fatal(err)
	}
	if got := cls.calls.Load() + seg.calls.Load(); got != calls {
		t.Errorf("Second run called adapters %d times", got-calls)
	}
	if res.Computed[StageClassify] != 0 || res.Computed[StageSegment] != 0 {
		t.Errorf("Second run computed artifacts: %v", res.Computed)
	}
	if !reflect.DeepEqual(cas.AllCellScore, first) {
		t.Errorf("Ranking changed: %+v vs %+v", first, cas.AllCellScore)
	}

	// A fresh case over the same directories reloads everything from disk.
	reloaded := loadCase(t, input)
	if _, err := o.Process(context.Background(), reloaded); err != nil {
		t.Fatal(err)
	}
	if got := cls.calls.Load() + seg.calls.Load(); got != calls {
		t.Errorf("Reloaded case called adapters %d times", got-calls)
	}
	if !reflect.DeepEqual(reloaded.AllCellScore, first) {
		t.Errorf("Reloaded ranking differs: %+v", reloaded.AllCellScore)
	}
}

func TestProcessRecomputesDeletedArtifact(t *testing.T) {
	cls, seg := createFakes()
	cas := loadCase(t, createCase(t, t.TempDir()))
	o := newOrchestrator(t, cls, seg)

	if _, err := o.Process(context.Background(), cas); err != nil {
		t.Fatal(err)
	}
	c, _ := cas.GetContainer("a")
	c.Delete(cargo.HER2)

	updated := cls.masks["her2"][widthA].Clone()
	updated.Set(7, 9, classify.SignalValue)
	cls.masks["her2"][widthA] = updated
	before := cls.calls.Load()

	if _, err := o.Process(context.Background(), cas); err != nil {
		t.Fatal(err)
	}
	if got := cls.calls.Load() - before; got != 1 {
		t.Fatalf("Expected exactly one classifier call, got %d", got)
	}

	onDisk, err := imaging.LoadLabel(c.Path(cargo.HER2))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(onDisk.Pix, updated.Pix) {
		t.Error("HER2 file was not overwritten")
	}
	if cas.AllCellScore[0].HER2 != 11 {
		t.Errorf("Expected 11 HER2 signals after recompute, got %d", cas.AllCellScore[0].HER2)
	}
}

func TestProcessPropagatesFailure(t *testing.T) {
	cls, seg := createFakes()
	delete(cls.masks, "chr17")
	cas := loadCase(t, createCase(t, t.TempDir()))
	o, err := NewOrchestrator(cls, seg, testParams(1))
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	_, err = o.Process(context.Background(), cas)
	if !errors.Is(err, classify.ErrModelLoad) {
		t.Fatalf("Expected ErrModelLoad, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "stage classify: container a: chr17: ") {
		t.Errorf("Error does not name stage and container: %v", err)
	}
	if seg.calls.Load() != 0 {
		t.Error("Segmentation ran after a failed stage")
	}
	if cas.AllCellScore != nil {
		t.Error("Ranking set after failure")
	}

	// Signals classified before the failure are kept; the second container
	// never started.
	a, _ := cas.GetContainer("a")
	if !a.Has(cargo.HER2) || a.Has(cargo.Chr17) || a.Has(cargo.Dug) {
		t.Errorf("a: unexpected artifacts %v", a.Keys())
	}
	b, _ := cas.GetContainer("b")
	if b.Has(cargo.HER2) {
		t.Errorf("b: unexpected artifacts %v", b.Keys())
	}
}

func TestProcessRejectsWrongSizedMask(t *testing.T) {
	cls, seg := createFakes()
	seg.cells[widthB] = imaging.NewLabel(widthB, height+1)
	cas := loadCase(t, createCase(t, t.TempDir()))

	_, err := newOrchestrator(t, cls, seg).Process(context.Background(), cas)
	if !errors.Is(err, cargo.ErrUnsupportedArtifactShape) {
		t.Fatalf("Expected ErrUnsupportedArtifactShape, got %v", err)
	}
	if !strings.Contains(err.Error(), "stage segment: container b") {
		t.Errorf("Unexpected error text: %v", err)
	}
}

func TestProcessRejectsWrongSizedSignalMask(t *testing.T) {
	cls, seg := createFakes()
	cls.masks["chr17"][widthB] = imaging.NewLabel(widthB, height+1)
	cas := loadCase(t, createCase(t, t.TempDir()))
	o, err := NewOrchestrator(cls, seg, testParams(1))
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	_, err = o.Process(context.Background(), cas)
	if !errors.Is(err, cargo.ErrUnsupportedArtifactShape) {
		t.Fatalf("Expected ErrUnsupportedArtifactShape, got %v", err)
	}
	if !strings.Contains(err.Error(), "stage classify: container b: chr17") {
		t.Errorf("Unexpected error text: %v", err)
	}
	if seg.calls.Load() != 0 {
		t.Error("Segmentation ran after a failed stage")
	}

	b, _ := cas.GetContainer("b")
	if !b.Has(cargo.HER2) || b.Has(cargo.Chr17) || b.Has(cargo.Dug) {
		t.Errorf("b: unexpected artifacts %v", b.Keys())
	}
	a, _ := cas.GetContainer("a")
	if !a.Has(cargo.Dug) {
		t.Errorf("a: expected the dug image, got %v", a.Keys())
	}
}

func TestNewOrchestratorDefaults(t *testing.T) {
	o, err := NewOrchestrator(classify.Threshold{}, segment.Selector{}, Params{
		SignalExpand:    0,
		BackgroundDelta: 0,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	def := DefaultParams()
	if o.params.Workers != def.Workers {
		t.Errorf("Expected %d workers, got %d", def.Workers, o.params.Workers)
	}
	if o.params.SegmentationModel != def.SegmentationModel {
		t.Errorf("Expected model %q, got %q", def.SegmentationModel, o.params.SegmentationModel)
	}
	if o.params.Scoring.HeatmapSigma != 0 {
		t.Errorf("Expected heatmap smoothing to stay disabled, got sigma %v", o.params.Scoring.HeatmapSigma)
	}
	if o.params.BackgroundDelta != 0 || o.params.SignalExpand != 0 {
		t.Errorf("Expected zero delta and expand, got %v and %v", o.params.BackgroundDelta, o.params.SignalExpand)
	}
}

func TestNewOrchestratorRejectsNegativeParameters(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
		want   string
	}{
		{"signal expand", func(p *Params) { p.SignalExpand = -1 }, "signal expand"},
		{"background delta", func(p *Params) { p.BackgroundDelta = -5 }, "background delta"},
		{"heatmap sigma", func(p *Params) { p.Scoring.HeatmapSigma = -0.5 }, "heatmap sigma"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			_, err := NewOrchestrator(classify.Threshold{}, segment.Selector{}, p)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func TestProcessWithoutHeatmapSmoothing(t *testing.T) {
	cls, seg := createFakes()
	cas := loadCase(t, createCase(t, t.TempDir()))

	params := testParams(2)
	params.Scoring.HeatmapSigma = 0
	o, err := NewOrchestrator(cls, seg, params)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	if _, err := o.Process(context.Background(), cas); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	byName := make(map[string]models.CellRecord)
	for _, r := range cas.AllCellScore {
		byName[r.Name()] = r
	}
	for _, want := range expectedRecords {
		got, ok := byName[want.Name()]
		if !ok {
			t.Errorf("%s missing from ranking", want.Name())
			continue
		}
		if got.HER2 < want.HER2 || got.Chr17 < want.Chr17 {
			t.Errorf("Expected at least %d/%d signals, got %d/%d", want.HER2, want.Chr17, got.HER2, got.Chr17)
		}
	}
}

func TestProcessCancelled(t *testing.T) {
	cls, seg := createFakes()
	cas := loadCase(t, createCase(t, t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newOrchestrator(t, cls, seg).Process(ctx, cas); err == nil {
		t.Fatal("Expected an error for a cancelled context")
	}
}

func TestRemoveSignals(t *testing.T) {
	raw := imaging.NewRGB(20, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			v := uint8(200)
			if x >= 10 {
				v = 100
			}
			raw.Set(x, y, v, v, v)
		}
	}
	her2 := imaging.NewLabel(20, 10)
	her2.Set(5, 5, classify.SignalValue)
	chr17 := imaging.NewLabel(20, 10)

	dug := RemoveSignals(raw, her2, chr17, 3, 10)
	if r, _, _ := dug.At(5, 5); r != 150 {
		t.Errorf("Signal not painted with background: %d", r)
	}
	if r, _, _ := dug.At(8, 5); r != 150 {
		t.Errorf("Dilated pixel not painted: %d", r)
	}
	if r, _, _ := dug.At(9, 5); r != 200 {
		t.Errorf("Pixel outside radius changed: %d", r)
	}
	if r, _, _ := raw.At(5, 5); r != 200 {
		t.Error("Raw image modified")
	}
}

func TestComposeOverlay(t *testing.T) {
	raw := imaging.NewRGB(2, 1)
	raw.Set(0, 0, 10, 10, 10)
	raw.Set(1, 0, 10, 10, 10)
	her2 := imaging.NewLabel(2, 1)
	her2.Set(0, 0, classify.SignalValue)
	chr17 := imaging.NewLabel(2, 1)
	chr17.Set(1, 0, classify.SignalValue)

	out := ComposeOverlay(raw, her2, chr17)
	if r, g, b := out.At(0, 0); r != 10 || g != 138 || b != 10 {
		t.Errorf("Expected green blend, got (%d,%d,%d)", r, g, b)
	}
	if r, g, b := out.At(1, 0); r != 138 || g != 110 || b != 10 {
		t.Errorf("Expected orange blend, got (%d,%d,%d)", r, g, b)
	}
}

func TestAutoSelect(t *testing.T) {
	cls, seg := createFakes()
	cas := loadCase(t, createCase(t, t.TempDir()))
	if _, err := newOrchestrator(t, cls, seg).Process(context.Background(), cas); err != nil {
		t.Fatal(err)
	}
	cas.ConfirmCell(models.FinalCell{Name: "stale"}, cargo.CellImage{})

	cells, err := AutoSelect(cas, DefaultReviewPolicy(), 2)
	if err != nil {
		t.Fatalf("AutoSelect failed: %v", err)
	}
	want := []models.FinalCell{
		{Name: "a_Cell-001", HER2: 10, Chr17: 2},
		{Name: "b_Cell-001", HER2: 4, Chr17: 2},
	}
	if !reflect.DeepEqual(cells, want) {
		t.Fatalf("Expected %+v, got %+v", want, cells)
	}
	if cas.IsConfirmed("stale") {
		t.Error("Previous selection kept")
	}

	img := cas.FinalCellImage["a_Cell-001"]
	if img.Raw == nil || img.Raw.Width != 9 || img.Raw.Height != 9 {
		t.Errorf("Unexpected crop for a_Cell-001: %+v", img.Raw)
	}
}

func TestDiscoverCases(t *testing.T) {
	root := t.TempDir()
	mk := func(dir string, files ...string) {
		t.Helper()
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			t.Fatal(err)
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(path, f), nil, 0644); err != nil {
				t.Fatal(err)
			}
		}
	}
	mk("case1", "x.png", "y.TIF")
	mk("case2", "y.tif", "notes.txt")
	mk("case1_output/x", "x_her2.tif")
	mk("group/case3", "z.jpg")
	mk("empty")

	cases, err := DiscoverCases(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(root, "case1"), filepath.Join(root, "group", "case3")}
	if !reflect.DeepEqual(cases, want) {
		t.Errorf("Expected %v, got %v", want, cases)
	}
}

func TestRunBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping batch run in short mode")
	}
	cls, seg := createFakes()
	root := t.TempDir()
	input := createCase(t, root)

	o := newOrchestrator(t, cls, seg)
	summaries, err := o.RunBatch(context.Background(), []string{input, filepath.Join(root, "missing")}, BatchOptions{
		Review:     DefaultReviewPolicy(),
		CropExtend: 2,
		SaveCells:  true,
	})
	if !errors.Is(err, cargo.ErrInvalidInputPath) {
		t.Errorf("Expected the missing case to fail, got %v", err)
	}

	want := []report.CaseSummary{{Case: "case-01", HER2: 14, Chr17: 4, Cells: 2}}
	if !reflect.DeepEqual(summaries, want) {
		t.Fatalf("Expected %+v, got %+v", want, summaries)
	}

	output := filepath.Join(root, "case-01_output")
	cells, err := report.ReadFinalCells(filepath.Join(output, "Final-Report_case-01.xlsx"))
	if err != nil {
		t.Fatalf("Final report not readable: %v", err)
	}
	if len(cells) != 2 {
		t.Errorf("Expected 2 reported cells, got %d", len(cells))
	}
	for _, f := range []string{"case-01_all-cell-score.xlsx", "cells/a_Cell-001.jpg", "cells/b_Cell-001_overlay.jpg"} {
		if _, err := os.Stat(filepath.Join(output, f)); err != nil {
			t.Errorf("Missing %s: %v", f, err)
		}
	}
}
