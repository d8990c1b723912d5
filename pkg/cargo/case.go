package cargo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"her2dish/internal/logger"
	"her2dish/internal/models"
	"her2dish/pkg/imaging"
	"her2dish/pkg/report"
)

// ErrInvalidInputPath is returned when the case input directory does not exist.
var ErrInvalidInputPath = errors.New("invalid input path")

// ResumeFunc decides whether a previous final report found at path is reloaded.
type ResumeFunc func(path string) bool

// CaseOptions configures NewCase.
type CaseOptions struct {
	// OutputBase is the directory holding "<case>_output". Empty means the
	// parent directory of the input.
	OutputBase string

	// Resume is asked before a previous final report is reloaded. Nil declines.
	Resume ResumeFunc

	Logger *logger.Logger
}

// CellImage holds the review crops of one confirmed cell.
type CellImage struct {
	Raw     *imaging.RGB
	Overlay *imaging.RGB
}

// Case groups the Containers of one input directory with the case-level results.
type Case struct {
	InputPath  string
	OutputPath string

	// AllCellScore is the ranked list of every scored cell, rebuilt by each run.
	AllCellScore []models.CellRecord

	// FinalCellScore lists the confirmed cells in confirmation order.
	FinalCellScore []models.FinalCell

	// FinalCellImage maps a confirmed cell name to its review crops.
	FinalCellImage map[string]CellImage

	containers map[string]*Container
	keys       []string
	log        *logger.Logger
}

// NewCase creates the output tree and one Container per supported image of
// the input directory, in directory order.
func NewCase(inputPath string, opts CaseOptions) (*Case, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	info, err := os.Stat(inputPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInputPath, inputPath)
	}

	base := opts.OutputBase
	if base == "" {
		base = filepath.Dir(filepath.Clean(inputPath))
	}
	stem := stemOf(inputPath)

	c := &Case{
		InputPath:      inputPath,
		OutputPath:     filepath.Join(base, stem+"_output"),
		FinalCellImage: make(map[string]CellImage),
		containers:     make(map[string]*Container),
		log:            log.With("case", stem),
	}
	if err := os.MkdirAll(c.OutputPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := c.createContainers(); err != nil {
		return nil, err
	}
	if err := c.loadFinalReport(opts.Resume); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Case) createContainers() error {
	entries, err := os.ReadDir(c.InputPath)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", c.InputPath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !imaging.IsSupported(entry.Name()) {
			continue
		}
		name := stemOf(entry.Name())
		if _, dup := c.containers[name]; dup {
			c.log.Warn("skipping image with duplicate name", "image", entry.Name())
			continue
		}

		dir := filepath.Join(c.OutputPath, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create container directory: %w", err)
		}
		container, err := NewContainer(filepath.Join(c.InputPath, entry.Name()), dir, c.log)
		if err != nil {
			return fmt.Errorf("container %s: %w", name, err)
		}

		c.containers[name] = container
		c.keys = append(c.keys, name)
		c.log.Debug("loaded container", "container", name, "artifacts", len(container.Keys()))
	}
	return nil
}

func (c *Case) loadFinalReport(resume ResumeFunc) error {
	path := c.ReportExcelPath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if resume == nil || !resume(path) {
		c.log.Info("previous progress not resumed", "path", path)
		return nil
	}

	cells, err := report.ReadFinalCells(path)
	if err != nil {
		return fmt.Errorf("failed to resume from %s: %w", path, err)
	}
	c.FinalCellScore = cells
	c.log.Info("resumed previous progress", "cells", len(cells))
	return nil
}

// Name returns the case name, the stem of the input directory.
func (c *Case) Name() string { return stemOf(c.InputPath) }

// Keys returns the Container names in directory order.
func (c *Case) Keys() []string {
	keys := make([]string, len(c.keys))
	copy(keys, c.keys)
	return keys
}

// GetContainer returns the named Container.
func (c *Case) GetContainer(name string) (*Container, bool) {
	container, ok := c.containers[name]
	return container, ok
}

// ReportPath is where the rendered final report image belongs.
func (c *Case) ReportPath() string {
	return filepath.Join(c.OutputPath, fmt.Sprintf("Final-Report_%s.png", c.Name()))
}

// ReportExcelPath is where the final report workbook belongs.
func (c *Case) ReportExcelPath() string {
	return filepath.Join(c.OutputPath, fmt.Sprintf("Final-Report_%s.xlsx", c.Name()))
}

// AllCellExcelPath is where the ranked list of every scored cell is exported.
func (c *Case) AllCellExcelPath() string {
	return filepath.Join(c.OutputPath, fmt.Sprintf("%s_all-cell-score.xlsx", c.Name()))
}

// IsConfirmed reports whether the named cell is in the final selection.
func (c *Case) IsConfirmed(name string) bool {
	for _, cell := range c.FinalCellScore {
		if cell.Name == name {
			return true
		}
	}
	return false
}

// ConfirmCell adds a cell to the final selection. Confirming a cell twice
// replaces its counts and images in place.
func (c *Case) ConfirmCell(cell models.FinalCell, img CellImage) {
	c.FinalCellImage[cell.Name] = img
	for i := range c.FinalCellScore {
		if c.FinalCellScore[i].Name == cell.Name {
			c.FinalCellScore[i] = cell
			return
		}
	}
	c.FinalCellScore = append(c.FinalCellScore, cell)
}

// RemoveCell drops a cell from the final selection and reports whether it was there.
func (c *Case) RemoveCell(name string) bool {
	delete(c.FinalCellImage, name)
	for i, cell := range c.FinalCellScore {
		if cell.Name == name {
			c.FinalCellScore = append(c.FinalCellScore[:i], c.FinalCellScore[i+1:]...)
			return true
		}
	}
	return false
}

// ClearSelection forgets the confirmed cells.
func (c *Case) ClearSelection() {
	c.FinalCellScore = nil
	c.FinalCellImage = make(map[string]CellImage)
}

// ClearScores forgets the ranking and the final selection.
func (c *Case) ClearScores() {
	c.AllCellScore = nil
	c.ClearSelection()
}

// Reset clears the scores and discards every derived artifact, in memory and
// on disk, so the next run recomputes the case from the raw images.
func (c *Case) Reset() error {
	c.ClearScores()
	var errs []error
	for _, key := range c.keys {
		container := c.containers[key]
		for _, a := range Derived {
			if err := container.Purge(a); err != nil {
				errs = append(errs, fmt.Errorf("container %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}

func stemOf(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
