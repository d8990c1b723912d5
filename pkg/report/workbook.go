package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"her2dish/internal/models"
)

const (
	// LaneSize is the number of cells listed per column group of the final report.
	LaneSize = 20

	reportTitle = "HER2-DISH Analysis Report"
	sheetName   = "Report"
)

// ErrReportLayout is returned when a final report workbook has an unrecognised layout.
var ErrReportLayout = errors.New("unrecognised report layout")

// WriteFinalReport writes the confirmed cells in the final report layout: a
// title row, a header row, LaneSize data rows and the case totals. Cells
// beyond LaneSize go into a second column group on the same rows.
func WriteFinalReport(path string, cells []models.FinalCell, amplifiedRatio float64) error {
	if len(cells) > 2*LaneSize {
		return fmt.Errorf("%w: %d cells exceed two lanes of %d", ErrReportLayout, len(cells), LaneSize)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	rows := [][]interface{}{{reportTitle}}
	if len(cells) > LaneSize {
		rows = append(rows, []interface{}{"Cell ID", "HER2", "Chr17", "Cell ID", "HER2", "Chr17"})
	} else {
		rows = append(rows, []interface{}{"Cell ID", "HER2", "Chr17"})
	}

	lanes := make([][]interface{}, LaneSize)
	for i, c := range cells {
		lanes[i%LaneSize] = append(lanes[i%LaneSize], c.Name, c.HER2, c.Chr17)
	}
	rows = append(rows, lanes...)

	s := Summarize(cells, amplifiedRatio)
	rows = append(rows,
		[]interface{}{"Total:", s.HER2, s.Chr17},
		[]interface{}{"HER2 / Chr17:", s.Ratio},
		[]interface{}{"Her2 / Cell:", s.HER2PerCell},
		[]interface{}{"Total HER2:", s.HER2},
		[]interface{}{"Total Chr17:", s.Chr17},
		[]interface{}{"Result :", s.Result()},
	)

	if err := writeRows(f, sheetName, rows); err != nil {
		return err
	}
	if err := boldRow(f, sheetName, 1); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// ReadFinalCells loads the confirmed cells from a final report workbook. Both
// the single lane (3 columns) and the two lane (6 columns) layouts are
// recognised; cells of the second lane follow the first.
func ReadFinalCells(path string) ([]models.FinalCell, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheets", ErrReportLayout, path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(rows) < 2 || len(rows[1]) < 3 {
		return nil, fmt.Errorf("%w: missing header in %s", ErrReportLayout, path)
	}
	twoLanes := len(rows[1]) > 3

	first := make([]models.FinalCell, 0, LaneSize)
	var second []models.FinalCell
	for i := 2; i < len(rows) && i < 2+LaneSize; i++ {
		row := rows[i]
		if len(row) > 0 && strings.HasPrefix(row[0], "Total") {
			break
		}
		if c, ok, err := parseCell(row, 0); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		} else if ok {
			first = append(first, c)
		}
		if !twoLanes {
			continue
		}
		if c, ok, err := parseCell(row, 3); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		} else if ok {
			second = append(second, c)
		}
	}

	return append(first, second...), nil
}

// parseCell reads one (name, her2, chr17) triple starting at column col.
func parseCell(row []string, col int) (models.FinalCell, bool, error) {
	if len(row) <= col || strings.TrimSpace(row[col]) == "" {
		return models.FinalCell{}, false, nil
	}
	if len(row) < col+3 {
		return models.FinalCell{}, false, fmt.Errorf("%w: incomplete cell %q", ErrReportLayout, row[col])
	}
	her2, err := strconv.Atoi(strings.TrimSpace(row[col+1]))
	if err != nil {
		return models.FinalCell{}, false, fmt.Errorf("%w: HER2 count %q", ErrReportLayout, row[col+1])
	}
	chr17, err := strconv.Atoi(strings.TrimSpace(row[col+2]))
	if err != nil {
		return models.FinalCell{}, false, fmt.Errorf("%w: Chr17 count %q", ErrReportLayout, row[col+2])
	}
	return models.FinalCell{Name: row[col], HER2: her2, Chr17: chr17}, true, nil
}

// WriteAllCellScore writes every ranked cell record, best first.
func WriteAllCellScore(path string, records []models.CellRecord) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", "Cells"); err != nil {
		return err
	}

	rows := [][]interface{}{{"Rank", "Cell ID", "Image", "Label", "Ratio", "HER2", "Chr17", "Score"}}
	for i, r := range records {
		rows = append(rows, []interface{}{i + 1, r.Name(), r.Image, r.Label, r.Ratio, r.HER2, r.Chr17, r.Score})
	}

	if err := writeRows(f, "Cells", rows); err != nil {
		return err
	}
	if err := boldRow(f, "Cells", 1); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// WriteBatchSummary writes one row per processed case.
func WriteBatchSummary(path string, summaries []CaseSummary) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", "Results"); err != nil {
		return err
	}

	rows := [][]interface{}{{"Case", "HER2", "Chr17", "Cells", "HER2 / Chr17"}}
	for _, s := range summaries {
		ratio := 0.0
		if s.Chr17 > 0 {
			ratio = round3(float64(s.HER2) / float64(s.Chr17))
		}
		rows = append(rows, []interface{}{s.Case, s.HER2, s.Chr17, s.Cells, ratio})
	}

	if err := writeRows(f, "Results", rows); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	return nil
}

func boldRow(f *excelize.File, sheet string, row int) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), style)
}
