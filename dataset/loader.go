package dataset

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// Canonical column names recognized in input tables. Matching is
// case-insensitive and ignores surrounding whitespace.
const (
	ColStudyID      = "study_id"
	ColEffectID     = "effect_id"
	ColCor          = "cor"
	ColN            = "n"
	ColPValue       = "p_value"
	ColDietElement  = "diet_element"
	ColOutcomeLabel = "outcome_label"
	ColHealthStatus = "health_status"
)

// Load reads a tabular dataset from a CSV or Excel file, dispatching on the
// file extension. The table must carry study_id, cor, and at least one of
// n / p_value; descriptor columns are optional.
func Load(path string) (*Dataset, error) {
	const op = "dataset.Load"

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "metaforest: %s: cannot access input file", op)
	}

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSVRows(path)
	case ".xlsx":
		rows, err = readExcelRows(path)
	default:
		return nil, errors.NewValueError(op, "unsupported file type: "+filepath.Ext(path)+" (want .csv or .xlsx)")
	}
	if err != nil {
		return nil, err
	}

	return parseRows(path, rows)
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: dataset.Load: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: dataset.Load: parse csv")
	}
	return rows, nil
}

func readExcelRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: dataset.Load: open xlsx")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.NewDataError("dataset.Load", 0, "", "workbook has no sheets", path)
	}
	// First sheet carries the data table.
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: dataset.Load: read sheet")
	}
	return rows, nil
}

func parseRows(source string, rows [][]string) (*Dataset, error) {
	const op = "dataset.Load"

	if len(rows) < 2 {
		return nil, errors.NewDataError(op, 0, "", "table needs a header row and at least one data row", len(rows))
	}

	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	obs := make([]Observation, 0, len(rows)-1)
	for i, row := range rows[1:] {
		// Header is row 1, so data rows report as 2..len(rows).
		rowNum := i + 2

		if isBlank(row) {
			continue
		}

		o := Observation{PValue: math.NaN()}
		o.StudyID = cellAt(row, cols, ColStudyID)
		if o.StudyID == "" {
			return nil, errors.NewDataError(op, rowNum, ColStudyID, "empty study identifier", nil)
		}
		o.EffectID = cellAt(row, cols, ColEffectID)

		corStr := cellAt(row, cols, ColCor)
		o.Cor, err = strconv.ParseFloat(corStr, 64)
		if err != nil {
			return nil, errors.NewDataError(op, rowNum, ColCor, "not a number", corStr)
		}

		if nStr := cellAt(row, cols, ColN); nStr != "" {
			o.N, err = strconv.Atoi(nStr)
			if err != nil {
				return nil, errors.NewDataError(op, rowNum, ColN, "not an integer", nStr)
			}
		}
		if pStr := cellAt(row, cols, ColPValue); pStr != "" {
			o.PValue, err = strconv.ParseFloat(pStr, 64)
			if err != nil {
				return nil, errors.NewDataError(op, rowNum, ColPValue, "not a number", pStr)
			}
		}

		o.DietElement = cellAt(row, cols, ColDietElement)
		o.OutcomeLabel = cellAt(row, cols, ColOutcomeLabel)
		o.HealthStatus = cellAt(row, cols, ColHealthStatus)

		obs = append(obs, o)
	}

	ds := New(source, obs)
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// mapHeader resolves canonical column names to indices and checks that the
// required columns are present.
func mapHeader(header []string) (map[string]int, error) {
	const op = "dataset.Load"

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range []string{ColStudyID, ColCor} {
		if _, ok := cols[required]; !ok {
			return nil, errors.NewDataError(op, 0, required, "missing required column", header)
		}
	}
	_, hasN := cols[ColN]
	_, hasP := cols[ColPValue]
	if !hasN && !hasP {
		return nil, errors.NewDataError(op, 0, ColN, "table must carry either an 'n' or a 'p_value' column", header)
	}
	return cols, nil
}

// cellAt returns the trimmed value of the named column, tolerating absent
// columns and ragged rows (Excel omits trailing empty cells).
func cellAt(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
