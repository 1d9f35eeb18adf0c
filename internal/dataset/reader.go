package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ParseError reports a malformed input line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ReadLIBSVM reads the liblinear/LIBSVM sparse text format:
//
//	<label> <index>:<value> <index>:<value> ...
//
// Indices are one-based in the file and stored zero-based. When bias >= 0 an
// extra constant feature with that value is appended to every row.
func ReadLIBSVM(r io.Reader, bias float64) (*Dataset, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	ds := &Dataset{}
	maxIndex := 0
	lineNr := 0

	for scanner.Scan() {
		lineNr++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens := strings.Fields(line)
		y, err := strconv.ParseFloat(tokens[0], 64)
		if err != nil {
			return nil, &ParseError{Line: lineNr, Reason: fmt.Sprintf("invalid label %q", tokens[0])}
		}

		row := make([]Feature, 0, len(tokens))
		prev := 0
		for _, tok := range tokens[1:] {
			key, val, ok := strings.Cut(tok, ":")
			if !ok {
				return nil, &ParseError{Line: lineNr, Reason: fmt.Sprintf("token %q is not index:value", tok)}
			}
			idx, err := strconv.Atoi(key)
			if err != nil || idx <= 0 {
				return nil, &ParseError{Line: lineNr, Reason: fmt.Sprintf("invalid feature index %q", key)}
			}
			if idx <= prev {
				return nil, &ParseError{Line: lineNr, Reason: "feature indices must be ascending"}
			}
			prev = idx
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, &ParseError{Line: lineNr, Reason: fmt.Sprintf("invalid feature value %q", val)}
			}
			row = append(row, Feature{Index: idx - 1, Value: v})
		}
		if prev > maxIndex {
			maxIndex = prev
		}

		ds.Rows = append(ds.Rows, row)
		ds.Labels = append(ds.Labels, y)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read libsvm data: %w", err)
	}

	ds.NumFeatures = maxIndex
	if bias >= 0 {
		for i := range ds.Rows {
			ds.Rows[i] = append(ds.Rows[i], Feature{Index: maxIndex, Value: bias})
		}
		ds.NumFeatures++
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// ReadCSV reads dense comma-separated rows whose last column is the label.
// Zero entries are not stored. A non-numeric first record is treated as a
// header.
func ReadCSV(r io.Reader, bias float64) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	ds := &Dataset{}
	width := -1
	first := true
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv data: %w", err)
		}
		// Lines are reported as they appear in the file, counting the
		// header, comments and blank lines.
		line, _ := reader.FieldPos(0)
		if first {
			first = false
			if !isNumericRecord(rec) {
				continue
			}
		}

		if len(rec) < 2 {
			return nil, &ParseError{Line: line, Reason: "need at least one feature and a label"}
		}
		if width >= 0 && len(rec) != width {
			return nil, &ParseError{Line: line, Reason: fmt.Sprintf("expected %d columns, got %d", width, len(rec))}
		}
		width = len(rec)

		row := make([]Feature, 0, len(rec))
		for j, field := range rec[:len(rec)-1] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				fieldLine, _ := reader.FieldPos(j)
				return nil, &ParseError{Line: fieldLine, Reason: fmt.Sprintf("invalid value %q", field)}
			}
			if v != 0 {
				row = append(row, Feature{Index: j, Value: v})
			}
		}
		y, err := strconv.ParseFloat(rec[len(rec)-1], 64)
		if err != nil {
			labelLine, _ := reader.FieldPos(len(rec) - 1)
			return nil, &ParseError{Line: labelLine, Reason: fmt.Sprintf("invalid label %q", rec[len(rec)-1])}
		}
		ds.Rows = append(ds.Rows, row)
		ds.Labels = append(ds.Labels, y)
	}

	ds.NumFeatures = width - 1
	if bias >= 0 && width > 0 {
		for i := range ds.Rows {
			ds.Rows[i] = append(ds.Rows[i], Feature{Index: ds.NumFeatures, Value: bias})
		}
		ds.NumFeatures++
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Load opens path and picks the reader by extension: .csv is dense CSV,
// anything else is LIBSVM.
func Load(path string, bias float64) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var ds *Dataset
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		ds, err = ReadCSV(f, bias)
	} else {
		ds, err = ReadLIBSVM(f, bias)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func isNumericRecord(rec []string) bool {
	for _, field := range rec {
		if _, err := strconv.ParseFloat(field, 64); err != nil {
			return false
		}
	}
	return true
}
