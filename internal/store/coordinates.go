package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// WriteCoordinates writes x as CSV, one matrix row per record, with
// shortest round-trip float formatting.
func WriteCoordinates(w io.Writer, x mat.Matrix) error {
	r, c := x.Dims()
	cw := csv.NewWriter(w)
	record := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			record[j] = strconv.FormatFloat(x.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write coordinates: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write coordinates: %w", err)
	}
	return nil
}
