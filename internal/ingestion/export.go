package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/tabledeck/importd/internal/domain"
)

// ExportCSV serializes row records back into CSV under the given header
// order. Cells missing from a record render as empty strings.
func ExportCSV(headers []string, rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, header := range headers {
			record[i] = domain.CellString(row[header])
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
