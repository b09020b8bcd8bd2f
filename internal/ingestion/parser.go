package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyFile is returned when the upload carries no rows at all.
	ErrEmptyFile = errors.New("file is empty")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Table is a parsed upload: an ordered header row plus string-valued data
// rows padded to the header width. Missing cells are empty strings so that
// validation sees every cell exactly once.
type Table struct {
	Headers   []string
	Rows      [][]string
	Delimiter string
}

// RowCount returns the number of data rows.
func (t Table) RowCount() int {
	return len(t.Rows)
}

// Records converts the rows into ordered header-to-value maps, the shape an
// import job stores in its data column.
func (t Table) Records() []map[string]any {
	records := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		record := make(map[string]any, len(t.Headers))
		for j, header := range t.Headers {
			if j < len(row) {
				record[header] = row[j]
			} else {
				record[header] = ""
			}
		}
		records[i] = record
	}
	return records
}

// Parse decodes an uploaded spreadsheet by file extension. CSV and TSV are
// decoded directly; XLSX through excelize. All cell values come back as
// strings with column order preserved.
func Parse(fileName string, payload []byte) (Table, error) {
	if len(payload) == 0 {
		return Table{}, ErrEmptyFile
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", ".txt":
		return parseCSV(payload, detectDelimiter(payload))
	case ".tsv":
		return parseCSV(payload, '\t')
	case ".xlsx", ".xlsm", ".xltx":
		return parseExcel(payload)
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, delimiter rune) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.Comma = delimiter
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to read csv: %w", err)
	}
	table, err := normalizeTable(records)
	if err != nil {
		return Table{}, err
	}
	table.Delimiter = string(delimiter)
	return table, nil
}

func parseExcel(payload []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Table{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// detectDelimiter sniffs the first non-empty line for the delimiter that
// splits it into the most cells. Comma wins ties.
func detectDelimiter(payload []byte) rune {
	line := payload
	if idx := bytes.IndexByte(payload, '\n'); idx >= 0 {
		line = payload[:idx]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []byte{';', '\t', '|'} {
		if count := bytes.Count(line, []byte{candidate}); count > bestCount {
			best, bestCount = rune(candidate), count
		}
	}
	return best
}

func normalizeTable(records [][]string) (Table, error) {
	if len(records) == 0 {
		return Table{}, ErrEmptyFile
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return Table{}, errors.New("header row could not be detected")
	}

	headers := dedupeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}
	dataRows = filterEmptyRows(dataRows)

	return Table{Headers: headers, Rows: dataRows}, nil
}

// dedupeHeaders trims header labels, names blank columns, and suffixes
// duplicates so every column has a stable, unique key. Labels are otherwise
// left exactly as they appeared in the file so mapping can match on them.
func dedupeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}
		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1
		headers[idx] = name
	}
	return headers
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				filtered = append(filtered, row)
				break
			}
		}
	}
	return filtered
}
