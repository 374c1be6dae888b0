package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// maxFileBytes bounds how much of a file LoadFile will read.
const maxFileBytes = 32 << 20

// csvSampleRows is the number of data rows rendered for a CSV file.
const csvSampleRows = 20

// LoadFile reads path and returns its text. Files that are not valid UTF-8
// are decoded as Latin-1. CSV files are rendered as a header summary plus a
// sample of rows. Types that need an external extractor return
// ErrUnsupportedType.
func LoadFile(path string, ft FileType) (string, error) {
	if !ft.Readable() {
		return "", fmt.Errorf("%w: %s files must be converted to text first", ErrUnsupportedType, ft)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	if len(raw) > maxFileBytes {
		return "", fmt.Errorf("ingestion: %s exceeds %d bytes", path, maxFileBytes)
	}

	text := decodeText(raw)
	if ft == FileTypeCSV {
		return renderCSV(filepath.Base(path), text)
	}
	return text, nil
}

// decodeText returns raw as a string, reinterpreting it as Latin-1 when it
// is not valid UTF-8. A leading UTF-8 byte order mark is dropped.
func decodeText(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw)
	}
	var b strings.Builder
	b.Grow(len(raw) * 2)
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// renderCSV summarises a CSV document: name, columns, row count and the
// first csvSampleRows rows.
func renderCSV(name, text string) (string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("ingestion: parse csv %s: %w", name, err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header, rows := records[0], records[1:]
	var b strings.Builder
	fmt.Fprintf(&b, "CSV File: %s\n", name)
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(header, ", "))
	fmt.Fprintf(&b, "Rows: %d\n", len(rows))
	b.WriteString("\n--- Data ---\n\n")
	fmt.Fprintf(&b, "Sample Data (first %d rows):\n", csvSampleRows)
	b.WriteString(strings.Join(header, " | "))
	for i, row := range rows {
		if i == csvSampleRows {
			break
		}
		b.WriteByte('\n')
		b.WriteString(strings.Join(row, " | "))
	}
	return b.String(), nil
}
