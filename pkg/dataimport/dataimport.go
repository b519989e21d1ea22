// Package dataimport reads delimited text files into the dataset objects
// that data blocks publish into the scope.
//
// A dataset has the shape {"sheets": [name], name: rows}, where rows is a
// list of rows and every row is a list of cells. Numeric cells become
// float64, TRUE/FALSE become booleans, empty cells are "" and short rows
// are padded to the width of the widest row.
package dataimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/zurustar/flowsheet/pkg/fileutil"
)

// DefaultSheet is the sheet name given to an imported file.
const DefaultSheet = "Sheet1"

// Options controls how a file is decoded and split.
type Options struct {
	// Encoding is a WHATWG encoding label such as "shift_jis" or
	// "windows-1252". Empty or "auto" detects a UTF-8 or UTF-16 byte order
	// mark and otherwise assumes UTF-8.
	Encoding string
	// Comma is the field delimiter. Zero selects ',' (or '\t' for .tsv
	// files in ImportFile).
	Comma rune
	// Sheet overrides the sheet name used by ImportFile.
	Sheet string
}

// Dataset is an imported workbook.
type Dataset map[string]any

// Sheets returns the sheet names in order.
func (d Dataset) Sheets() []string {
	raw, _ := d["sheets"].([]any)
	names := make([]string, 0, len(raw))
	for _, n := range raw {
		if s, ok := n.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// Sheet returns the rows of the named sheet.
func (d Dataset) Sheet(name string) ([]any, bool) {
	if name == "sheets" {
		return nil, false
	}
	rows, ok := d[name].([]any)
	return rows, ok
}

// Import reads delimited text from r into a single sheet dataset.
func Import(r io.Reader, sheetName string, opts Options) (Dataset, error) {
	if sheetName == "" {
		sheetName = DefaultSheet
	}
	if sheetName == "sheets" {
		return nil, errors.New(`sheet name "sheets" is reserved`)
	}

	decoded, err := decoder(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", sheetName, err)
	}

	width := 0
	for _, rec := range records {
		width = max(width, len(rec))
	}
	rows := make([]any, len(records))
	for i, rec := range records {
		row := make([]any, width)
		for j := range row {
			if j < len(rec) {
				row[j] = parseCell(rec[j])
			} else {
				row[j] = ""
			}
		}
		rows[i] = row
	}

	return Dataset{
		"sheets":  []any{sheetName},
		sheetName: rows,
	}, nil
}

// ImportFile imports name from dir. The file name is matched
// case-insensitively; an absolute name ignores dir.
func ImportFile(dir, name string, opts Options) (Dataset, error) {
	dir, name = fileutil.SplitPath(dir, name)
	return ImportFS(fileutil.NewRealFS(dir), name, opts)
}

// ImportFS imports name from fsys. The extension selects the delimiter:
// .csv, .txt or none use a comma, .tsv and .tab a tab.
func ImportFS(fsys fileutil.FileSystem, name string, opts Options) (Dataset, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt", "":
	case ".tsv", ".tab":
		if opts.Comma == 0 {
			opts.Comma = '\t'
		}
	default:
		return nil, fmt.Errorf("unsupported file type %s (expected .csv or .tsv)", ext)
	}

	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}
	return Import(f, sheet, opts)
}

// decoder wraps r so that it yields UTF-8.
func decoder(r io.Reader, label string) (io.Reader, error) {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" || label == "auto" {
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// parseCell converts a raw field to a number, a boolean or a string.
func parseCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && looksNumeric(s) {
		return f
	}
	return raw
}

// looksNumeric rejects inputs ParseFloat accepts but a spreadsheet would
// keep as text, like "Inf", "nan" or "0x1p3".
func looksNumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '+' || r == 'e' || r == 'E':
		default:
			return false
		}
	}
	return true
}
