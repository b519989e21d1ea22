package dataimport

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/zurustar/flowsheet/pkg/fileutil"
)

func TestImport(t *testing.T) {
	input := "name,qty,price,ok\nbolt,10,0.25,TRUE\nnut,, 1e3\n"
	ds, err := Import(strings.NewReader(input), "parts", Options{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if got := ds.Sheets(); !reflect.DeepEqual(got, []string{"parts"}) {
		t.Errorf("Sheets() = %v", got)
	}
	rows, ok := ds.Sheet("parts")
	if !ok {
		t.Fatal("sheet parts missing")
	}
	want := []any{
		[]any{"name", "qty", "price", "ok"},
		[]any{"bolt", 10.0, 0.25, true},
		[]any{"nut", "", 1000.0, ""},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %#v\nwant %#v", rows, want)
	}
}

func TestImportKeepsTextThatLooksNumeric(t *testing.T) {
	ds, err := Import(strings.NewReader("Inf,nan,0x10,1-2\n"), "", Options{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	rows, _ := ds.Sheet(DefaultSheet)
	want := []any{[]any{"Inf", "nan", "0x10", "1-2"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %#v", rows)
	}
}

func TestImportByteOrderMarks(t *testing.T) {
	utf16, _, err := transform.Bytes(
		unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder(),
		[]byte("a,b\n1,2\n"),
	)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"utf-8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "a,b\n1,2\n"...)},
		{"utf-16 bom", utf16},
		{"plain", []byte("a,b\n1,2\n")},
	}
	want := []any{[]any{"a", "b"}, []any{1.0, 2.0}}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ds, err := Import(bytes.NewReader(tt.input), "", Options{})
			if err != nil {
				t.Fatalf("Import failed: %v", err)
			}
			rows, _ := ds.Sheet(DefaultSheet)
			if !reflect.DeepEqual(rows, want) {
				t.Errorf("rows = %#v", rows)
			}
		})
	}
}

func TestImportShiftJIS(t *testing.T) {
	sjis, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte("品名,数量\nボルト,3\n"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	ds, err := Import(bytes.NewReader(sjis), "", Options{Encoding: "shift_jis"})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	rows, _ := ds.Sheet(DefaultSheet)
	want := []any{[]any{"品名", "数量"}, []any{"ボルト", 3.0}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %#v", rows)
	}
}

func TestImportErrors(t *testing.T) {
	if _, err := Import(strings.NewReader("a"), "", Options{Encoding: "klingon"}); err == nil {
		t.Error("expected error for unknown encoding")
	}
	if _, err := Import(strings.NewReader("a"), "sheets", Options{}); err == nil {
		t.Error("expected error for reserved sheet name")
	}
}

func TestImportFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Sales.CSV"), []byte("m,t\njan,5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cols.tsv"), []byte("a\tb\n1\t2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := ImportFile(dir, "sales.csv", Options{})
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	rows, _ := ds.Sheet(DefaultSheet)
	if len(rows) != 2 {
		t.Errorf("rows = %v", rows)
	}

	ds, err = ImportFile(dir, "cols.tsv", Options{Sheet: "cols"})
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	rows, _ = ds.Sheet("cols")
	if !reflect.DeepEqual(rows, []any{[]any{"a", "b"}, []any{1.0, 2.0}}) {
		t.Errorf("rows = %#v", rows)
	}

	if _, err := ImportFile(dir, "book.xlsx", Options{}); err == nil {
		t.Error("expected error for unsupported file type")
	}
	if _, err := ImportFile(dir, "missing.csv", Options{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestImportFS(t *testing.T) {
	fsys, err := fileutil.NewEmbedFS(fstest.MapFS{
		"demo/Data/Rates.csv": {Data: []byte("year,rate\n2024,0.05\n")},
	}, "demo")
	if err != nil {
		t.Fatalf("NewEmbedFS failed: %v", err)
	}

	ds, err := ImportFS(fsys, "data/rates.csv", Options{Sheet: "rates"})
	if err != nil {
		t.Fatalf("ImportFS failed: %v", err)
	}
	rows, _ := ds.Sheet("rates")
	want := []any{[]any{"year", "rate"}, []any{2024.0, 0.05}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %#v", rows)
	}
}

func TestImportFileAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abs.csv")
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ImportFile("/nonexistent", path, Options{}); err != nil {
		t.Errorf("ImportFile with absolute path failed: %v", err)
	}
}
