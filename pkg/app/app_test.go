package app

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchNotebook = `version: 1
blocks:
  - id: rate
    type: formula
    position: {x: 0, y: 0}
    content: "0.25"
    variableName: rate
  - id: grid
    type: table
    position: {x: 0, y: 120}
    variableName: prices
    cells:
      - [100, 200]
      - ["=rate * 4", x]
  - id: total
    type: formula
    position: {x: 0, y: 240}
    content: "sum(prices[1]) * rate"
    variableName: total
`

func runBatch(t *testing.T, demo fs.FS, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := New(demo, WithOutput(&out), WithLogOutput(io.Discard))
	err := app.Run(append([]string{"--batch", "--no-python", "--no-r"}, args...))
	return out.String(), err
}

func TestRunBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.yaml")
	require.NoError(t, os.WriteFile(path, []byte(batchNotebook), 0644))

	out, err := runBatch(t, nil, path)
	require.NoError(t, err)

	assert.Contains(t, out, "# formula rate (rate)")
	assert.Contains(t, out, "# table prices (grid)")
	assert.Contains(t, out, "# formula total (total)")
	assert.Contains(t, out, "=> 75")
	assert.Contains(t, out, "# variables")
	assert.Contains(t, out, "# dependencies")
	assert.Contains(t, out, "1 -> 3 (rate)")
	assert.Contains(t, out, "2 -> 3 (prices)")
}

func TestRunBatchMissingNotebook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.yaml")

	out, err := runBatch(t, nil, path)
	require.NoError(t, err)
	assert.Contains(t, out, "# variables")
	assert.NotContains(t, out, "# dependencies")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "batch runs do not create the notebook")
}

func TestRunBatchScriptWithoutRuntimes(t *testing.T) {
	doc := "blocks:\n  - {id: s, type: script, content: \"x = 1\"}\n"
	path := filepath.Join(t.TempDir(), "book.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	out, err := runBatch(t, nil, path)
	require.NoError(t, err)
	assert.Contains(t, out, "# script (s)")
	assert.Contains(t, out, "Error:")
}

func TestRunDemo(t *testing.T) {
	demo := fstest.MapFS{
		"demo/notebook.yaml": {Data: []byte(`blocks:
  - id: sales
    type: data
    fileName: Sales.csv
    variableName: sales
`)},
		"demo/sales.csv": {Data: []byte("region,amount\nnorth,10\nsouth,20\n")},
	}

	out, err := runBatch(t, demo, "--demo")
	require.NoError(t, err)
	assert.Contains(t, out, "# data sales (sales)")
	assert.Contains(t, out, "file: Sales.csv sheet: Sheet1")
	assert.Contains(t, out, "north")
}

func TestRunErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.yaml")
	require.NoError(t, os.WriteFile(path, []byte(batchNotebook), 0644))
	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("blocks: [1, 2"), 0644))

	tests := []struct {
		name string
		args []string
	}{
		{"デモなしでの --demo", []string{"--demo"}},
		{"不正なロケール", []string{"--locale=!!", path}},
		{"壊れたノートブック", []string{broken}},
		{"不正なフラグ", []string{"--colour", path}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := runBatch(t, nil, tt.args...)
			assert.Error(t, err)
		})
	}
}
