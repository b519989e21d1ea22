package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/zurustar/flowsheet/pkg/block"
	"github.com/zurustar/flowsheet/pkg/fileutil"
	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/inspector"
	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/notebook"
	"github.com/zurustar/flowsheet/pkg/scope"
	"github.com/zurustar/flowsheet/pkg/script"
)

type fakeRuntimes struct {
	store *scope.Store
	code  []string
}

func (f *fakeRuntimes) RunLanguage(ctx context.Context, code, lang string) string {
	f.code = append(f.code, lang+":"+code)
	if lang == "python" {
		f.store.Set("from_py", 99.0)
	}
	return "ran " + lang
}

func (f *fakeRuntimes) State(kind script.Kind) script.State {
	if kind == script.Numeric {
		return script.StateReady
	}
	return script.StateFailed
}

func newTestShell(t *testing.T) (*Shell, *bytes.Buffer, *fakeRuntimes) {
	t.Helper()
	dir := t.TempDir()
	store := scope.New(scope.WithLogger(logger.Discard()))
	eval := formula.New(formula.WithLogger(logger.Discard()))
	ctrl := block.NewController(store, eval, nil, block.WithLogger(logger.Discard()))
	nb := notebook.New()
	nb.Path = filepath.Join(dir, "book.yaml")
	session := notebook.NewSession(nb, store, ctrl, notebook.WithLogger(logger.Discard()))

	var out bytes.Buffer
	rt := &fakeRuntimes{store: store}
	return &Shell{
		session:  session,
		eval:     eval,
		runtimes: rt,
		inspect:  inspector.New(language.English),
		files:    fileutil.NewRealFS(dir),
		out:      &out,
	}, &out, rt
}

func run(t *testing.T, sh *Shell, out *bytes.Buffer, lines ...string) string {
	t.Helper()
	out.Reset()
	for _, line := range lines {
		sh.Execute(context.Background(), line)
	}
	return out.String()
}

func TestShellEvaluate(t *testing.T) {
	sh, out, _ := newTestShell(t)

	assert.Equal(t, "7\n", run(t, sh, out, "3 + 4"))
	assert.Equal(t, "rate = 0.5\n", run(t, sh, out, "rate = 0.5"))

	v, ok := sh.session.Store().Get("rate")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	got := run(t, sh, out, "rat * 2")
	assert.Contains(t, got, "Error: Undefined symbol rat")
	assert.Contains(t, got, "did you mean rate?")
}

func TestShellBlocksLifecycle(t *testing.T) {
	sh, out, _ := newTestShell(t)

	run(t, sh, out,
		":add formula 2 * 21",
		":name 1 answer",
		":add formula answer + 1",
		":name 2 next",
	)
	v, _ := sh.session.Store().Get("next")
	assert.Equal(t, 43.0, v)

	got := run(t, sh, out, ":blocks")
	assert.Contains(t, got, "answer")
	assert.Contains(t, got, "2 * 21 => 42")

	got = run(t, sh, out, ":deps")
	assert.Equal(t, "1 -> 2  (answer)\n", got)

	// editing the producer recomputes the consumer
	run(t, sh, out, ":set 1 100")
	v, _ = sh.session.Store().Get("next")
	assert.Equal(t, 101.0, v)

	run(t, sh, out, ":rm 1")
	assert.Equal(t, 1, sh.session.Notebook().Len())
	_, ok := sh.session.Store().Get("answer")
	assert.True(t, ok, "removing a block keeps its variable")
}

func TestShellTableCells(t *testing.T) {
	sh, out, _ := newTestShell(t)
	run(t, sh, out,
		":add table",
		":name 1 t",
		":cell 1 1 1 5",
		":cell 1 1 2 =1+1",
	)
	got := run(t, sh, out, ":show 1")
	assert.Contains(t, got, "# table t")
	assert.Contains(t, got, "5")
	assert.Contains(t, got, "2")

	got = run(t, sh, out, ":set 1 oops")
	assert.Contains(t, got, "use :cell")
	got = run(t, sh, out, ":cell 1 0 1 x")
	assert.Contains(t, got, "positive integers")
}

func TestShellDataFile(t *testing.T) {
	sh, out, _ := newTestShell(t)
	dir := sh.files.BasePath()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prices.csv"), []byte("item,price\npen,2\n"), 0644))

	run(t, sh, out, ":add data", ":name 1 prices", ":file 1 PRICES.csv")
	v, ok := sh.session.Store().Get("prices")
	require.True(t, ok)
	assert.Equal(t, []any{"Sheet1"}, v.(map[string]any)["sheets"])

	got := run(t, sh, out, ":ls")
	assert.Equal(t, "prices.csv\n", got)
}

func TestShellScripts(t *testing.T) {
	sh, out, rt := newTestShell(t)
	run(t, sh, out, ":add formula from_py + 1", ":name 1 derived")

	got := run(t, sh, out, ":py x = 1\\nprint(x)")
	assert.Equal(t, "ran python\n", got)
	assert.Equal(t, []string{"python:x = 1\nprint(x)"}, rt.code)

	v, _ := sh.session.Store().Get("derived")
	assert.Equal(t, 100.0, v, "direct runs recompute dependents")

	got = run(t, sh, out, ":status")
	assert.Contains(t, got, "Python: ready")
	assert.Contains(t, got, "R: failed")

	// script blocks without a configured runner report it
	got = run(t, sh, out, ":add script print(1)", ":run 2")
	assert.Contains(t, got, "Error: Python is unavailable")

	got = run(t, sh, out, ":lang 2 cobol")
	assert.Contains(t, got, "Error:")
}

func TestShellVarsAndSave(t *testing.T) {
	sh, out, _ := newTestShell(t)
	run(t, sh, out, "alpha = 1", "beta = [1, 2, 3]", "_hidden = 2")

	got := run(t, sh, out, ":vars")
	assert.Contains(t, got, "alpha")
	assert.Contains(t, got, "Array[3]")
	assert.NotContains(t, got, "_hidden")

	got = run(t, sh, out, ":vars bt")
	assert.Contains(t, got, "beta")
	assert.NotContains(t, got, "alpha")

	got = run(t, sh, out, ":add text hello", ":save")
	assert.Contains(t, got, "saved")
	_, err := os.Stat(sh.session.Notebook().Path)
	assert.NoError(t, err)
}

func TestShellCommands(t *testing.T) {
	sh, out, _ := newTestShell(t)

	assert.True(t, sh.Execute(context.Background(), ":quit"))
	assert.False(t, sh.Execute(context.Background(), "   "))

	got := run(t, sh, out, ":bogus")
	assert.Contains(t, got, "unknown command :bogus")

	got = run(t, sh, out, ":help")
	assert.Contains(t, got, ":vars")
	assert.Contains(t, got, ":quit")

	got = run(t, sh, out, ":show 4")
	assert.Contains(t, got, "no block 4")
}

func TestShellCompletions(t *testing.T) {
	sh, out, _ := newTestShell(t)
	run(t, sh, out, "total = 1", "tax = 2")

	assert.Equal(t, []string{":vars"}, sh.Completions(":va"))
	got := sh.Completions("1 + ta")
	assert.Contains(t, got, "1 + tax")
	assert.Contains(t, got, "1 + tan")
	for _, c := range got {
		assert.True(t, strings.HasPrefix(c, "1 + ta"))
	}
	assert.Empty(t, sh.Completions("1 + "))
}
