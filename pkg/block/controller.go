package block

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/scope"
	"github.com/zurustar/flowsheet/pkg/script"
)

// previewRows is the number of data rows shown for a data block.
const previewRows = 5

// Runner executes script code. *script.Bridge implements it.
type Runner interface {
	Run(ctx context.Context, code string, kind script.Kind) string
}

// Derived is what a block shows after an edit, run or refresh. It is
// recomputed on demand and never persisted.
type Derived struct {
	// Value is the evaluated result of a formula block.
	Value formula.Value
	// Display is the text shown as the block's result.
	Display string
	// Lines holds per-line results of a multi-line formula.
	Lines []formula.LineResult
	// Cells holds the rendered cells of a table block.
	Cells [][]string
	// Preview holds the first rows of the selected sheet of a data block.
	Preview []any
	// Sync is set when a table should adopt content from the scope.
	Sync *Update
	// Wrote is true when the scope was written.
	Wrote bool
	// Version is the scope version after the operation.
	Version uint64
}

// Controller implements the edit, run and refresh contract between
// blocks and the scope.
type Controller struct {
	store  *scope.Store
	eval   *formula.Evaluator
	runner Runner
	log    *slog.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// NewController creates a controller. eval may be nil to use a default
// evaluator; runner may be nil when no script runtime is available.
func NewController(store *scope.Store, eval *formula.Evaluator, runner Runner, opts ...Option) *Controller {
	if eval == nil {
		eval = formula.New()
	}
	c := &Controller{
		store:  store,
		eval:   eval,
		runner: runner,
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluator returns the controller's formula evaluator.
func (c *Controller) Evaluator() *formula.Evaluator {
	return c.eval
}

// Edit applies u to b, persists it through onChange and publishes the
// block's value. onChange is always called, whether or not the content
// evaluates. Both the persistence and the scope write have happened when
// Edit returns.
//
//   - formula: evaluated; a named, non-empty result is written (an Error
//     result is written too)
//   - table: the cells are written when named
//   - data: the dataset is written when named and present
//   - script, text, image, cad: nothing is written
func (c *Controller) Edit(ctx context.Context, b Block, u Update, onChange OnChange) (Block, Derived) {
	nb := b.Apply(u)
	if onChange != nil {
		onChange(u)
	}
	return nb, c.derive(nb, true)
}

// Run executes a script block and persists its output through onChange.
// Other block kinds are returned unchanged.
func (c *Controller) Run(ctx context.Context, b Block, onChange OnChange) (Block, Derived) {
	if b.Type != KindScript {
		return b, c.derive(b, false)
	}

	var output string
	language := b.Language
	if strings.TrimSpace(language) == "" {
		language = "python"
	}
	kind, err := script.ParseKind(language)
	switch {
	case err != nil:
		output = "Error: Unsupported language"
	case c.runner == nil:
		output = "Error: " + kind.Language() + " is unavailable: no script runtime configured"
	default:
		output = c.runner.Run(ctx, b.Content, kind)
	}

	u := Update{Output: &output}
	nb := b.Apply(u)
	if onChange != nil {
		onChange(u)
	}
	return nb, Derived{Display: output, Version: c.store.Version()}
}

// Refresh re-derives b after the scope changed. A formula result is
// written back only when it differs from the stored value; a table
// reports content to adopt from the scope in Derived.Sync.
func (c *Controller) Refresh(b Block) Derived {
	return c.derive(b, false)
}

func (c *Controller) derive(b Block, publish bool) Derived {
	switch b.Type {
	case KindFormula:
		return c.deriveFormula(b, publish)
	case KindTable:
		return c.deriveTable(b, publish)
	case KindData:
		return c.deriveData(b, publish)
	case KindScript:
		return Derived{Display: b.Output, Version: c.store.Version()}
	}
	return Derived{Display: b.Content, Version: c.store.Version()}
}

func (c *Controller) deriveFormula(b Block, publish bool) Derived {
	snap := c.store.Snapshot()
	if strings.TrimSpace(b.Content) == "" {
		return Derived{Value: formula.Empty, Version: snap.Version()}
	}

	value := c.eval.Evaluate(b.Content, snap)
	d := Derived{
		Value:   value,
		Display: formula.Format(value),
		Version: snap.Version(),
	}
	if strings.Contains(strings.TrimSpace(b.Content), "\n") {
		d.Lines = c.eval.EvaluateLines(b.Content, snap)
	}

	name := b.Variable()
	if name == "" || formula.IsEmpty(value) {
		return d
	}
	if !publish {
		if current, ok := c.store.Get(name); ok && formula.Equal(current, value) {
			return d
		}
	}
	d.Version = c.store.Set(name, value)
	d.Wrote = true
	c.log.Debug("formula published", "block", b.ID, "name", name, "version", d.Version)
	return d
}

func (c *Controller) deriveTable(b Block, publish bool) Derived {
	snap := c.store.Snapshot()
	cells := tableCells(b)
	d := Derived{
		Cells:   Render(cells, snap, c.eval),
		Version: snap.Version(),
	}

	name := b.Variable()
	if publish {
		if name != "" {
			d.Version = c.store.Set(name, cells)
			d.Wrote = true
			c.log.Debug("table published", "block", b.ID, "name", name, "version", d.Version)
		}
		return d
	}
	if u, ok := SyncFromScope(b, snap); ok {
		d.Sync = &u
	}
	return d
}

func (c *Controller) deriveData(b Block, publish bool) Derived {
	d := Derived{Preview: preview(b), Version: c.store.Version()}
	if b.FileName != "" {
		d.Display = b.FileName
	}

	name := b.Variable()
	if !publish || name == "" || b.Data == nil {
		return d
	}
	d.Version = c.store.Set(name, b.Data)
	d.Wrote = true
	c.log.Debug("dataset published", "block", b.ID, "name", name, "version", d.Version)
	return d
}

// preview returns the first rows of the selected sheet, falling back to
// the block's own rows.
func preview(b Block) []any {
	rows := b.Rows
	if b.Data != nil {
		sheet := b.SelectedSheet
		if sheet == "" {
			if names, ok := b.Data["sheets"].([]any); ok && len(names) > 0 {
				sheet, _ = names[0].(string)
			}
		}
		if r, ok := b.Data[sheet].([]any); ok {
			rows = r
		}
	}
	if len(rows) > previewRows {
		rows = rows[:previewRows]
	}
	return rows
}
