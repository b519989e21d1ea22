package notebook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/zurustar/flowsheet/pkg/block"
	"github.com/zurustar/flowsheet/pkg/dataimport"
	"github.com/zurustar/flowsheet/pkg/deps"
	"github.com/zurustar/flowsheet/pkg/fileutil"
	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/scope"
)

// Session binds a notebook to a scope and keeps derived block state
// current as blocks are edited and run.
type Session struct {
	nb       *Notebook
	store    *scope.Store
	ctrl     *block.Controller
	resolver deps.Resolver
	dir      string
	files    fileutil.FileSystem
	importer dataimport.Options
	log      *slog.Logger

	mu      sync.Mutex
	derived map[string]block.Derived
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*Session)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

// WithDir sets the directory data files are imported from. It defaults
// to the notebook's directory.
func WithDir(dir string) SessionOption {
	return func(s *Session) {
		s.dir = dir
	}
}

// WithFileSystem sets where data files are imported from, for example an
// embedded notebook directory. It takes precedence over WithDir.
func WithFileSystem(fsys fileutil.FileSystem) SessionOption {
	return func(s *Session) {
		s.files = fsys
	}
}

// WithImportOptions sets the options used for data file imports.
func WithImportOptions(opts dataimport.Options) SessionOption {
	return func(s *Session) {
		s.importer = opts
	}
}

// WithResolver sets the dependency overlay configuration.
func WithResolver(r deps.Resolver) SessionOption {
	return func(s *Session) {
		s.resolver = r
	}
}

// NewSession creates a session over nb.
func NewSession(nb *Notebook, store *scope.Store, ctrl *block.Controller, opts ...SessionOption) *Session {
	s := &Session{
		nb:      nb,
		store:   store,
		ctrl:    ctrl,
		log:     logger.GetLogger(),
		derived: make(map[string]block.Derived),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dir == "" {
		s.dir = nb.Dir()
	}
	if s.files == nil {
		s.files = fileutil.NewRealFS(s.dir)
	}
	return s
}

// Notebook returns the session's notebook.
func (s *Session) Notebook() *Notebook { return s.nb }

// Store returns the session's scope.
func (s *Session) Store() *scope.Store { return s.store }

// Add appends a new block. It publishes nothing until edited.
func (s *Session) Add(k block.Kind, pos block.Position) block.Block {
	return s.nb.Add(k, pos)
}

// Remove deletes a block. Its variables stay in the scope.
func (s *Session) Remove(id string) bool {
	s.mu.Lock()
	delete(s.derived, id)
	s.mu.Unlock()
	return s.nb.Remove(id)
}

// Edit applies u to a block, publishes its value and recomputes the
// blocks that depend on the scope. Setting a data block's file name
// imports the file.
func (s *Session) Edit(ctx context.Context, id string, u block.Update) (block.Derived, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.nb.Get(id)
	if !ok {
		return block.Derived{}, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}

	if b.Type == block.KindData && u.FileName != nil && *u.FileName != "" {
		imported, err := s.importData(b.Apply(u))
		if err != nil {
			return block.Derived{}, err
		}
		u = u.Merge(imported)
	}

	_, d := s.ctrl.Edit(ctx, b, u, s.persist(id))
	s.derived[id] = d
	s.recompute()
	return s.derived[id], nil
}

// Run executes a script block and recomputes dependents. Other block
// kinds are refreshed.
func (s *Session) Run(ctx context.Context, id string) (block.Derived, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.nb.Get(id)
	if !ok {
		return block.Derived{}, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	_, d := s.ctrl.Run(ctx, b, s.persist(id))
	s.derived[id] = d
	s.recompute()
	return d, nil
}

// RunAll publishes every block the way a freshly opened notebook does:
// data blocks first, then tables, formulas and scripts, each group in
// document order, then a recompute. Import failures are collected and
// the remaining blocks still run.
func (s *Session) RunAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, kind := range []block.Kind{block.KindData, block.KindTable, block.KindFormula, block.KindScript} {
		for _, b := range s.nb.Blocks() {
			if b.Type != kind {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			var u block.Update
			if kind == block.KindData && b.FileName != "" && b.Data == nil {
				imported, err := s.importData(b)
				if err != nil {
					errs = append(errs, err)
				} else {
					u = imported
				}
			}

			var d block.Derived
			if kind == block.KindScript {
				_, d = s.ctrl.Run(ctx, b, s.persist(b.ID))
			} else {
				_, d = s.ctrl.Edit(ctx, b, u, s.persist(b.ID))
			}
			s.derived[b.ID] = d
		}
	}

	passes := s.recompute()
	s.log.Info("notebook evaluated", "blocks", s.nb.Len(), "passes", passes, "version", s.store.Version())
	return errors.Join(errs...)
}

// Recompute refreshes formula and table blocks until no formula writes a
// changed value, and returns the number of passes. A cycle of formulas is
// cut off after one pass more than there are blocks.
func (s *Session) Recompute() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recompute()
}

func (s *Session) recompute() int {
	limit := s.nb.Len() + 1
	passes := 0
	for passes < limit {
		passes++
		changed := false
		for _, b := range s.nb.Blocks() {
			if b.Type != block.KindFormula && b.Type != block.KindTable {
				continue
			}
			d := s.ctrl.Refresh(b)
			if d.Sync != nil {
				if _, err := s.nb.Update(b.ID, *d.Sync); err == nil {
					s.log.Debug("table adopted scope value", "block", b.ID, "name", b.Variable())
				}
				d.Sync = nil
			}
			s.derived[b.ID] = d
			changed = changed || d.Wrote
		}
		if !changed {
			return passes
		}
	}
	s.log.Warn("recompute stopped before settling", "passes", passes)
	return passes
}

// Derived returns the last derived state of a block, refreshing it when
// the block has not been evaluated yet.
func (s *Session) Derived(id string) (block.Derived, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.derived[id]; ok {
		return d, true
	}
	b, ok := s.nb.Get(id)
	if !ok {
		return block.Derived{}, false
	}
	d := s.ctrl.Refresh(b)
	s.derived[id] = d
	return d, true
}

// Dependencies returns the producer to consumer edges between blocks.
func (s *Session) Dependencies() []deps.Edge {
	return s.resolver.Edges(s.nb.Blocks())
}

// Lines returns the dependency overlay segments.
func (s *Session) Lines() []deps.Line {
	return s.resolver.Lines(s.nb.Blocks())
}

func (s *Session) persist(id string) block.OnChange {
	return func(u block.Update) {
		if u.IsZero() {
			return
		}
		if _, err := s.nb.Update(id, u); err != nil {
			s.log.Warn("failed to persist block update", "block", id, "error", err)
		}
	}
}

// importData reads b's file and returns the update that stores it.
func (s *Session) importData(b block.Block) (block.Update, error) {
	opts := s.importer
	if opts.Sheet == "" {
		opts.Sheet = b.SelectedSheet
	}
	var ds dataimport.Dataset
	var err error
	if filepath.IsAbs(b.FileName) && !s.files.IsEmbedded() {
		ds, err = dataimport.ImportFile(s.dir, b.FileName, opts)
	} else {
		ds, err = dataimport.ImportFS(s.files, b.FileName, opts)
	}
	if err != nil {
		return block.Update{}, fmt.Errorf("block %s: %w", b.ID, err)
	}

	u := block.Update{Data: map[string]any(ds)}
	if sheets := ds.Sheets(); len(sheets) > 0 {
		rows, _ := ds.Sheet(sheets[0])
		u.Rows = rows
		if b.SelectedSheet == "" {
			u.SelectedSheet = &sheets[0]
		}
	}
	s.log.Info("data imported", "block", b.ID, "file", b.FileName, "sheets", len(ds.Sheets()))
	return u, nil
}
