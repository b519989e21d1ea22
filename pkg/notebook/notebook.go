// Package notebook holds the ordered block collection of a notebook, its
// YAML document form and the session that keeps blocks and scope in step.
package notebook

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zurustar/flowsheet/pkg/block"
)

// FormatVersion is the document version written by Save and Encode.
const FormatVersion = 1

// ErrBlockNotFound is returned for an unknown block id.
var ErrBlockNotFound = errors.New("block not found")

// Notebook is an ordered collection of blocks. It is safe for concurrent
// use.
type Notebook struct {
	// Path is the file the notebook was loaded from or last saved to.
	Path string

	mu     sync.RWMutex
	blocks []block.Block
}

// document is the on-disk form.
type document struct {
	Version int           `yaml:"version"`
	Blocks  []block.Block `yaml:"blocks"`
}

// New creates an empty notebook.
func New() *Notebook {
	return &Notebook{}
}

// Add appends a block of kind k with its defaults and a fresh id.
func (n *Notebook) Add(k block.Kind, pos block.Position) block.Block {
	b := block.New(uuid.NewString(), k, pos)
	n.mu.Lock()
	n.blocks = append(n.blocks, b)
	n.mu.Unlock()
	return b
}

// Insert appends b as is. Its id must be unique.
func (n *Notebook) Insert(b block.Block) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if n.index(b.ID) >= 0 {
		return fmt.Errorf("duplicate block id %s", b.ID)
	}
	n.blocks = append(n.blocks, b)
	return nil
}

// Get returns the block with the given id.
func (n *Notebook) Get(id string) (block.Block, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if i := n.index(id); i >= 0 {
		return n.blocks[i], true
	}
	return block.Block{}, false
}

// Update applies u to the block with the given id and returns the result.
func (n *Notebook) Update(id string, u block.Update) (block.Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := n.index(id)
	if i < 0 {
		return block.Block{}, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	n.blocks[i] = n.blocks[i].Apply(u)
	return n.blocks[i], nil
}

// Remove deletes the block with the given id. Variables the block
// published stay in the scope.
func (n *Notebook) Remove(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := n.index(id)
	if i < 0 {
		return false
	}
	n.blocks = append(n.blocks[:i], n.blocks[i+1:]...)
	return true
}

// Blocks returns the blocks in document order.
func (n *Notebook) Blocks() []block.Block {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]block.Block, len(n.blocks))
	copy(out, n.blocks)
	return out
}

// Len returns the number of blocks.
func (n *Notebook) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.blocks)
}

func (n *Notebook) index(id string) int {
	for i, b := range n.blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Dir returns the directory relative file names are resolved against.
func (n *Notebook) Dir() string {
	if n.Path == "" {
		return "."
	}
	return filepath.Dir(n.Path)
}

// Load reads a notebook document from path.
func Load(path string) (*Notebook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open notebook: %w", err)
	}
	defer f.Close()

	n, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	n.Path = path
	return n, nil
}

// Save writes the notebook to path and remembers it as n.Path.
func (n *Notebook) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create notebook file: %w", err)
	}
	if err := n.Encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write notebook file: %w", err)
	}
	n.Path = path
	return nil
}

// Decode reads a YAML notebook document. Blocks without an id get one;
// block types are validated.
func Decode(r io.Reader) (*Notebook, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid notebook document: %w", err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("unsupported notebook version %d (newest is %d)", doc.Version, FormatVersion)
	}

	n := New()
	for i, b := range doc.Blocks {
		kind, err := block.ParseKind(string(b.Type))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		b.Type = kind
		if err := n.Insert(b); err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
	}
	return n, nil
}

// Encode writes the notebook as a YAML document.
func (n *Notebook) Encode(w io.Writer) error {
	doc := document{Version: FormatVersion, Blocks: n.Blocks()}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode notebook: %w", err)
	}
	return enc.Close()
}
