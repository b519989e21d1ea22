// Package deps derives producer to consumer edges between blocks from the
// variable names they publish and mention.
//
// The resolver is stateless: edges are recomputed from scratch on every
// call and are only ever used for display. They never gate evaluation.
package deps

import (
	"regexp"
	"strings"

	"github.com/zurustar/flowsheet/pkg/block"
	"github.com/zurustar/flowsheet/pkg/formula"
)

// DefaultWidth and DefaultHeight are assumed for blocks without a size.
const (
	DefaultWidth  = 300
	DefaultHeight = 100
)

var identPattern = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

// Edge links the block publishing a variable to a formula block that
// mentions it.
type Edge struct {
	From string
	To   string
	// Name is the variable carried along the edge.
	Name string
}

// Point is a canvas coordinate.
type Point struct {
	X, Y float64
}

// Line is an overlay segment between two block centres.
type Line struct {
	Edge
	Start, End Point
}

// Resolve computes edges by scanning formula content for identifier
// tokens. Every token naming a producer yields an edge, so incidental
// words that happen to match a variable name produce spurious edges.
func Resolve(blocks []block.Block) []Edge {
	return resolve(blocks, Tokens)
}

// ResolveStrict computes edges from the free variables of each formula's
// parse tree, so function names, constants and names assigned inside the
// formula are not counted. Formulas that do not parse fall back to
// tokenization.
func ResolveStrict(blocks []block.Block) []Edge {
	return resolve(blocks, func(content string) []string {
		refs, err := formula.References(content)
		if err != nil {
			return Tokens(content)
		}
		return refs
	})
}

func resolve(blocks []block.Block, refs func(string) []string) []Edge {
	producers := Producers(blocks)
	var edges []Edge
	for _, b := range blocks {
		if b.Type != block.KindFormula {
			continue
		}
		for _, name := range refs(b.Content) {
			from, ok := producers[name]
			if !ok || from == b.ID {
				continue
			}
			edges = append(edges, Edge{From: from, To: b.ID, Name: name})
		}
	}
	return edges
}

// Producers maps each published variable name to the id of the block
// publishing it. When several blocks publish the same name the last one
// wins.
func Producers(blocks []block.Block) map[string]string {
	producers := make(map[string]string)
	for _, b := range blocks {
		if name := strings.TrimSpace(b.VariableName); name != "" {
			producers[name] = b.ID
		}
	}
	return producers
}

// Tokens returns the identifier tokens of content, de-duplicated in
// first-seen order.
func Tokens(content string) []string {
	matches := identPattern.FindAllString(content, -1)
	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		tokens = append(tokens, m)
	}
	return tokens
}

// Resolver is the overlay configuration: whether edges are shown and
// which reference extraction is used.
type Resolver struct {
	Hidden bool
	Strict bool
}

// Edges returns the edges to display, or nil when hidden.
func (r Resolver) Edges(blocks []block.Block) []Edge {
	if r.Hidden {
		return nil
	}
	if r.Strict {
		return ResolveStrict(blocks)
	}
	return Resolve(blocks)
}

// Lines returns one centre to centre segment per displayed edge.
func (r Resolver) Lines(blocks []block.Block) []Line {
	edges := r.Edges(blocks)
	if len(edges) == 0 {
		return nil
	}
	byID := make(map[string]block.Block, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}
	lines := make([]Line, 0, len(edges))
	for _, e := range edges {
		lines = append(lines, Line{
			Edge:  e,
			Start: Center(byID[e.From]),
			End:   Center(byID[e.To]),
		})
	}
	return lines
}

// Center returns the centre of b on the canvas.
func Center(b block.Block) Point {
	w, h := float64(DefaultWidth), float64(DefaultHeight)
	if b.Size != nil {
		w, h = b.Size.Width, b.Size.Height
	}
	return Point{X: b.Position.X + w/2, Y: b.Position.Y + h/2}
}
