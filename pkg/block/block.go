// Package block defines notebook blocks and the protocol blocks use to
// persist edits and publish values into the shared scope.
package block

import (
	"fmt"
	"strings"
)

// Kind is the block type tag.
type Kind string

const (
	KindText    Kind = "text"
	KindMath    Kind = "math"
	KindTable   Kind = "table"
	KindImage   Kind = "image"
	KindScript  Kind = "script"
	KindFormula Kind = "formula"
	KindData    Kind = "data"
	KindCAD     Kind = "cad"
)

// Kinds lists every block kind.
var Kinds = []Kind{KindText, KindMath, KindTable, KindImage, KindScript, KindFormula, KindData, KindCAD}

// ParseKind validates a block type name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown block type %q", s)
}

// Position is the canvas position of a block.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Size is the canvas size of a block.
type Size struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Style holds text formatting for text and table blocks.
type Style struct {
	Color      string `yaml:"color,omitempty"`
	FontSize   string `yaml:"fontSize,omitempty"`
	FontFamily string `yaml:"fontFamily,omitempty"`
	FontWeight string `yaml:"fontWeight,omitempty"`
	TextAlign  string `yaml:"textAlign,omitempty"`
}

// Block is one notebook block. Which fields are meaningful depends on
// Type: Content holds the text of text, math, script, formula, image and
// cad blocks; Cells holds the grid of a table; Rows and Data belong to
// data blocks.
type Block struct {
	ID       string   `yaml:"id"`
	Type     Kind     `yaml:"type"`
	Position Position `yaml:"position"`
	Size     *Size    `yaml:"size,omitempty"`

	Content      string  `yaml:"content,omitempty"`
	Cells        [][]any `yaml:"cells,omitempty"`
	VariableName string  `yaml:"variableName,omitempty"`
	Style        *Style  `yaml:"style,omitempty"`

	// script
	Language string `yaml:"language,omitempty"`
	Output   string `yaml:"output,omitempty"`

	// data
	Rows          []any          `yaml:"rows,omitempty"`
	FileName      string         `yaml:"fileName,omitempty"`
	Data          map[string]any `yaml:"data,omitempty"`
	SelectedSheet string         `yaml:"selectedSheet,omitempty"`
}

// Variable returns the trimmed variable name the block publishes under,
// or "" when it publishes nothing.
func (b Block) Variable() string {
	switch b.Type {
	case KindFormula, KindTable, KindData:
		return strings.TrimSpace(b.VariableName)
	}
	return ""
}

// IsText reports whether b is prose (text or its math alias).
func (b Block) IsText() bool {
	return b.Type == KindText || b.Type == KindMath
}

// Update is a partial block update. Nil fields are left unchanged.
type Update struct {
	Position      *Position      `yaml:"position,omitempty"`
	Size          *Size          `yaml:"size,omitempty"`
	Content       *string        `yaml:"content,omitempty"`
	Cells         [][]any        `yaml:"cells,omitempty"`
	VariableName  *string        `yaml:"variableName,omitempty"`
	Style         *Style         `yaml:"style,omitempty"`
	Language      *string        `yaml:"language,omitempty"`
	Output        *string        `yaml:"output,omitempty"`
	Rows          []any          `yaml:"rows,omitempty"`
	FileName      *string        `yaml:"fileName,omitempty"`
	Data          map[string]any `yaml:"data,omitempty"`
	SelectedSheet *string        `yaml:"selectedSheet,omitempty"`
}

// OnChange persists a partial update. It is supplied by the block owner.
type OnChange func(Update)

// IsZero reports whether u changes nothing.
func (u Update) IsZero() bool {
	return u.Position == nil && u.Size == nil && u.Content == nil && u.Cells == nil &&
		u.VariableName == nil && u.Style == nil && u.Language == nil && u.Output == nil &&
		u.Rows == nil && u.FileName == nil && u.Data == nil && u.SelectedSheet == nil
}

// Apply returns a copy of b with u applied. ID and Type never change.
func (b Block) Apply(u Update) Block {
	if u.Position != nil {
		b.Position = *u.Position
	}
	if u.Size != nil {
		size := *u.Size
		b.Size = &size
	}
	if u.Content != nil {
		b.Content = *u.Content
	}
	if u.Cells != nil {
		b.Cells = CopyCells(u.Cells)
	}
	if u.VariableName != nil {
		b.VariableName = *u.VariableName
	}
	if u.Style != nil {
		style := *u.Style
		b.Style = &style
	}
	if u.Language != nil {
		b.Language = *u.Language
	}
	if u.Output != nil {
		b.Output = *u.Output
	}
	if u.Rows != nil {
		b.Rows = append([]any(nil), u.Rows...)
	}
	if u.FileName != nil {
		b.FileName = *u.FileName
	}
	if u.Data != nil {
		b.Data = u.Data
	}
	if u.SelectedSheet != nil {
		b.SelectedSheet = *u.SelectedSheet
	}
	return b
}

// Merge folds later into u; fields set in later win.
func (u Update) Merge(later Update) Update {
	if later.Position != nil {
		u.Position = later.Position
	}
	if later.Size != nil {
		u.Size = later.Size
	}
	if later.Content != nil {
		u.Content = later.Content
	}
	if later.Cells != nil {
		u.Cells = later.Cells
	}
	if later.VariableName != nil {
		u.VariableName = later.VariableName
	}
	if later.Style != nil {
		u.Style = later.Style
	}
	if later.Language != nil {
		u.Language = later.Language
	}
	if later.Output != nil {
		u.Output = later.Output
	}
	if later.Rows != nil {
		u.Rows = later.Rows
	}
	if later.FileName != nil {
		u.FileName = later.FileName
	}
	if later.Data != nil {
		u.Data = later.Data
	}
	if later.SelectedSheet != nil {
		u.SelectedSheet = later.SelectedSheet
	}
	return u
}

// SetContent is shorthand for an Update changing only the content.
func SetContent(s string) Update { return Update{Content: &s} }

// SetVariable is shorthand for an Update changing only the variable name.
func SetVariable(name string) Update { return Update{VariableName: &name} }

// SetCell is shorthand for an Update replacing one table cell of b,
// growing the grid when needed.
func SetCell(b Block, row, col int, value any) Update {
	cells := CopyCells(b.Cells)
	if len(cells) == 0 {
		cells = DefaultCells()
	}
	for len(cells) <= row {
		cells = append(cells, make([]any, len(cells[0])))
	}
	for i := range cells {
		for len(cells[i]) <= col {
			cells[i] = append(cells[i], "")
		}
		for j := range cells[i] {
			if cells[i][j] == nil {
				cells[i][j] = ""
			}
		}
	}
	cells[row][col] = value
	return Update{Cells: cells}
}

// New returns a block of kind k with the defaults a fresh block gets.
// Unknown kinds become text blocks.
func New(id string, k Kind, pos Position) Block {
	b := Block{ID: id, Type: k, Position: pos, Size: &Size{Width: 300, Height: 100}}
	switch k {
	case KindText:
		b.Style = &Style{Color: "#000000", FontSize: "14px", FontFamily: "Inter, sans-serif", TextAlign: "left"}
	case KindTable:
		b.Cells = DefaultCells()
		b.Style = &Style{Color: "#000000", FontSize: "14px", FontFamily: "Inter, sans-serif", TextAlign: "center"}
	case KindScript:
		b.Language = "python"
	case KindData:
		b.Rows = []any{}
		b.Size = &Size{Width: 400, Height: 300}
	case KindCAD:
		b.Size = &Size{Width: 500, Height: 500}
	case KindMath, KindFormula, KindImage:
	default:
		b.Type = KindText
	}
	return b
}

// DefaultCells is the grid of an empty table.
func DefaultCells() [][]any {
	return [][]any{{"", "", ""}, {"", "", ""}, {"", "", ""}}
}

// CopyCells returns a deep copy of a cell grid.
func CopyCells(cells [][]any) [][]any {
	if cells == nil {
		return nil
	}
	out := make([][]any, len(cells))
	for i, row := range cells {
		out[i] = append([]any(nil), row...)
	}
	return out
}
