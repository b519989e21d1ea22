// Package inspector lists scope variables for display and helps find them
// by name.
package inspector

import (
	"math"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/scope"
)

// Variable type names shown in listings.
const (
	TypeNumber   = "number"
	TypeString   = "string"
	TypeBoolean  = "boolean"
	TypeNull     = "null"
	TypeArray    = "Matrix/List"
	TypeObject   = "object"
	TypeFunction = "function"
	TypeError    = "error"
)

// Entry is one listed variable.
type Entry struct {
	Name    string
	Type    string
	Display string
	Value   any
}

// Inspector formats variables for a locale.
type Inspector struct {
	printer *message.Printer
}

// New creates an inspector formatting numbers for tag.
func New(tag language.Tag) *Inspector {
	return &Inspector{printer: message.NewPrinter(tag)}
}

var defaultInspector = New(language.English)

// List lists snap with English number formatting.
func List(snap scope.Snapshot) []Entry {
	return defaultInspector.List(snap)
}

// List returns the variables of snap sorted by name. Names starting with
// "_" are internal and left out.
func (in *Inspector) List(snap scope.Snapshot) []Entry {
	keys := snap.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, name := range keys {
		if strings.HasPrefix(name, "_") {
			continue
		}
		v, _ := snap.Get(name)
		entries = append(entries, Entry{
			Name:    name,
			Type:    TypeOf(v),
			Display: in.Format(v),
			Value:   v,
		})
	}
	return entries
}

// TypeOf returns the listing type name of v.
func TypeOf(v any) string {
	switch x := formula.Normalize(v).(type) {
	case nil:
		return TypeNull
	case float64:
		return TypeNumber
	case bool:
		return TypeBoolean
	case string:
		return TypeString
	case formula.Sentinel:
		if formula.IsError(x) {
			return TypeError
		}
		return TypeString
	case *formula.Matrix, formula.ResultSet:
		return TypeArray
	case map[string]any:
		return TypeObject
	case *formula.Function:
		return TypeFunction
	}
	return TypeObject
}

// Format returns the short display form of v: integers plain, other
// numbers with four decimals, strings quoted, arrays by shape.
func (in *Inspector) Format(v any) string {
	switch x := formula.Normalize(v).(type) {
	case nil:
		return "null"
	case float64:
		return in.formatNumber(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return `"` + x + `"`
	case formula.Sentinel:
		if formula.IsError(x) {
			return "Error"
		}
		return `""`
	case *formula.Matrix:
		size := x.Size()
		if len(size) == 1 {
			return in.printer.Sprintf("Array[%d]", size[0])
		}
		return in.printer.Sprintf("Array[%dx%d]", size[0], size[1])
	case formula.ResultSet:
		return in.printer.Sprintf("Array[%d]", len(x))
	case *formula.Function:
		return x.String()
	}
	return "Object"
}

func (in *Inspector) formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return in.printer.Sprintf("%d", int64(f))
	}
	return in.printer.Sprintf("%.4f", f)
}

// Filter returns the entries whose names fuzzily match query, best
// matches first. An empty query returns entries unchanged.
func Filter(entries []Entry, query string) []Entry {
	query = strings.TrimSpace(query)
	if query == "" {
		return entries
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Stable(ranks)

	out := make([]Entry, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, entries[r.OriginalIndex])
	}
	return out
}

// Suggest returns the variable in snap closest to name, for "did you
// mean" hints. It reports false when nothing is close enough.
func Suggest(name string, snap scope.Snapshot) (string, bool) {
	if name == "" {
		return "", false
	}
	limit := max(1, len(name)/3)

	best, bestDist := "", math.MaxInt
	for _, candidate := range snap.Keys() {
		if candidate == name || strings.HasPrefix(candidate, "_") {
			continue
		}
		dist := fuzzy.LevenshteinDistance(strings.ToLower(name), strings.ToLower(candidate))
		if dist > limit && !fuzzy.MatchFold(name, candidate) {
			continue
		}
		if dist < bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best, best != ""
}
