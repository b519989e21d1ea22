package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/zurustar/flowsheet/pkg/block"
	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/inspector"
	"github.com/zurustar/flowsheet/pkg/notebook"
)

const summaryWidth = 60

// summary はブロック一覧の1行表示
func summary(b block.Block, d block.Derived) string {
	var s string
	switch b.Type {
	case block.KindFormula:
		if d.Display == "" {
			s = firstLine(b.Content)
		} else {
			s = firstLine(b.Content) + " => " + d.Display
		}
	case block.KindScript:
		lang := b.Language
		if lang == "" {
			lang = "python"
		}
		s = "[" + lang + "] " + firstLine(b.Content)
		if b.Output != "" {
			s += " => " + firstLine(b.Output)
		}
	case block.KindTable:
		rows, cols := len(b.Cells), 0
		for _, r := range b.Cells {
			cols = max(cols, len(r))
		}
		s = fmt.Sprintf("%dx%d table", rows, cols)
	case block.KindData:
		s = fmt.Sprintf("%s (%d preview rows)", b.FileName, len(d.Preview))
	default:
		s = firstLine(b.Content)
	}
	return truncate(s, summaryWidth)
}

// writeBlock はブロックの詳細を書き出す
func writeBlock(w io.Writer, b block.Block, d block.Derived) {
	header := string(b.Type)
	if name := b.Variable(); name != "" {
		header += " " + name
	}
	fmt.Fprintf(w, "# %s (%s)\n", header, b.ID)

	switch b.Type {
	case block.KindFormula:
		if len(d.Lines) > 0 {
			for _, l := range d.Lines {
				if l.Hidden || formula.IsEmpty(l.Value) {
					fmt.Fprintf(w, "  %s\n", l.Source)
					continue
				}
				fmt.Fprintf(w, "  %s  => %s\n", l.Source, formula.Format(l.Value))
			}
			return
		}
		fmt.Fprintf(w, "  %s\n", b.Content)
		if !formula.IsEmpty(d.Value) {
			fmt.Fprintf(w, "  => %s\n", d.Display)
		}
	case block.KindTable:
		writeGrid(w, d.Cells)
	case block.KindData:
		fmt.Fprintf(w, "  file: %s sheet: %s\n", b.FileName, b.SelectedSheet)
		var rows [][]string
		for _, r := range d.Preview {
			cells, _ := r.([]any)
			row := make([]string, len(cells))
			for i, c := range cells {
				row[i] = formula.Format(formula.Normalize(c))
			}
			rows = append(rows, row)
		}
		writeGrid(w, rows)
	case block.KindScript:
		writeIndented(w, b.Content)
		if b.Output != "" {
			fmt.Fprintln(w, "  --")
			writeIndented(w, b.Output)
		}
	default:
		writeIndented(w, b.Content)
	}
}

func writeGrid(w io.Writer, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(tw, "  %s\n", strings.Join(row, "\t"))
	}
	tw.Flush()
}

func writeIndented(w io.Writer, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// Report はバッチ実行の結果を書き出す: ブロック、変数、依存関係の順
func Report(w io.Writer, s *notebook.Session, in *inspector.Inspector) error {
	blocks := s.Notebook().Blocks()
	index := make(map[string]int, len(blocks))
	for i, b := range blocks {
		index[b.ID] = i + 1
		d, _ := s.Derived(b.ID)
		writeBlock(w, b, d)
	}

	fmt.Fprintln(w, "\n# variables")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range in.List(s.Store().Snapshot()) {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Name, e.Type, e.Display)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if edges := s.Dependencies(); len(edges) > 0 {
		fmt.Fprintln(w, "\n# dependencies")
		for _, e := range edges {
			fmt.Fprintf(w, "  %d -> %d (%s)\n", index[e.From], index[e.To], e.Name)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// truncate 文字列を指定した長さ（ルーン数）で切り詰める
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
