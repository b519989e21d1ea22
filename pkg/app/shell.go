package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/zurustar/flowsheet/pkg/block"
	"github.com/zurustar/flowsheet/pkg/fileutil"
	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/inspector"
	"github.com/zurustar/flowsheet/pkg/notebook"
	"github.com/zurustar/flowsheet/pkg/script"
)

// Runtimes はシェルから使うスクリプトブリッジの機能
type Runtimes interface {
	RunLanguage(ctx context.Context, code, language string) string
	State(kind script.Kind) script.State
}

// Shell は REPL の1行を解釈して実行する
// 端末に依存しないため、テストから直接呼び出せる
type Shell struct {
	session  *notebook.Session
	eval     *formula.Evaluator
	runtimes Runtimes
	inspect  *inspector.Inspector
	files    fileutil.FileSystem
	out      io.Writer
}

// shellCommand は ":" で始まるコマンド
type shellCommand struct {
	usage string
	help  string
	run   func(sh *Shell, ctx context.Context, args string) error
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"help":   {"", "コマンド一覧", (*Shell).cmdHelp},
		"vars":   {"[query]", "変数一覧（あいまい検索）", (*Shell).cmdVars},
		"blocks": {"", "ブロック一覧", (*Shell).cmdBlocks},
		"show":   {"<block>", "ブロックの詳細", (*Shell).cmdShow},
		"add":    {"<type> [content]", "ブロックを追加", (*Shell).cmdAdd},
		"set":    {"<block> <content>", "内容を変更（\\n で改行）", (*Shell).cmdSet},
		"name":   {"<block> [variable]", "変数名を変更", (*Shell).cmdName},
		"cell":   {"<block> <row> <col> <value>", "表のセルを変更（1 始まり）", (*Shell).cmdCell},
		"lang":   {"<block> <python|r>", "スクリプトの言語を変更", (*Shell).cmdLang},
		"file":   {"<block> <path>", "データファイルを読み込む", (*Shell).cmdFile},
		"rm":     {"<block>", "ブロックを削除（変数は残る）", (*Shell).cmdRemove},
		"run":    {"[block]", "スクリプトを実行（省略時はすべて評価）", (*Shell).cmdRun},
		"deps":   {"", "依存関係", (*Shell).cmdDeps},
		"py":     {"<code>", "Python を直接実行", (*Shell).cmdPython},
		"r":      {"<code>", "R を直接実行", (*Shell).cmdR},
		"status": {"", "ランタイムの状態", (*Shell).cmdStatus},
		"ls":     {"[dir]", "ノートブックとデータファイルの一覧", (*Shell).cmdList},
		"save":   {"[path]", "ノートブックを保存", (*Shell).cmdSave},
	}
}

// errQuit は終了要求
var errQuit = errors.New("quit")

// Execute は1行を実行し、終了要求なら true を返す
// ":" で始まる行はコマンド、それ以外は式として評価する
func (sh *Shell) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, ":") {
		sh.evaluate(line)
		return false
	}

	name, args, _ := strings.Cut(line[1:], " ")
	name = strings.ToLower(name)
	if name == "quit" || name == "q" || name == "exit" {
		return true
	}

	cmd, ok := shellCommands[name]
	if !ok {
		fmt.Fprintf(sh.out, "Error: unknown command :%s (try :help)\n", name)
		return false
	}
	if err := cmd.run(sh, ctx, strings.TrimSpace(args)); err != nil {
		if errors.Is(err, errQuit) {
			return true
		}
		fmt.Fprintf(sh.out, "Error: %v\n", err)
	}
	return false
}

// Completions は入力途中の行の補完候補を返す
func (sh *Shell) Completions(line string) []string {
	var candidates []string
	if strings.HasPrefix(line, ":") && !strings.Contains(line, " ") {
		for name := range shellCommands {
			candidates = append(candidates, ":"+name)
		}
		candidates = append(candidates, ":quit")
		sort.Strings(candidates)
		return filterPrefix(candidates, line, "")
	}

	// 最後の識別子を変数名と関数名で補完
	start := strings.LastIndexFunc(line, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) + 1
	prefix, word := line[:start], line[start:]
	if word == "" {
		return nil
	}
	candidates = append(candidates, sh.session.Store().Keys()...)
	candidates = append(candidates, sh.eval.Functions()...)
	sort.Strings(candidates)
	return filterPrefix(candidates, word, prefix)
}

func filterPrefix(candidates []string, word, prefix string) []string {
	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(c, word) && !strings.HasPrefix(c, "_") {
			out = append(out, prefix+c)
		}
	}
	return out
}

// evaluate は式を評価して表示する。代入はスコープに書き込み、依存ブロックを再計算する
func (sh *Shell) evaluate(src string) {
	store := sh.session.Store()
	results := sh.eval.EvaluateLines(src, store.Snapshot())

	assigned := make(map[string]any)
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(sh.out, "Error: %s%s\n", formula.Describe(res.Err), sh.hint(res.Err))
			continue
		}
		if res.Assigned != "" {
			assigned[res.Assigned] = res.Value
		}
		if res.Hidden || formula.IsEmpty(res.Value) {
			continue
		}
		if res.Assigned != "" {
			fmt.Fprintf(sh.out, "%s = %s\n", res.Assigned, formula.Format(res.Value))
		} else {
			fmt.Fprintln(sh.out, formula.Format(res.Value))
		}
	}

	if len(assigned) > 0 {
		store.SetMany(assigned)
		sh.session.Recompute()
	}
}

// hint は未定義の名前に似た変数があれば候補を返す
func (sh *Shell) hint(err error) string {
	var eerr *formula.EvalError
	if !errors.As(err, &eerr) || eerr.Type != formula.ErrorUndefinedSymbol || eerr.Symbol == "" {
		return ""
	}
	if name, ok := inspector.Suggest(eerr.Symbol, sh.session.Store().Snapshot()); ok {
		return fmt.Sprintf(" (did you mean %s?)", name)
	}
	return ""
}

func (sh *Shell) cmdHelp(ctx context.Context, args string) error {
	names := make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "<expr>\t\t式を評価（x = ... で変数に代入）")
	for _, name := range names {
		cmd := shellCommands[name]
		fmt.Fprintf(tw, ":%s\t%s\t%s\n", name, cmd.usage, cmd.help)
	}
	fmt.Fprintln(tw, ":quit\t\t終了")
	return tw.Flush()
}

func (sh *Shell) cmdVars(ctx context.Context, args string) error {
	entries := inspector.Filter(sh.inspect.List(sh.session.Store().Snapshot()), args)
	if len(entries) == 0 {
		fmt.Fprintln(sh.out, "(no variables)")
		return nil
	}
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Type, e.Display)
	}
	return tw.Flush()
}

func (sh *Shell) cmdBlocks(ctx context.Context, args string) error {
	blocks := sh.session.Notebook().Blocks()
	if len(blocks) == 0 {
		fmt.Fprintln(sh.out, "(no blocks)")
		return nil
	}
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	for i, b := range blocks {
		d, _ := sh.session.Derived(b.ID)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, b.Type, b.Variable(), summary(b, d))
	}
	return tw.Flush()
}

func (sh *Shell) cmdShow(ctx context.Context, args string) error {
	b, err := sh.resolve(args)
	if err != nil {
		return err
	}
	d, _ := sh.session.Derived(b.ID)
	writeBlock(sh.out, b, d)
	return nil
}

func (sh *Shell) cmdAdd(ctx context.Context, args string) error {
	kindName, content, _ := strings.Cut(args, " ")
	kind, err := block.ParseKind(kindName)
	if err != nil {
		return err
	}
	b := sh.session.Add(kind, block.Position{Y: float64(sh.session.Notebook().Len()) * 120})
	fmt.Fprintf(sh.out, "added %s block %d\n", kind, sh.session.Notebook().Len())
	if content = strings.TrimSpace(content); content != "" {
		return sh.edit(ctx, b.ID, block.SetContent(unescape(content)))
	}
	return nil
}

func (sh *Shell) cmdSet(ctx context.Context, args string) error {
	ref, content, _ := strings.Cut(args, " ")
	b, err := sh.resolve(ref)
	if err != nil {
		return err
	}
	if b.Type == block.KindTable {
		return errors.New("use :cell to edit a table")
	}
	return sh.edit(ctx, b.ID, block.SetContent(unescape(strings.TrimSpace(content))))
}

func (sh *Shell) cmdName(ctx context.Context, args string) error {
	ref, name, _ := strings.Cut(args, " ")
	b, err := sh.resolve(ref)
	if err != nil {
		return err
	}
	return sh.edit(ctx, b.ID, block.SetVariable(strings.TrimSpace(name)))
}

func (sh *Shell) cmdCell(ctx context.Context, args string) error {
	fields := strings.SplitN(args, " ", 4)
	if len(fields) < 3 {
		return errors.New("usage: :cell <block> <row> <col> <value>")
	}
	b, err := sh.resolve(fields[0])
	if err != nil {
		return err
	}
	if b.Type != block.KindTable {
		return fmt.Errorf("block %s is not a table", fields[0])
	}
	row, rerr := strconv.Atoi(fields[1])
	col, cerr := strconv.Atoi(fields[2])
	if rerr != nil || cerr != nil || row < 1 || col < 1 {
		return errors.New("row and column must be positive integers")
	}
	var value any = ""
	if len(fields) == 4 {
		value = cellValue(fields[3])
	}
	return sh.edit(ctx, b.ID, block.SetCell(b, row-1, col-1, value))
}

func (sh *Shell) cmdLang(ctx context.Context, args string) error {
	ref, lang, _ := strings.Cut(args, " ")
	b, err := sh.resolve(ref)
	if err != nil {
		return err
	}
	kind, err := script.ParseKind(lang)
	if err != nil {
		return err
	}
	language := "python"
	if kind == script.Statistical {
		language = "r"
	}
	return sh.edit(ctx, b.ID, block.Update{Language: &language})
}

func (sh *Shell) cmdFile(ctx context.Context, args string) error {
	ref, path, _ := strings.Cut(args, " ")
	b, err := sh.resolve(ref)
	if err != nil {
		return err
	}
	if b.Type != block.KindData {
		return fmt.Errorf("block %s is not a data block", ref)
	}
	path = strings.TrimSpace(path)
	return sh.edit(ctx, b.ID, block.Update{FileName: &path})
}

func (sh *Shell) cmdRemove(ctx context.Context, args string) error {
	b, err := sh.resolve(args)
	if err != nil {
		return err
	}
	sh.session.Remove(b.ID)
	fmt.Fprintf(sh.out, "removed %s block\n", b.Type)
	return nil
}

func (sh *Shell) cmdRun(ctx context.Context, args string) error {
	if args == "" {
		err := sh.session.RunAll(ctx)
		fmt.Fprintf(sh.out, "evaluated %d blocks (version %d)\n", sh.session.Notebook().Len(), sh.session.Store().Version())
		return err
	}
	b, err := sh.resolve(args)
	if err != nil {
		return err
	}
	d, err := sh.session.Run(ctx, b.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, summary(b, d))
	return nil
}

func (sh *Shell) cmdDeps(ctx context.Context, args string) error {
	edges := sh.session.Dependencies()
	if len(edges) == 0 {
		fmt.Fprintln(sh.out, "(no dependencies)")
		return nil
	}
	index := sh.indexByID()
	for _, e := range edges {
		fmt.Fprintf(sh.out, "%d -> %d  (%s)\n", index[e.From], index[e.To], e.Name)
	}
	return nil
}

func (sh *Shell) cmdPython(ctx context.Context, args string) error {
	return sh.runDirect(ctx, args, "python")
}

func (sh *Shell) cmdR(ctx context.Context, args string) error {
	return sh.runDirect(ctx, args, "r")
}

func (sh *Shell) runDirect(ctx context.Context, code, language string) error {
	if sh.runtimes == nil {
		return errors.New("script runtimes are disabled")
	}
	fmt.Fprintln(sh.out, sh.runtimes.RunLanguage(ctx, unescape(code), language))
	sh.session.Recompute()
	return nil
}

func (sh *Shell) cmdStatus(ctx context.Context, args string) error {
	fmt.Fprintf(sh.out, "scope: %d variables, version %d\n", sh.session.Store().Size(), sh.session.Store().Version())
	for _, kind := range script.Kinds {
		state := "disabled"
		if sh.runtimes != nil {
			state = sh.runtimes.State(kind).String()
		}
		fmt.Fprintf(sh.out, "%s: %s\n", kind.Language(), state)
	}
	return nil
}

func (sh *Shell) cmdList(ctx context.Context, args string) error {
	dir := args
	if dir == "" {
		dir = "."
	}
	names, err := sh.files.List(dir, ".yaml", ".yml", ".csv", ".tsv", ".txt")
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(sh.out, name)
	}
	return nil
}

func (sh *Shell) cmdSave(ctx context.Context, args string) error {
	nb := sh.session.Notebook()
	path := args
	if path == "" {
		path = nb.Path
	}
	if path == "" {
		return errors.New("no file name; use :save <path>")
	}
	if err := nb.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "saved %s\n", path)
	return nil
}

func (sh *Shell) edit(ctx context.Context, id string, u block.Update) error {
	d, err := sh.session.Edit(ctx, id, u)
	if err != nil {
		return err
	}
	b, _ := sh.session.Notebook().Get(id)
	fmt.Fprintln(sh.out, summary(b, d))
	return nil
}

// resolve はブロックを 1 始まりの番号または ID の先頭部分で探す
func (sh *Shell) resolve(ref string) (block.Block, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return block.Block{}, errors.New("block number required")
	}
	blocks := sh.session.Notebook().Blocks()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(blocks) {
			return block.Block{}, fmt.Errorf("no block %d (have %d)", n, len(blocks))
		}
		return blocks[n-1], nil
	}

	var found []block.Block
	for _, b := range blocks {
		if strings.HasPrefix(b.ID, ref) {
			found = append(found, b)
		}
	}
	switch len(found) {
	case 0:
		return block.Block{}, fmt.Errorf("no block %q", ref)
	case 1:
		return found[0], nil
	}
	return block.Block{}, fmt.Errorf("block id %q is ambiguous", ref)
}

func (sh *Shell) indexByID() map[string]int {
	index := make(map[string]int)
	for i, b := range sh.session.Notebook().Blocks() {
		index[b.ID] = i + 1
	}
	return index
}

// unescape は1行入力の "\n" を改行に変換する
func unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// cellValue は数値に見えるセル入力を数値にする
func cellValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
