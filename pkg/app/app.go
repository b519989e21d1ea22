package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/text/language"

	"github.com/zurustar/flowsheet/pkg/block"
	"github.com/zurustar/flowsheet/pkg/cli"
	"github.com/zurustar/flowsheet/pkg/dataimport"
	"github.com/zurustar/flowsheet/pkg/deps"
	"github.com/zurustar/flowsheet/pkg/fileutil"
	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/inspector"
	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/notebook"
	"github.com/zurustar/flowsheet/pkg/scope"
	"github.com/zurustar/flowsheet/pkg/script"
)

// DemoDir は埋め込みファイルシステム内のデモノートブックのディレクトリ
const DemoDir = "demo"

// DemoNotebook はデモノートブックのファイル名
const DemoNotebook = "notebook.yaml"

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config  *cli.Config
	log     *slog.Logger
	demoFS  fs.FS
	stdout  io.Writer
	logOut  io.Writer
	files   fileutil.FileSystem
	store   *scope.Store
	eval    *formula.Evaluator
	bridge  *script.Bridge
	session *notebook.Session
	inspect *inspector.Inspector
}

// Option は Application の設定オプション
type Option func(*Application)

// WithOutput は結果の出力先を設定する（デフォルトは標準出力）
func WithOutput(w io.Writer) Option {
	return func(app *Application) {
		app.stdout = w
	}
}

// WithLogOutput はログの出力先を設定する（デフォルトは標準エラー出力）
func WithLogOutput(w io.Writer) Option {
	return func(app *Application) {
		app.logOut = w
	}
}

// New Applicationを作成
// demoFS はデモノートブックを含む埋め込みファイルシステム（nil 可）
func New(demoFS fs.FS, opts ...Option) *Application {
	app := &Application{
		demoFS: demoFS,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	// 1. コマンドライン引数の解析
	if err := app.parseArgs(args); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}

	if app.config.ShowHelp {
		cli.PrintHelp()
		return nil
	}

	// 2. ロガーの初期化
	if err := app.initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.log.Info("Application started")

	// 3. ノートブックの読み込み
	nb, err := app.loadNotebook()
	if err != nil {
		return fmt.Errorf("failed to load notebook: %w", err)
	}

	app.log.Info("Notebook loaded", "path", nb.Path, "blocks", nb.Len())

	// 4. スコープ、評価器、スクリプトランタイム、セッションの構築
	if err := app.buildSession(nb); err != nil {
		return fmt.Errorf("failed to build session: %w", err)
	}
	defer func() {
		if err := app.bridge.Close(); err != nil {
			app.log.Warn("Failed to stop script runtimes", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. スクリプトランタイムの起動（バックグラウンド）
	// バッチモードでスクリプトがない場合は起動しない
	if !app.config.Batch || hasScripts(nb) {
		app.bridge.Start(ctx)
	}

	// 6. ノートブックの評価
	if err := app.evaluate(ctx); err != nil {
		app.log.Warn("Notebook evaluated with errors", "error", err)
		fmt.Fprintf(app.stdout, "Error: %v\n", err)
	}

	// 7. バッチモードは結果を表示して終了、それ以外は REPL
	if app.config.Batch {
		if err := Report(app.stdout, app.session, app.inspect); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		app.log.Info("Application terminated normally")
		return nil
	}

	if err := app.runREPL(ctx); err != nil {
		return fmt.Errorf("REPL failed: %w", err)
	}

	app.log.Info("Application terminated normally")
	return nil
}

// parseArgs コマンドライン引数を解析
func (app *Application) parseArgs(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return err
	}
	app.config = config
	return nil
}

// initLogger ロガーを初期化
func (app *Application) initLogger() error {
	if err := logger.InitLoggerWithOptions(logger.Options{
		Level:  app.config.LogLevel,
		Format: app.config.LogFormat,
		Writer: app.logOut,
	}); err != nil {
		return err
	}
	app.log = logger.GetLogger()
	return nil
}

// loadNotebook ノートブックを読み込む
// パスが存在しない場合は、そのパスに保存される空のノートブックを作成する
func (app *Application) loadNotebook() (*notebook.Notebook, error) {
	if app.config.Demo {
		return app.loadDemo()
	}

	path := app.config.NotebookPath
	if path == "" {
		app.files = fileutil.NewRealFS(".")
		return notebook.New(), nil
	}

	nb, err := notebook.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		app.log.Info("Notebook not found, starting empty", "path", path)
		nb = notebook.New()
		nb.Path = path
	} else if err != nil {
		return nil, err
	}
	app.files = fileutil.NewRealFS(nb.Dir())
	return nb, nil
}

// loadDemo 埋め込みのデモノートブックを読み込む
func (app *Application) loadDemo() (*notebook.Notebook, error) {
	if app.demoFS == nil {
		return nil, fmt.Errorf("this build has no demo notebook")
	}
	files, err := fileutil.NewEmbedFS(app.demoFS, DemoDir)
	if err != nil {
		return nil, err
	}
	data, err := files.ReadFile(DemoNotebook)
	if err != nil {
		return nil, fmt.Errorf("failed to read demo notebook: %w", err)
	}
	nb, err := notebook.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode demo notebook: %w", err)
	}
	app.files = files
	return nb, nil
}

// buildSession は評価に必要な部品を組み立てる
func (app *Application) buildSession(nb *notebook.Notebook) error {
	tag, err := language.Parse(app.config.Locale)
	if err != nil {
		return fmt.Errorf("invalid locale %q: %w", app.config.Locale, err)
	}
	app.inspect = inspector.New(tag)

	app.store = scope.New(scope.WithLogger(app.log.With("component", "scope")))
	app.eval = formula.New(formula.WithLogger(app.log.With("component", "formula")))
	app.bridge = app.newBridge()

	ctrl := block.NewController(app.store, app.eval, app.bridge,
		block.WithLogger(app.log.With("component", "block")))

	app.session = notebook.NewSession(nb, app.store, ctrl,
		notebook.WithLogger(app.log.With("component", "notebook")),
		notebook.WithFileSystem(app.files),
		notebook.WithImportOptions(dataimport.Options{Encoding: app.config.Encoding}),
		notebook.WithResolver(deps.Resolver{Strict: app.config.Strict}),
	)
	return nil
}

// newBridge は設定に従ってスクリプトランタイムを登録したブリッジを作成する
func (app *Application) newBridge() *script.Bridge {
	log := app.log.With("component", "script")
	opts := []script.Option{script.WithLogger(log)}

	if !app.config.NoPython {
		rtOpts := []script.RuntimeOption{
			script.WithExecutable(app.config.Python),
			script.WithRuntimeLogger(log),
		}
		if len(app.config.PythonPackages) > 0 {
			rtOpts = append(rtOpts, script.WithPackages(app.config.PythonPackages...))
		}
		opts = append(opts, script.WithRuntime(script.NewPython(rtOpts...)))
	}
	if !app.config.NoR {
		rtOpts := []script.RuntimeOption{
			script.WithExecutable(app.config.Rscript),
			script.WithRuntimeLogger(log),
		}
		if len(app.config.RPackages) > 0 {
			rtOpts = append(rtOpts, script.WithPackages(app.config.RPackages...))
		}
		opts = append(opts, script.WithRuntime(script.NewR(rtOpts...)))
	}
	if app.config.ScriptTimeout > 0 {
		opts = append(opts, script.WithTimeout(app.config.ScriptTimeout))
	}
	return script.NewBridge(app.store, opts...)
}

// evaluate はノートブック全体を評価する
// スクリプトブロックがある場合はランタイムの起動を待つ
func (app *Application) evaluate(ctx context.Context) error {
	if hasScripts(app.session.Notebook()) {
		app.log.Info("Waiting for script runtimes")
		if err := app.bridge.Wait(ctx); err != nil {
			return err
		}
	}
	return app.session.RunAll(ctx)
}

// shell は REPL 用のシェルを作成する
func (app *Application) shell() *Shell {
	return &Shell{
		session:  app.session,
		eval:     app.eval,
		runtimes: app.bridge,
		inspect:  app.inspect,
		files:    app.files,
		out:      app.stdout,
	}
}

func hasScripts(nb *notebook.Notebook) bool {
	for _, b := range nb.Blocks() {
		if b.Type == block.KindScript {
			return true
		}
	}
	return false
}
