package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// デフォルト値
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultPython    = "python3"
	DefaultRscript   = "Rscript"
	DefaultLocale    = "en"
)

// Config はコマンドライン引数、環境変数、設定ファイルから解決された設定を保持する
// 優先順位: フラグ > 環境変数 > 設定ファイル > デフォルト
type Config struct {
	NotebookPath   string        // ノートブックファイルのパス（省略時は空のノートブック）
	ConfigFile     string        // 設定ファイルのパス
	LogLevel       string        // ログレベル（debug, info, warn, error）
	LogFormat      string        // ログ形式（text, json）
	ScriptTimeout  time.Duration // スクリプト1回あたりのタイムアウト（0はブリッジのデフォルト）
	Python         string        // Python 実行ファイル
	Rscript        string        // Rscript 実行ファイル
	PythonPackages []string      // Python 起動時に読み込むパッケージ（設定ファイルのみ）
	RPackages      []string      // R 起動時に読み込むパッケージ（設定ファイルのみ）
	NoPython       bool          // Python ランタイムを起動しない
	NoR            bool          // R ランタイムを起動しない
	Strict         bool          // 依存関係の解析に構文解析を使う
	Batch          bool          // ノートブックを評価して終了（REPLなし）
	Demo           bool          // 埋め込みのデモノートブックを開く
	Locale         string        // 変数一覧の数値フォーマットのロケール
	Encoding       string        // CSV 読み込み時の文字コード
	ShowHelp       bool          // ヘルプ表示フラグ
}

// fileConfig は設定ファイルの形式
type fileConfig struct {
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
	ScriptTimeout  string   `yaml:"script_timeout"`
	Python         string   `yaml:"python"`
	Rscript        string   `yaml:"rscript"`
	PythonPackages []string `yaml:"python_packages"`
	RPackages      []string `yaml:"r_packages"`
	Strict         *bool    `yaml:"strict"`
	Locale         string   `yaml:"locale"`
	Encoding       string   `yaml:"encoding"`
}

// 値を取らないフラグ
var boolFlags = map[string]bool{
	"h": true, "help": true,
	"no-python": true, "no-r": true,
	"strict": true, "batch": true, "b": true, "demo": true,
}

// ParseArgs コマンドライン引数を解析してConfigを返す
func ParseArgs(args []string) (*Config, error) {
	// 引数を並べ替え：フラグを前に、位置引数を後ろに
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("flowsheet", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		flagConfig, flagLogLevel, flagLogFormat, flagTimeout string
		flagPython, flagRscript, flagLocale, flagEncoding    string
	)
	config := &Config{}

	fs.StringVar(&flagConfig, "config", "", "設定ファイル（YAML）")
	fs.StringVar(&flagConfig, "c", "", "設定ファイル（短縮形）")
	fs.StringVar(&flagLogLevel, "log-level", "", "ログレベル（debug, info, warn, error）")
	fs.StringVar(&flagLogLevel, "l", "", "ログレベル（短縮形）")
	fs.StringVar(&flagLogFormat, "log-format", "", "ログ形式（text, json）")
	fs.StringVar(&flagTimeout, "script-timeout", "", "スクリプトのタイムアウト（秒または 30s 形式）")
	fs.StringVar(&flagTimeout, "t", "", "スクリプトのタイムアウト（短縮形）")
	fs.StringVar(&flagPython, "python", "", "Python 実行ファイル")
	fs.StringVar(&flagRscript, "rscript", "", "Rscript 実行ファイル")
	fs.StringVar(&flagLocale, "locale", "", "数値フォーマットのロケール（en, de, ja など）")
	fs.StringVar(&flagEncoding, "encoding", "", "CSV の文字コード（auto, shift_jis など）")
	fs.BoolVar(&config.NoPython, "no-python", false, "Python ランタイムを無効化")
	fs.BoolVar(&config.NoR, "no-r", false, "R ランタイムを無効化")
	fs.BoolVar(&config.Strict, "strict", false, "構文解析による依存関係の解決")
	fs.BoolVar(&config.Batch, "batch", false, "評価して終了")
	fs.BoolVar(&config.Batch, "b", false, "評価して終了（短縮形）")
	fs.BoolVar(&config.Demo, "demo", false, "デモノートブックを開く")
	fs.BoolVar(&config.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&config.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	// 明示的に指定されたフラグ
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	isSet := func(names ...string) bool {
		for _, n := range names {
			if set[n] {
				return true
			}
		}
		return false
	}

	// デフォルト
	config.LogLevel = DefaultLogLevel
	config.LogFormat = DefaultLogFormat
	config.Python = DefaultPython
	config.Rscript = DefaultRscript
	config.Locale = DefaultLocale
	config.Encoding = "auto"
	timeout := ""

	// 設定ファイル
	config.ConfigFile = flagConfig
	if !isSet("config", "c") {
		config.ConfigFile = os.Getenv("FLOWSHEET_CONFIG")
	}
	if config.ConfigFile != "" {
		fc, err := loadConfigFile(config.ConfigFile)
		if err != nil {
			return nil, err
		}
		overrideString(&config.LogLevel, fc.LogLevel)
		overrideString(&config.LogFormat, fc.LogFormat)
		overrideString(&timeout, fc.ScriptTimeout)
		overrideString(&config.Python, fc.Python)
		overrideString(&config.Rscript, fc.Rscript)
		overrideString(&config.Locale, fc.Locale)
		overrideString(&config.Encoding, fc.Encoding)
		config.PythonPackages = fc.PythonPackages
		config.RPackages = fc.RPackages
		if fc.Strict != nil && !isSet("strict") {
			config.Strict = *fc.Strict
		}
	}

	// 環境変数
	overrideString(&config.LogLevel, strings.ToLower(os.Getenv("FLOWSHEET_LOG_LEVEL")))
	overrideString(&timeout, os.Getenv("FLOWSHEET_SCRIPT_TIMEOUT"))
	overrideString(&config.Python, os.Getenv("FLOWSHEET_PYTHON"))
	overrideString(&config.Rscript, os.Getenv("FLOWSHEET_R"))

	// コマンドラインフラグ
	if isSet("log-level", "l") {
		config.LogLevel = strings.ToLower(flagLogLevel)
	}
	if isSet("log-format") {
		config.LogFormat = strings.ToLower(flagLogFormat)
	}
	if isSet("script-timeout", "t") {
		timeout = flagTimeout
	}
	if isSet("python") {
		config.Python = flagPython
	}
	if isSet("rscript") {
		config.Rscript = flagRscript
	}
	if isSet("locale") {
		config.Locale = flagLocale
	}
	if isSet("encoding") {
		config.Encoding = flagEncoding
	}

	// タイムアウトの検証
	d, err := parseTimeout(timeout)
	if err != nil {
		return nil, err
	}
	config.ScriptTimeout = d

	if err := config.validate(); err != nil {
		return nil, err
	}

	// 位置引数（ノートブックのパス）
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("too many arguments: %s", strings.Join(fs.Args(), " "))
	}
	if fs.NArg() == 1 {
		config.NotebookPath = fs.Arg(0)
	}
	if config.Demo && config.NotebookPath != "" {
		return nil, errors.New("--demo cannot be combined with a notebook path")
	}

	return config, nil
}

func (c *Config) validate() error {
	// ログレベルの検証
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}
	if strings.TrimSpace(c.Python) == "" || strings.TrimSpace(c.Rscript) == "" {
		return errors.New("interpreter paths must not be empty")
	}
	return nil
}

// parseTimeout は "30"（秒）または "1m30s" 形式のタイムアウトを解析する
func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid script timeout: %s", s)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("script timeout must be non-negative, got %s", s)
	}
	return d, nil
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	fc.LogLevel = strings.ToLower(fc.LogLevel)
	fc.LogFormat = strings.ToLower(fc.LogFormat)
	return &fc, nil
}

// overrideString は空でない値で上書きする
func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" 以降はすべて位置引数
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		// フラグかどうかを判定（-または--で始まる）
		if len(arg) > 1 && arg[0] == '-' {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") || boolFlags[name] {
				continue
			}
			// 次の引数を値として扱う（-t 5 や --script-timeout -1 のような場合）
			if i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			// 位置引数
			positional = append(positional, arg)
		}
	}

	// フラグを前に、位置引数を後ろに配置
	if len(positional) > 0 {
		flags = append(flags, "--")
	}
	return append(flags, positional...)
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp() {
	fmt.Fprintf(os.Stdout, `flowsheet - reactive notebook evaluator

Usage:
  flowsheet [options] [notebook.yaml]

Arguments:
  notebook.yaml   評価するノートブック（省略時は空のノートブック）

Options:
  -c, --config <file>          設定ファイル（YAML）
  -l, --log-level <level>      ログレベル: debug, info, warn, error（デフォルト: info）
  --log-format <format>        ログ形式: text, json（デフォルト: text）
  -t, --script-timeout <time>  スクリプトのタイムアウト（例: 30, 2m）
  --python <path>              Python 実行ファイル（デフォルト: python3）
  --rscript <path>             Rscript 実行ファイル（デフォルト: Rscript）
  --no-python                  Python ランタイムを起動しない
  --no-r                       R ランタイムを起動しない
  --strict                     構文解析で依存関係を解決（関数名を除外）
  --locale <tag>               数値フォーマットのロケール（デフォルト: en）
  --encoding <label>           CSV の文字コード（デフォルト: auto）
  -b, --batch                  ノートブックを評価して結果を表示し終了
  --demo                       組み込みのデモノートブックを開く
  -h, --help                   このヘルプを表示

Environment Variables:
  FLOWSHEET_CONFIG=<file>           設定ファイル
  FLOWSHEET_LOG_LEVEL=<level>       ログレベル
  FLOWSHEET_SCRIPT_TIMEOUT=<time>   スクリプトのタイムアウト
  FLOWSHEET_PYTHON=<path>           Python 実行ファイル
  FLOWSHEET_R=<path>                Rscript 実行ファイル

Examples:
  flowsheet budget.yaml                 ノートブックを開いて REPL を開始
  flowsheet --batch budget.yaml         評価結果を表示して終了
  flowsheet --no-r -t 10s model.yaml    R なし、タイムアウト10秒
  flowsheet --demo                      デモノートブック
`)
}
