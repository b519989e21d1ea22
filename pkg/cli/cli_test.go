package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// clearEnv は環境変数の影響を受けないようにする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLOWSHEET_CONFIG",
		"FLOWSHEET_LOG_LEVEL",
		"FLOWSHEET_SCRIPT_TIMEOUT",
		"FLOWSHEET_PYTHON",
		"FLOWSHEET_R",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowsheet.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func defaults() Config {
	return Config{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Python:    DefaultPython,
		Rscript:   DefaultRscript,
		Locale:    DefaultLocale,
		Encoding:  "auto",
	}
}

func TestParseArgs_ValidArgs(t *testing.T) {
	with := func(fn func(c *Config)) Config {
		c := defaults()
		fn(&c)
		return c
	}

	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{
			name:     "デフォルト設定",
			args:     []string{},
			expected: defaults(),
		},
		{
			name:     "ノートブック指定",
			args:     []string{"notebooks/budget.yaml"},
			expected: with(func(c *Config) { c.NotebookPath = "notebooks/budget.yaml" }),
		},
		{
			name:     "タイムアウト指定（秒）",
			args:     []string{"--script-timeout", "10"},
			expected: with(func(c *Config) { c.ScriptTimeout = 10 * time.Second }),
		},
		{
			name:     "タイムアウト指定（短縮形、期間形式）",
			args:     []string{"-t", "1m30s"},
			expected: with(func(c *Config) { c.ScriptTimeout = 90 * time.Second }),
		},
		{
			name:     "ログレベル指定（短縮形、大文字）",
			args:     []string{"-l", "DEBUG"},
			expected: with(func(c *Config) { c.LogLevel = "debug" }),
		},
		{
			name:     "ログ形式指定（= 形式）",
			args:     []string{"--log-format=json"},
			expected: with(func(c *Config) { c.LogFormat = "json" }),
		},
		{
			name: "ランタイム設定",
			args: []string{"--python", "/opt/py/bin/python", "--no-r"},
			expected: with(func(c *Config) {
				c.Python = "/opt/py/bin/python"
				c.NoR = true
			}),
		},
		{
			name:     "ヘルプ表示（短縮形）",
			args:     []string{"-h"},
			expected: with(func(c *Config) { c.ShowHelp = true }),
		},
		{
			name: "位置引数が最初（順序に関係なく動作）",
			args: []string{"model.yaml", "--batch", "--strict", "-t", "5"},
			expected: with(func(c *Config) {
				c.NotebookPath = "model.yaml"
				c.Batch = true
				c.Strict = true
				c.ScriptTimeout = 5 * time.Second
			}),
		},
		{
			name: "複数オプション",
			args: []string{"--locale", "de", "--encoding", "shift_jis", "--no-python", "-b", "sheet.yaml"},
			expected: with(func(c *Config) {
				c.Locale = "de"
				c.Encoding = "shift_jis"
				c.NoPython = true
				c.Batch = true
				c.NotebookPath = "sheet.yaml"
			}),
		},
		{
			name:     "デモ",
			args:     []string{"--demo"},
			expected: with(func(c *Config) { c.Demo = true }),
		},
		{
			name:     "-- 以降は位置引数",
			args:     []string{"--", "-odd-name.yaml"},
			expected: with(func(c *Config) { c.NotebookPath = "-odd-name.yaml" }),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			config, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(*config, tt.expected) {
				t.Errorf("config = %+v\nwant     %+v", *config, tt.expected)
			}
		})
	}
}

func TestParseArgs_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "負のタイムアウト", args: []string{"--script-timeout", "-10"}},
		{name: "無効なタイムアウト", args: []string{"-t", "soon"}},
		{name: "無効なログレベル", args: []string{"--log-level", "invalid"}},
		{name: "無効なログレベル（短縮形）", args: []string{"-l", "trace"}},
		{name: "無効なログ形式", args: []string{"--log-format", "xml"}},
		{name: "空の Python パス", args: []string{"--python="}},
		{name: "未知のフラグ", args: []string{"--verbose"}},
		{name: "位置引数が多すぎる", args: []string{"a.yaml", "b.yaml"}},
		{name: "デモとノートブックの同時指定", args: []string{"--demo", "a.yaml"}},
		{name: "存在しない設定ファイル", args: []string{"--config", "/nonexistent/flowsheet.yaml"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := ParseArgs(tt.args)
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseArgs_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLOWSHEET_LOG_LEVEL", "WARN")
	t.Setenv("FLOWSHEET_SCRIPT_TIMEOUT", "45")
	t.Setenv("FLOWSHEET_PYTHON", "/usr/local/bin/python3.12")
	t.Setenv("FLOWSHEET_R", "/usr/lib/R/bin/Rscript")

	config, err := ParseArgs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", config.LogLevel)
	}
	if config.ScriptTimeout != 45*time.Second {
		t.Errorf("ScriptTimeout = %v", config.ScriptTimeout)
	}
	if config.Python != "/usr/local/bin/python3.12" || config.Rscript != "/usr/lib/R/bin/Rscript" {
		t.Errorf("interpreters = %q, %q", config.Python, config.Rscript)
	}

	// フラグが環境変数より優先される
	config, err = ParseArgs([]string{"-l", "error", "-t", "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "error" || config.ScriptTimeout != 3*time.Second {
		t.Errorf("flags did not override environment: %+v", config)
	}
}

func TestParseArgs_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
log_level: Debug
log_format: json
script_timeout: 2m
python: /opt/conda/bin/python
python_packages: [numpy, sympy]
r_packages: [stats]
strict: true
locale: ja
`)

	t.Run("設定ファイルの値", func(t *testing.T) {
		clearEnv(t)
		config, err := ParseArgs([]string{"--config", path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := defaults()
		want.ConfigFile = path
		want.LogLevel = "debug"
		want.LogFormat = "json"
		want.ScriptTimeout = 2 * time.Minute
		want.Python = "/opt/conda/bin/python"
		want.PythonPackages = []string{"numpy", "sympy"}
		want.RPackages = []string{"stats"}
		want.Strict = true
		want.Locale = "ja"
		if !reflect.DeepEqual(*config, want) {
			t.Errorf("config = %+v\nwant     %+v", *config, want)
		}
	})

	t.Run("環境変数が設定ファイルより優先", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FLOWSHEET_CONFIG", path)
		t.Setenv("FLOWSHEET_PYTHON", "python3.11")
		config, err := ParseArgs([]string{"--log-level", "warn"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Python != "python3.11" {
			t.Errorf("Python = %q", config.Python)
		}
		if config.LogLevel != "warn" {
			t.Errorf("LogLevel = %q", config.LogLevel)
		}
		if config.ScriptTimeout != 2*time.Minute {
			t.Errorf("ScriptTimeout = %v", config.ScriptTimeout)
		}
	})

	t.Run("不正な設定ファイル", func(t *testing.T) {
		clearEnv(t)
		bad := writeConfig(t, "log_level: [oops\n")
		if _, err := ParseArgs([]string{"-c", bad}); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestReorderArgs(t *testing.T) {
	got := reorderArgs([]string{"nb.yaml", "-t", "-1", "--strict", "--log-level=debug"})
	want := []string{"-t", "-1", "--strict", "--log-level=debug", "--", "nb.yaml"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("reorderArgs = %v, want %v", got, want)
	}
}
