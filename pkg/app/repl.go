package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const (
	historyFile = ".flowsheet_history"
	promptMain  = "fx> "
)

const banner = "flowsheet REPL: type an expression, :help for commands, Ctrl+D to exit."

// runREPL は対話ループを実行する
func (app *Application) runREPL(ctx context.Context) error {
	sh := app.shell()

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(sh.Completions)

	// 履歴の読み込みと保存
	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			_, _ = ln.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			f.Close()
		} else {
			app.log.Debug("Failed to save history", "path", histPath, "error", err)
		}
	}()

	fmt.Fprintln(app.stdout, banner)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := ln.Prompt(promptMain)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(app.stdout)
			return nil
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			return err
		}

		if strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}
		if sh.Execute(ctx, line) {
			return nil
		}
	}
}
