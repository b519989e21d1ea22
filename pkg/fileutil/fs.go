// Package fileutil provides case-insensitive read access to notebook and
// data files on disk or embedded in the binary.
package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// FileSystem はノートブックとデータファイルを読むための読み取り専用ファイルシステム
// 名前は "/" 区切りの相対パスで、大文字小文字を区別しない
type FileSystem interface {
	// Open はファイルを開く（大文字小文字を無視）
	Open(name string) (fs.File, error)
	// ReadFile はファイルの内容を読み込む（大文字小文字を無視）
	ReadFile(name string) ([]byte, error)
	// Find は実際のパスを返す
	Find(name string) (string, error)
	// List はディレクトリ内の指定拡張子のファイル名を返す
	List(dir string, exts ...string) ([]string, error)
	// BasePath はベースパスを返す
	BasePath() string
	// IsEmbedded は埋め込みファイルシステムかどうかを返す
	IsEmbedded() bool
}

// dirFS は fs.FS を FileSystem として扱う
type dirFS struct {
	fsys     fs.FS
	basePath string
	embedded bool
}

// NewRealFS はディレクトリ dir を読む FileSystem を作成する
func NewRealFS(dir string) FileSystem {
	if dir == "" {
		dir = "."
	}
	return &dirFS{fsys: os.DirFS(dir), basePath: dir}
}

// NewEmbedFS は埋め込みファイルシステムの basePath 以下を読む FileSystem を作成する
func NewEmbedFS(fsys fs.FS, basePath string) (FileSystem, error) {
	basePath = strings.Trim(path.Clean("/"+basePath), "/")
	if basePath != "" {
		sub, err := fs.Sub(fsys, basePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded directory %s: %w", basePath, err)
		}
		fsys = sub
	}
	return &dirFS{fsys: fsys, basePath: basePath, embedded: true}, nil
}

func (d *dirFS) Open(name string) (fs.File, error) {
	actual, err := d.Find(name)
	if err != nil {
		return nil, err
	}
	return d.fsys.Open(actual)
}

func (d *dirFS) ReadFile(name string) ([]byte, error) {
	actual, err := d.Find(name)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(d.fsys, actual)
}

func (d *dirFS) Find(name string) (string, error) {
	clean := cleanName(name)
	// まず直接アクセスを試みる
	if _, err := fs.Stat(d.fsys, clean); err == nil {
		return clean, nil
	}
	return ResolveCaseInsensitive(d.fsys, clean)
}

func (d *dirFS) List(dir string, exts ...string) ([]string, error) {
	dir = cleanName(dir)
	if dir != "." {
		actual, err := ResolveCaseInsensitive(d.fsys, dir)
		if err != nil {
			return nil, err
		}
		dir = actual
	}
	entries, err := fs.ReadDir(d.fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !hasExt(entry.Name(), exts) {
			continue
		}
		names = append(names, path.Join(dir, entry.Name()))
	}
	sort.Strings(names)
	return names, nil
}

func (d *dirFS) BasePath() string {
	return d.basePath
}

func (d *dirFS) IsEmbedded() bool {
	return d.embedded
}

// cleanName は OS 形式のパスを fs.FS 用の相対パスに変換する
func cleanName(name string) string {
	name = filepath.ToSlash(name)
	// 先頭の "/" を除去
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "."
	}
	return path.Clean(name)
}

func hasExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
