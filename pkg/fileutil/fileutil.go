package fileutil

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// FindFileCaseInsensitive searches dir in fsys for a file whose name
// matches filename ignoring case, and returns its slash-separated path.
//
//	p, err := FindFileCaseInsensitive(os.DirFS(home), "data", "SALES.csv")
//	// finds "data/sales.csv", "data/Sales.CSV", ...
func FindFileCaseInsensitive(fsys fs.FS, dir, filename string) (string, error) {
	searchName := strings.ToLower(filename)

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == searchName {
			return path.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s)", filename, dir)
}

// ResolveCaseInsensitive resolves every element of the slash-separated
// name against fsys ignoring case. Directories are matched the same way
// as the final file name.
func ResolveCaseInsensitive(fsys fs.FS, name string) (string, error) {
	parts := strings.Split(path.Clean(name), "/")
	dir := "."
	for i, part := range parts {
		if part == "." {
			continue
		}
		if i == len(parts)-1 {
			return FindFileCaseInsensitive(fsys, dir, part)
		}
		next, err := findDir(fsys, dir, part)
		if err != nil {
			return "", err
		}
		dir = next
	}
	return "", fmt.Errorf("file not found: %s", name)
}

func findDir(fsys fs.FS, dir, name string) (string, error) {
	if name == ".." {
		return "", fmt.Errorf("invalid path element %q", name)
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.EqualFold(entry.Name(), name) {
			return path.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("directory not found: %s (searched in %s)", name, dir)
}

// SplitPath splits an OS path into the directory to open and the file
// name to resolve inside it. Relative names are joined to base.
func SplitPath(base, name string) (string, string) {
	if filepath.IsAbs(name) {
		return filepath.Dir(name), filepath.Base(name)
	}
	if base == "" {
		base = "."
	}
	return base, name
}
