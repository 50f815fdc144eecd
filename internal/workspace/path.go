package workspace

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscape  = errors.New("path escapes workspace root")
	ErrInvalidPath = errors.New("invalid path")
)

// SafeJoin resolves p inside root. Absolute paths are accepted only when
// they already point inside root.
func SafeJoin(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrInvalidPath
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(absRoot, target)
	if err != nil {
		return "", err
	}
	// "..foo" is a valid file name, only a leading ".." element escapes
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return target, nil
}

var extLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascriptreact",
	".ts":    "typescript",
	".tsx":   "typescriptreact",
	".java":  "java",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".rs":    "rust",
	".kt":    "kotlin",
	".swift": "swift",
	".sql":   "sql",
	".sh":    "shellscript",
	".yaml":  "yaml",
	".yml":   "yaml",
}

// LanguageFor guesses an editor language id from the file extension
func LanguageFor(path string) string {
	if id, ok := extLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return "plaintext"
}
