package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/service"
)

// FileDocument is a workspace file opened as an editor buffer. Edits are
// applied in memory and written back by Save. An edit is rejected when the
// file on disk no longer matches what was read at Open.
type FileDocument struct {
	root  string
	rel   string
	path  string
	lang  string
	crlf  bool
	eol   bool
	mode  os.FileMode
	base  []byte
	lines []string

	mu    sync.RWMutex
	dirty bool
}

var _ service.Document = (*FileDocument)(nil)

// Open reads relPath under root. An empty languageID is derived from the extension.
func Open(root, relPath, languageID string) (*FileDocument, error) {
	path, err := SafeJoin(root, relPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, relPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}

	if languageID == "" {
		languageID = LanguageFor(path)
	}

	rel := relPath
	if absRoot, err := filepath.Abs(root); err == nil {
		if r, err := filepath.Rel(absRoot, path); err == nil {
			rel = r
		}
	}

	return &FileDocument{
		root:  root,
		rel:   filepath.ToSlash(rel),
		path:  path,
		lang:  languageID,
		crlf:  bytes.Contains(data, []byte("\r\n")),
		eol:   bytes.HasSuffix(data, []byte("\n")),
		mode:  info.Mode().Perm(),
		base:  data,
		lines: SplitLines(string(data)),
	}, nil
}

func (d *FileDocument) URI() string        { return d.rel }
func (d *FileDocument) LanguageID() string { return d.lang }

// Path returns the absolute file path
func (d *FileDocument) Path() string { return d.path }

func (d *FileDocument) LineCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lines)
}

func (d *FileDocument) LineAt(line int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if line < 0 || line >= len(d.lines) {
		return ""
	}
	return d.lines[line]
}

func (d *FileDocument) GetText(r domain.Range) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return textIn(d.lines, r)
}

// Text returns the current buffer contents
func (d *FileDocument) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.render()
}

// ApplyEdit replaces r with text in the buffer
func (d *FileDocument) ApplyEdit(ctx context.Context, r domain.Range, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", service.ErrEditRejected, d.rel, err)
	}
	if !bytes.Equal(current, d.base) {
		return fmt.Errorf("%w: %s changed on disk since it was read", service.ErrEditRejected, d.rel)
	}
	if r.Start.Line < 0 || r.End.Line >= len(d.lines) || r.End.Line < r.Start.Line {
		return fmt.Errorf("%w: range %s is outside %s", service.ErrEditRejected, r, d.rel)
	}

	first := d.lines[r.Start.Line]
	last := d.lines[r.End.Line]
	startChar := min(max(r.Start.Character, 0), len(first))
	endChar := min(max(r.End.Character, 0), len(last))
	if r.Start.Line == r.End.Line && endChar < startChar {
		return fmt.Errorf("%w: range %s is inverted", service.ErrEditRejected, r)
	}

	replaced := first[:startChar] + strings.ReplaceAll(text, "\r\n", "\n") + last[endChar:]
	updated := make([]string, 0, len(d.lines))
	updated = append(updated, d.lines[:r.Start.Line]...)
	updated = append(updated, strings.Split(replaced, "\n")...)
	updated = append(updated, d.lines[r.End.Line+1:]...)

	d.lines = updated
	d.dirty = true
	log.Debug().Str("file", d.rel).Str("range", r.String()).Msg("Edit applied to buffer")
	return nil
}

// Save writes the buffer back atomically when it has unsaved edits
func (d *FileDocument) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}

	data := []byte(d.render())
	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", d.rel, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", d.rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", d.rel, err)
	}
	if err := os.Chmod(tmpName, d.mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", d.rel, err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", d.rel, err)
	}

	d.base = data
	d.dirty = false
	log.Info().Str("file", d.rel).Int("bytes", len(data)).Msg("File saved")
	return nil
}

func (d *FileDocument) render() string {
	out := JoinLines(d.lines, d.eol)
	if d.crlf {
		out = strings.ReplaceAll(out, "\n", "\r\n")
	}
	return out
}

func textIn(lines []string, r domain.Range) string {
	var parts []string
	for i := max(r.Start.Line, 0); i <= r.End.Line && i < len(lines); i++ {
		line := lines[i]
		start, end := 0, len(line)
		if i == r.Start.Line {
			start = min(max(r.Start.Character, 0), len(line))
		}
		if i == r.End.Line {
			end = min(max(r.End.Character, 0), len(line))
		}
		if end < start {
			end = start
		}
		parts = append(parts, line[start:end])
	}
	return strings.Join(parts, "\n")
}

// SplitLines splits content into lines, accepting LF and CRLF. A trailing
// newline does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// JoinLines joins lines with LF, adding a final newline when eol is set
func JoinLines(lines []string, eol bool) string {
	if len(lines) == 0 {
		return ""
	}
	out := strings.Join(lines, "\n")
	if eol {
		out += "\n"
	}
	return out
}
