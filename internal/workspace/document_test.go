package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/service"
)

const sample = "package db\n\nfunc find(name string) {\n\tdb.Query(\"SELECT * FROM users WHERE name = '\" + name + \"'\")\n}\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func lineRange(start, end int, endChar int) domain.Range {
	return domain.Range{Start: domain.Position{Line: start}, End: domain.Position{Line: end, Character: endChar}}
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/db.go", sample)

	doc, err := Open(root, "pkg/db.go", "")
	require.NoError(t, err)

	assert.Equal(t, "pkg/db.go", doc.URI())
	assert.Equal(t, "go", doc.LanguageID())
	assert.Equal(t, 5, doc.LineCount())
	assert.Equal(t, "func find(name string) {", doc.LineAt(2))
	assert.Equal(t, "", doc.LineAt(99))
	assert.Equal(t, "find(name", doc.GetText(domain.Range{
		Start: domain.Position{Line: 2, Character: 5},
		End:   domain.Position{Line: 2, Character: 14},
	}))
}

func TestOpen_RejectsEscapes(t *testing.T) {
	root := t.TempDir()

	_, err := Open(root, "../outside.go", "")
	assert.ErrorIs(t, err, ErrPathEscape)

	_, err = Open(root, "", "")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Open(root, "missing.go", "")
	assert.Error(t, err)
}

func TestFileDocument_ApplyAndSave(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "db.go", sample)
	doc, err := Open(root, "db.go", "go")
	require.NoError(t, err)

	r := lineRange(2, 4, 1)
	replacement := "func find(name string) {\n\tdb.Query(\"SELECT * FROM users WHERE name = $1\", name)\n}"
	require.NoError(t, doc.ApplyEdit(context.Background(), r, replacement))
	require.NoError(t, doc.Save(context.Background()))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package db\n\n"+replacement+"\n", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	// a second edit builds on the saved content
	require.NoError(t, doc.ApplyEdit(context.Background(), lineRange(0, 0, 10), "package store"))
	require.NoError(t, doc.Save(context.Background()))
	got, _ = os.ReadFile(path)
	assert.Contains(t, string(got), "package store\n")
}

func TestFileDocument_ApplyAndSave_NoTrailingNewline(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "main.go", "package main\n\nfunc main() { run(os.Args[1]) }")
	doc, err := Open(root, "main.go", "")
	require.NoError(t, err)

	require.NoError(t, doc.ApplyEdit(context.Background(), lineRange(2, 2, 31), "func main() { run(\"fixed\") }"))
	require.NoError(t, doc.Save(context.Background()))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() { run(\"fixed\") }", string(got))

	require.NoError(t, doc.ApplyEdit(context.Background(), lineRange(0, 0, 12), "package app"))
	require.NoError(t, doc.Save(context.Background()))
	got, _ = os.ReadFile(path)
	assert.Equal(t, "package app\n\nfunc main() { run(\"fixed\") }", string(got))
}

func TestFileDocument_RejectsConcurrentChange(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "db.go", sample)
	doc, err := Open(root, "db.go", "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("package db\n// edited elsewhere\n"), 0o644))

	err = doc.ApplyEdit(context.Background(), lineRange(2, 4, 1), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrEditRejected)
	assert.Contains(t, err.Error(), "changed on disk")

	got, _ := os.ReadFile(path)
	assert.Equal(t, "package db\n// edited elsewhere\n", string(got))
}

func TestFileDocument_RejectsOutOfRange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "db.go", sample)
	doc, err := Open(root, "db.go", "")
	require.NoError(t, err)

	err = doc.ApplyEdit(context.Background(), lineRange(3, 40, 0), "x")
	assert.ErrorIs(t, err, service.ErrEditRejected)
}

func TestFileDocument_PreservesCRLF(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.py", "a = 1\r\nb = 2\r\n")
	doc, err := Open(root, "a.py", "")
	require.NoError(t, err)
	assert.Equal(t, "python", doc.LanguageID())
	assert.Equal(t, "b = 2", doc.LineAt(1))

	require.NoError(t, doc.ApplyEdit(context.Background(), lineRange(1, 1, 5), "b = 3"))
	require.NoError(t, doc.Save(context.Background()))

	got, _ := os.ReadFile(path)
	assert.Equal(t, "a = 1\r\nb = 3\r\n", string(got))
}

func TestFileDocument_SaveWithoutEditsIsNoop(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "db.go", sample)
	doc, err := Open(root, "db.go", "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))
	require.NoError(t, doc.Save(context.Background()))

	got, _ := os.ReadFile(path)
	assert.Equal(t, "changed", string(got))
}

func TestFileDocument_BuildFixContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "db.go", sample)
	doc, err := Open(root, "db.go", "")
	require.NoError(t, err)

	fc := service.BuildFixContext(doc, lineRange(3, 3, 5), 1)
	assert.Equal(t, 2, fc.Range.Start.Line)
	assert.Equal(t, 4, fc.Range.End.Line)
	assert.Equal(t, 1, fc.Range.End.Character)
	assert.Equal(t, "func find(name string) {\n\tdb.Query(\"SELECT * FROM users WHERE name = '\" + name + \"'\")\n}", fc.Snippet)
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"relative", "a/b.go", nil},
		{"dot dot inside", "a/../b.go", nil},
		{"dotted name", "..foo", nil},
		{"escape", "../b.go", ErrPathEscape},
		{"deep escape", "a/../../b.go", ErrPathEscape},
		{"absolute outside", "/etc/passwd", ErrPathEscape},
		{"absolute inside", filepath.Join(root, "x.go"), nil},
		{"empty", "  ", ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeJoin(root, tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestSplitJoinLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\nb\n"))
	assert.Equal(t, []string{"a", ""}, SplitLines("a\n\n"))
	assert.Equal(t, "a\nb\n", JoinLines([]string{"a", "b"}, true))
	assert.Equal(t, "a\nb", JoinLines([]string{"a", "b"}, false))
	assert.Equal(t, "", JoinLines(nil, true))

	for _, content := range []string{"package main\n\nfunc main() {}", "a\n\n", "x\n", "x"} {
		assert.Equal(t, content, JoinLines(SplitLines(content), strings.HasSuffix(content, "\n")))
	}
}
