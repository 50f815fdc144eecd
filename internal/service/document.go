package service

import (
	"context"

	"github.com/Rrens/secassist/internal/domain"
)

// Document is an open editor buffer the fix orchestrator can read and edit
type Document interface {
	URI() string
	LanguageID() string
	LineCount() int
	LineAt(line int) string
	GetText(r domain.Range) string
	// ApplyEdit replaces the text in r; it fails when the target changed
	ApplyEdit(ctx context.Context, r domain.Range, text string) error
	Save(ctx context.Context) error
}

// Confirmer asks the user to accept an approved fix before it is applied
type Confirmer interface {
	Confirm(ctx context.Context, proposal domain.FixProposal) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, proposal domain.FixProposal) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, proposal domain.FixProposal) (bool, error) {
	return f(ctx, proposal)
}

// BuildFixContext pads the diagnostic range with whole lines, never leaving
// the document, and returns the snippet covering them.
func BuildFixContext(doc Document, r domain.Range, padding int) domain.FixContext {
	fc := domain.FixContext{
		FilePath:   doc.URI(),
		LanguageID: doc.LanguageID(),
	}

	count := doc.LineCount()
	if count <= 0 {
		return fc
	}
	if padding < 0 {
		padding = 0
	}

	startLine := clamp(r.Start.Line-padding, 0, count-1)
	endLine := clamp(r.End.Line+padding, 0, count-1)
	if endLine < startLine {
		endLine = startLine
	}

	fc.Range = domain.Range{
		Start: domain.Position{Line: startLine, Character: 0},
		End:   domain.Position{Line: endLine, Character: len(doc.LineAt(endLine))},
	}
	fc.Snippet = doc.GetText(fc.Range)
	return fc
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
