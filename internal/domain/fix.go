package domain

import "fmt"

// Position is a zero-based line/character location in a document
type Position struct {
	Line      int `json:"line" validate:"min=0"`
	Character int `json:"character" validate:"min=0"`
}

// Range is a half-open span between two positions
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// String renders the range with one-based line numbers
func (r Range) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line+1, r.Start.Character, r.End.Line+1, r.End.Character)
}

// Diagnostic is a located issue reported by the detector pipeline
type Diagnostic struct {
	Range    Range  `json:"range"`
	Message  string `json:"message" validate:"required,max=4000"`
	Code     string `json:"code,omitempty" validate:"max=200"`
	Severity string `json:"severity,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Label returns the short identifier used in session titles
func (d Diagnostic) Label() string {
	if d.Code != "" {
		return d.Code
	}
	runes := []rune(d.Message)
	if len(runes) > 40 {
		return string(runes[:40]) + "..."
	}
	return d.Message
}

// FixContext is the bounded snippet handed to the proposer agent
type FixContext struct {
	FilePath   string `json:"filePath"`
	LanguageID string `json:"languageId"`
	Snippet    string `json:"snippet"`
	Range      Range  `json:"range"`
}

// ApprovalDecision is the verdict of the approval agent
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// ApprovalResult is produced by the approval agent for one attempt
type ApprovalResult struct {
	Decision ApprovalDecision `json:"decision"`
	Notes    string           `json:"notes"`
}

// Approved reports whether the decision allows the fix to proceed
func (a ApprovalResult) Approved() bool {
	return a.Decision == DecisionApprove
}

// FixProposal is presented to the user before any edit is applied
type FixProposal struct {
	SessionID   string `json:"sessionId"`
	FilePath    string `json:"filePath"`
	Range       Range  `json:"range"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Notes       string `json:"notes"`
	Attempt     int    `json:"attempt"`
}
