package service

import (
	"encoding/json"
	"strings"

	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/llm"
)

type approvalPayload struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

// ParseApproval reads the approval agent's answer. A JSON object is
// preferred, fenced or embedded in prose. Without one the text is scanned
// for "approve" with no "reject". A JSON decision other than the exact
// string "approve" is a rejection.
func ParseApproval(raw string) domain.ApprovalResult {
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.ApprovalResult{Decision: domain.DecisionReject, Notes: emptyApprovalNotes}
	}

	if payload, ok := decodeApproval(text); ok {
		decision := domain.DecisionReject
		if payload.Decision == string(domain.DecisionApprove) {
			decision = domain.DecisionApprove
		}
		return domain.ApprovalResult{Decision: decision, Notes: strings.TrimSpace(payload.Notes)}
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "approve") && !strings.Contains(lower, "reject") {
		return domain.ApprovalResult{Decision: domain.DecisionApprove, Notes: text}
	}
	return domain.ApprovalResult{Decision: domain.DecisionReject, Notes: text}
}

func decodeApproval(text string) (approvalPayload, bool) {
	var candidates []string
	if body, ok := llm.ExtractFenced(text); ok {
		candidates = append(candidates, body)
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start != -1 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		var p approvalPayload
		if err := json.Unmarshal([]byte(strings.TrimSpace(c)), &p); err == nil {
			return p, true
		}
	}
	return approvalPayload{}, false
}
