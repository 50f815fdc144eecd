package service

import (
	"fmt"
	"strings"

	"github.com/Rrens/secassist/internal/domain"
)

const basePersona = `You are a security assistant embedded in a code editor.
Answer questions about vulnerabilities, secure coding practices and the user's code.
Be concise. Prefer concrete, minimal code changes and explain the risk they remove.`

const proposerPersona = `You are a secure code remediation agent.
You receive a snippet of source code containing a security issue and return a corrected
version of exactly that snippet. Preserve indentation, behaviour and surrounding style.`

const approvalPersona = `You are an independent approval agent reviewing a proposed security fix.
Reject the fix if it does not remove the vulnerability, changes unrelated behaviour,
breaks the code, or introduces a new issue. Respond with a single JSON object:
{"decision": "approve" | "reject", "notes": "<short justification>"}`

const (
	chatFailureText    = "Sorry, the assistant could not complete this request. Check the provider configuration and try again."
	cancelledSuffix    = "[cancelled]"
	emptyApprovalNotes = "Approval agent returned an empty response."
)

// chatSystemPrompt builds the qa persona, adding the active vulnerability when present
func chatSystemPrompt(sess domain.ChatSession) string {
	prompt := basePersona
	if vuln := strings.TrimSpace(sess.MetadataString(domain.MetaVulnerability)); vuln != "" {
		prompt += "\n\nActive vulnerability context:\n" + vuln
	}
	return prompt
}

// buildProposalPrompt creates the prompt for one propose attempt
func buildProposalPrompt(fc domain.FixContext, diag domain.Diagnostic, attempt, maxAttempts int, feedback []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "File: %s\n", fc.FilePath)
	fmt.Fprintf(&sb, "Language: %s\n", fc.LanguageID)
	issue := diag.Message
	if diag.Code != "" {
		issue = fmt.Sprintf("%s (%s)", diag.Message, diag.Code)
	}
	fmt.Fprintf(&sb, "Issue: %s\n", issue)
	fmt.Fprintf(&sb, "Attempt: %d of %d\n\n", attempt, maxAttempts)

	fmt.Fprintf(&sb, "Original snippet (lines %d-%d):\n", fc.Range.Start.Line+1, fc.Range.End.Line+1)
	fmt.Fprintf(&sb, "```%s\n%s\n```\n", fc.LanguageID, fc.Snippet)

	if len(feedback) > 0 {
		sb.WriteString("\nPrevious proposals were rejected by the reviewer. Address every point:\n")
		for i, note := range feedback {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, note)
		}
	}

	sb.WriteString("\nRules:\n")
	sb.WriteString("1. Return ONLY the corrected snippet in a single fenced code block\n")
	sb.WriteString("2. The snippet replaces the original lines exactly, keep unchanged lines as they are\n")
	sb.WriteString("3. Do not add explanations outside the code block\n")
	return sb.String()
}

// buildApprovalPrompt asks the approval agent to judge one proposal
func buildApprovalPrompt(fc domain.FixContext, diag domain.Diagnostic, replacement string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\nLanguage: %s\nIssue: %s\n\n", fc.FilePath, fc.LanguageID, diag.Message)
	fmt.Fprintf(&sb, "Original:\n```%s\n%s\n```\n\n", fc.LanguageID, fc.Snippet)
	fmt.Fprintf(&sb, "Proposed replacement:\n```%s\n%s\n```\n\n", fc.LanguageID, replacement)
	sb.WriteString(`Reply with JSON only: {"decision": "approve" or "reject", "notes": "..."}`)
	return sb.String()
}

// autoTitle derives a session title from the first user message
func autoTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > 30 {
		return string(runes[:30]) + "..."
	}
	return text
}
