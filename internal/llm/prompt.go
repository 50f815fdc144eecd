package llm

import "strings"

const fence = "```"

// ExtractCode extracts code from an LLM response. The first fenced block wins;
// without one the trimmed response is returned.
func ExtractCode(content string) string {
	if code, ok := extractFromCodeBlock(content); ok {
		return code
	}
	return strings.TrimSpace(content)
}

// ExtractFenced returns the body of the first fenced block, if any
func ExtractFenced(content string) (string, bool) {
	return extractFromCodeBlock(content)
}

func extractFromCodeBlock(content string) (string, bool) {
	startIdx := strings.Index(content, fence)
	if startIdx == -1 {
		return "", false
	}

	contentStart := startIdx + len(fence)
	// Skip the language tag and the newline after the marker
	if nl := strings.IndexByte(content[contentStart:], '\n'); nl != -1 {
		tag := content[contentStart : contentStart+nl]
		if !strings.Contains(tag, fence) && isLanguageTag(tag) {
			contentStart += nl + 1
		}
	}

	endIdx := strings.Index(content[contentStart:], fence)
	if endIdx == -1 {
		return "", false
	}

	return trimCode(content[contentStart : contentStart+endIdx]), true
}

func isLanguageTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, r := range tag {
		if r == ' ' || r == '\t' {
			return false
		}
	}
	return true
}

// trimCode removes surrounding blank lines while keeping the indentation of the first line
func trimCode(code string) string {
	code = strings.TrimRight(code, " \t\r\n")
	for {
		nl := strings.IndexByte(code, '\n')
		if nl == -1 || strings.TrimSpace(code[:nl]) != "" {
			break
		}
		code = code[nl+1:]
	}
	if strings.TrimSpace(code) == "" {
		return ""
	}
	return code
}
