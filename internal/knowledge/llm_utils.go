package knowledge

import "strings"

func cleanMarkdownOutput(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```markdown") {
		text = strings.TrimPrefix(text, "```markdown")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

// ExtractCodeBlock returns the body of the first fenced code block in text.
func ExtractCodeBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start == -1 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	} else {
		return "", false
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	body := strings.TrimRight(rest[:end], "\n")
	return body, strings.TrimSpace(body) != ""
}

// ExtractJSON returns the outermost JSON object in text, tolerating code fences and prose.
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
