package autoreply

import "strings"

// stripReasoning removes <think> and <thinking> blocks that reasoning models put before their
// answer. Other tags and stray angle brackets are kept. Text after an unterminated block is dropped.
func stripReasoning(s string) string {
	var out strings.Builder
	depth := 0
	emit := func(text string) {
		if depth == 0 {
			out.WriteString(text)
		}
	}

	for s != "" {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			emit(s)
			break
		}
		emit(s[:i])
		s = s[i:]

		j := strings.IndexByte(s, '>')
		if j < 0 {
			emit(s)
			break
		}
		// a second '<' before '>' means the first one did not open a tag
		if k := strings.IndexByte(s[1:j], '<'); k >= 0 {
			emit(s[:k+1])
			s = s[k+1:]
			continue
		}

		tag := s[:j+1]
		switch strings.ToLower(tag) {
		case "<think>", "<thinking>":
			depth++
		case "</think>", "</thinking>":
			if depth > 0 {
				depth--
			}
		default:
			emit(tag)
		}
		s = s[j+1:]
	}
	return strings.TrimSpace(out.String())
}
