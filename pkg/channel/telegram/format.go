package telegram

import (
	"regexp"
	"strings"
)

// MaxMessageLength is the Bot API limit for one text message.
const MaxMessageLength = 4096

var (
	tagPattern     = regexp.MustCompile(`</?[a-zA-Z0-9]+[^>]*>`)
	tagNamePattern = regexp.MustCompile(`^</?([a-zA-Z0-9]+)`)

	allowedTags = map[string]struct{}{
		"b": {}, "strong": {}, "i": {}, "em": {}, "u": {}, "ins": {},
		"s": {}, "strike": {}, "del": {}, "a": {}, "code": {}, "pre": {},
	}

	angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")
)

// EscapeHTML prepares model output for parse_mode=HTML. Tags Telegram accepts
// pass through untouched; every other angle bracket is escaped.
func EscapeHTML(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(text, -1) {
		b.WriteString(angleEscaper.Replace(text[last:loc[0]]))

		tag := text[loc[0]:loc[1]]
		if allowedTag(tag) {
			b.WriteString(tag)
		} else {
			b.WriteString(angleEscaper.Replace(tag))
		}
		last = loc[1]
	}
	b.WriteString(angleEscaper.Replace(text[last:]))

	return b.String()
}

func allowedTag(tag string) bool {
	match := tagNamePattern.FindStringSubmatch(tag)
	if match == nil {
		return false
	}
	_, ok := allowedTags[strings.ToLower(match[1])]
	return ok
}

// Chunk splits text into pieces of at most maxLength characters. It prefers
// the last newline before the limit, then the last space, then a hard cut.
// Whitespace around each cut is trimmed and empty pieces are dropped.
func Chunk(text string, maxLength int) []string {
	if text == "" {
		return nil
	}
	if maxLength <= 0 {
		maxLength = MaxMessageLength
	}

	current := []rune(text)
	if len(current) <= maxLength {
		return []string{text}
	}

	var chunks []string
	for len(current) > maxLength {
		split := lastIndex(current[:maxLength], '\n')
		if split < 0 {
			split = lastIndex(current[:maxLength], ' ')
		}
		if split < 0 {
			split = maxLength
		}

		if chunk := strings.TrimSpace(string(current[:split])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		current = []rune(strings.TrimSpace(string(current[split:])))
	}

	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

func lastIndex(runes []rune, target rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == target {
			return i
		}
	}
	return -1
}
