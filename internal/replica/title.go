package replica

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var namespaceIDs = map[string]int{
	"talk":           1,
	"user":           2,
	"user talk":      3,
	"wikipedia":      4,
	"wikipedia talk": 5,
	"file":           6,
	"file talk":      7,
	"mediawiki":      8,
	"template":       10,
	"template talk":  11,
	"help":           12,
	"category":       14,
	"portal":         100,
	"draft":          118,
	"draft talk":     119,
}

// SplitTitle converts a display title into the replica's (namespace, dbkey) pair.
// Unknown prefixes are treated as part of a main-namespace title.
func SplitTitle(title string) (int, string) {
	normalized := strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	namespace := 0

	if idx := strings.Index(normalized, ":"); idx > 0 {
		prefix := strings.ToLower(strings.TrimSpace(normalized[:idx]))
		if id, ok := namespaceIDs[prefix]; ok {
			namespace = id
			normalized = strings.TrimSpace(normalized[idx+1:])
		}
	}

	return namespace, toDBKey(normalized)
}

func toDBKey(text string) string {
	if text == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(text)
	text = string(unicode.ToUpper(first)) + text[size:]
	return strings.ReplaceAll(text, " ", "_")
}
