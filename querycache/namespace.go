package querycache

import (
	"strings"
	"unicode"
)

// Namespace turns a resource name such as "WeddingTasks" or "wedding-tasks"
// into the snake_case key prefix "wedding_tasks".
func Namespace(name string) string {
	runes := []rune(name)
	var b strings.Builder
	underscore := true

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && !underscore {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		case unicode.IsLower(r), unicode.IsDigit(r):
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
