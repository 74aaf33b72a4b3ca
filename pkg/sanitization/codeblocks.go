package sanitization

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// fencedCodeRE matches ```...``` and ~~~...~~~ blocks, including the
// fences themselves. It must run before inlineCodeRE so that triple
// backtick fences are already replaced and cannot be mis-matched by the
// inline regex.
var fencedCodeRE = regexp.MustCompile("(?s)(```.*?```|~~~.*?~~~)")

// inlineCodeRE matches a single backtick span with no embedded newline.
var inlineCodeRE = regexp.MustCompile("(`[^`\n]+`)")

// extractCodeBlocks replaces fenced then inline code spans with opaque
// placeholders and returns the text alongside a map back to the original
// spans, so PII analysis never sees code content.
func extractCodeBlocks(text string) (string, map[string]string) {
	placeholders := map[string]string{}

	text = fencedCodeRE.ReplaceAllStringFunc(text, func(match string) string {
		key := fmt.Sprintf("\x00CODE_BLOCK_%s\x00", uuid.NewString())
		placeholders[key] = match
		return key
	})

	text = inlineCodeRE.ReplaceAllStringFunc(text, func(match string) string {
		key := fmt.Sprintf("\x00INLINE_%s\x00", uuid.NewString())
		placeholders[key] = match
		return key
	})

	return text, placeholders
}

// reinjectCodeBlocks restores the original code spans verbatim.
func reinjectCodeBlocks(text string, placeholders map[string]string) string {
	for key, original := range placeholders {
		text = strings.ReplaceAll(text, key, original)
	}
	return text
}
