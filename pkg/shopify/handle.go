package shopify

import (
	"regexp"
	"strings"
)

var (
	handleSeparators = regexp.MustCompile(`[\x00-\x20!#$%&*+,./:;<=>?@\\^` + "`" + `{|}~]`)
	handleRemoved    = regexp.MustCompile(`["'()\[\]]`)
	handleDashes     = regexp.MustCompile(`[\s-]+`)
)

// Handle converts s into a Shopify handle: separators and control
// characters become single hyphens, quotes and brackets are dropped,
// trailing hyphens are trimmed and the result is lower case.
func Handle(s string) string {
	s = handleSeparators.ReplaceAllString(s, " ")
	s = handleRemoved.ReplaceAllString(s, "")
	s = handleDashes.ReplaceAllString(s, "-")
	s = strings.TrimRight(s, "-")
	return strings.ToLower(s)
}
