package pshellcli

import "strings"

// Tokenize splits s into an argument vector on any rune in delimiter,
// honoring double-quoted substrings as a single token (the quotes are
// stripped). This mirrors the C library's whitespace-splitting tokenizer
// with quoting extended for hosts that embed spaces in a single argument.
func Tokenize(s, delimiter string) []string {
	var out []string
	var cur strings.Builder
	var inQuote bool
	var haveToken bool

	isDelim := func(r rune) bool {
		return strings.ContainsRune(delimiter, r)
	}

	flush := func() {
		if haveToken {
			out = append(out, cur.String())
			cur.Reset()
			haveToken = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case r == '"':
			inQuote = !inQuote
			haveToken = true
		case !inQuote && isDelim(r):
			flush()
		default:
			cur.WriteRune(r)
			haveToken = true
		}
	}
	flush()

	return out
}

// IsSubString reports whether prefix is a prefix of candidate, requiring at
// least minChars of prefix to be present. minChars == 0 means "the full
// length of prefix" (spec §4.3).
func IsSubString(prefix, candidate string, minChars int) bool {
	if minChars <= 0 {
		minChars = len(prefix)
	}
	if len(prefix) < minChars {
		return false
	}
	if len(prefix) > len(candidate) {
		return false
	}
	return strings.HasPrefix(candidate, prefix)
}
