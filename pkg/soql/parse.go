package soql

import (
	"regexp"
	"strings"
	"unicode"
)

// nonWord matches characters that cannot appear in an object API name
var nonWord = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// clauseKeywords start a clause that must stay after WHERE
//
//nolint:gochecknoglobals // read-only lookup table
var clauseKeywords = map[string]struct{}{
	"WITH":   {},
	"GROUP":  {},
	"HAVING": {},
	"ORDER":  {},
	"LIMIT":  {},
	"OFFSET": {},
	"FOR":    {},
	"UPDATE": {},
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokComma
	tokOpen
	tokClose
)

// token is a lexical unit of query text. depth is the parenthesis nesting
// level the token sits at; parentheses themselves carry the outer depth.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
	depth int
}

func (t token) is(keyword string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, keyword)
}

func isDelimiter(r byte) bool {
	return r == ',' || r == '(' || r == ')' || r == '\'' || unicode.IsSpace(rune(r))
}

// tokenize splits query text into words, string literals, commas and
// parentheses while tracking nesting depth.
func tokenize(s string) []token {
	var (
		tokens []token
		depth  int
	)

	for i := 0; i < len(s); {
		c := s[i]

		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", start: i, end: i + 1, depth: depth})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokOpen, text: "(", start: i, end: i + 1, depth: depth})
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			tokens = append(tokens, token{kind: tokClose, text: ")", start: i, end: i + 1, depth: depth})
			i++
		case c == '\'':
			j := i + 1
			for j < len(s) {
				if s[j] == '\\' {
					j += 2
					continue
				}
				if s[j] == '\'' {
					j++
					break
				}
				j++
			}
			if j > len(s) {
				j = len(s)
			}
			tokens = append(tokens, token{kind: tokString, text: s[i:j], start: i, end: j, depth: depth})
			i = j
		default:
			j := i
			for j < len(s) && !isDelimiter(s[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokWord, text: s[i:j], start: i, end: j, depth: depth})
			i = j
		}
	}

	return tokens
}

// findTopLevel returns the index of the first depth-0 keyword at or after
// from, or -1.
func findTopLevel(tokens []token, keyword string, from int) int {
	for i := from; i < len(tokens); i++ {
		if tokens[i].depth == 0 && tokens[i].is(keyword) {
			return i
		}
	}

	return -1
}

// clauseStart returns the byte offset of the first depth-0 clause keyword
// at or after token index from, or len(text) when there is none.
func clauseStart(tokens []token, from int, text string) int {
	for i := from; i < len(tokens); i++ {
		t := tokens[i]
		if t.depth != 0 || t.kind != tokWord {
			continue
		}

		if _, ok := clauseKeywords[strings.ToUpper(t.text)]; ok {
			return t.start
		}
	}

	return len(text)
}

func containsWord(tokens []token, keyword string) bool {
	for _, t := range tokens {
		if t.is(keyword) {
			return true
		}
	}

	return false
}

// ObjectFromQuery returns the object named after the first top-level FROM,
// stripped of characters that cannot appear in an API name. FROM keywords
// inside parenthesized sub-queries are ignored.
func ObjectFromQuery(text string) (string, error) {
	tokens := tokenize(text)

	from := findTopLevel(tokens, "FROM", 0)
	if from < 0 || from+1 >= len(tokens) || tokens[from+1].kind != tokWord {
		return "", ErrMissingObject
	}

	object := nonWord.ReplaceAllString(tokens[from+1].text, "")
	if object == "" {
		return "", ErrMissingObject
	}

	return object, nil
}

// FieldsFromQuery returns the field names listed in the SELECT clause.
// Qualified names such as user.profile.name reduce to their last segment;
// when that would duplicate an earlier field the segments are joined with
// underscores instead, dropping a leading segment equal to object.
// Function calls and nested sub-queries are skipped.
func FieldsFromQuery(text, object string) []string {
	tokens := tokenize(text)

	sel := findTopLevel(tokens, "SELECT", 0)
	if sel < 0 {
		return nil
	}

	from := findTopLevel(tokens, "FROM", sel+1)
	if from < 0 {
		from = len(tokens)
	}

	var (
		fields []string
		seen   = make(map[string]struct{})
		item   []token
	)

	flush := func() {
		defer func() { item = item[:0] }()

		if len(item) == 0 {
			return
		}

		for _, t := range item {
			if t.kind != tokWord {
				return
			}
		}

		name := flattenField(item[0].text, object, seen)
		if name == "" {
			return
		}

		seen[strings.ToLower(name)] = struct{}{}
		fields = append(fields, name)
	}

	for _, t := range tokens[sel+1 : from] {
		if t.kind == tokComma && t.depth == 0 {
			flush()
			continue
		}

		item = append(item, t)
	}

	flush()

	return fields
}

func flattenField(path, object string, seen map[string]struct{}) string {
	parts := strings.Split(strings.Trim(path, "."), ".")
	base := parts[len(parts)-1]

	if _, dup := seen[strings.ToLower(base)]; !dup || len(parts) == 1 {
		return base
	}

	if len(parts) > 1 && strings.EqualFold(parts[0], object) {
		parts = parts[1:]
	}

	return strings.Join(parts, "_")
}

// keyTokens lower-cases text and splits it on whitespace and on commas or
// periods that do not sit between two digits.
func keyTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})

	for _, word := range strings.Fields(strings.ToLower(text)) {
		start := 0

		for i := 0; i < len(word); i++ {
			c := word[i]
			if c != ',' && c != '.' {
				continue
			}

			if i > 0 && i+1 < len(word) && isDigit(word[i-1]) && isDigit(word[i+1]) {
				continue
			}

			if i > start {
				out[word[start:i]] = struct{}{}
			}

			start = i + 1
		}

		if start < len(word) {
			out[word[start:]] = struct{}{}
		}
	}

	return out
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
