package script

import (
	"fmt"
	"strings"
	"unicode"
)

// normalize strips a leading "return" and trailing semicolons and maps
// strict equality operators onto plain equality.
func normalize(code string) string {
	s := strings.TrimSpace(code)
	if rest, ok := strings.CutPrefix(s, "return"); ok && (rest == "" || unicode.IsSpace(rune(rest[0])) || rest[0] == '(') {
		s = strings.TrimSpace(rest)
	}
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	s = strings.ReplaceAll(s, "!==", "!=")
	s = strings.ReplaceAll(s, "===", "==")
	return s
}

// jqKeywords are the bare identifiers the fallback evaluator accepts.
// Anything that can reach the host (env, input, debug, $ENV, modules) is
// absent.
var jqKeywords = map[string]bool{
	"and": true, "or": true, "not": true,
	"true": true, "false": true, "null": true,
	"if": true, "then": true, "elif": true, "else": true, "end": true,

	"length": true, "test": true, "startswith": true, "endswith": true,
	"contains": true, "inside": true, "ascii_downcase": true, "ascii_upcase": true,
	"tostring": true, "tonumber": true, "type": true, "keys": true, "has": true,
	"any": true, "all": true, "map": true, "select": true, "join": true,
	"split": true, "ltrimstr": true, "rtrimstr": true, "first": true, "last": true,
	"min": true, "max": true, "add": true, "floor": true, "ceil": true,
	"round": true, "abs": true, "values": true,
}

// toJQ rewrites a normalized script into a jq program over the $fields
// variable. It fails when the script references any identifier outside
// jqKeywords, any variable other than $fields, or a format string.
func toJQ(code string) (string, error) {
	var b strings.Builder
	runes := []rune(code)
	prevSignificant := rune(0)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			end, lit, err := readString(runes, i)
			if err != nil {
				return "", err
			}
			b.WriteString(lit)
			i = end
			prevSignificant = '"'
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			b.WriteString(" and ")
			i += 2
			prevSignificant = ' '
		case r == '|' && i+1 < len(runes) && runes[i+1] == '|':
			b.WriteString(" or ")
			i += 2
			prevSignificant = ' '
		case r == '@':
			return "", fmt.Errorf("format strings are not allowed")
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || unicode.IsLetter(runes[i]) || runes[i] == '.') {
				i++
			}
			b.WriteString(string(runes[start:i]))
			prevSignificant = '0'
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			ident := string(runes[start:i])
			switch {
			case prevSignificant == '.':
				b.WriteString(ident)
			case prevSignificant == '$':
				if ident != "fields" {
					return "", fmt.Errorf("variable $%s is not allowed", ident)
				}
				b.WriteString(ident)
			case ident == "fields":
				b.WriteString("$fields")
			case jqKeywords[ident]:
				b.WriteString(ident)
			default:
				return "", fmt.Errorf("identifier %q is not allowed", ident)
			}
			prevSignificant = 'a'
		default:
			b.WriteRune(r)
			i++
			if !unicode.IsSpace(r) {
				prevSignificant = r
			}
		}
	}
	return b.String(), nil
}

// readString consumes a quoted literal starting at runes[start] and returns
// the index after it along with the literal re-quoted for jq. Single
// quoted strings are converted to double quotes.
func readString(runes []rune, start int) (int, string, error) {
	quote := runes[start]
	var b strings.Builder
	b.WriteRune('"')
	for i := start + 1; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			next := runes[i+1]
			if next == '(' {
				return 0, "", fmt.Errorf("string interpolation is not allowed")
			}
			if quote == '\'' && next == '\'' {
				b.WriteRune('\'')
			} else {
				b.WriteRune(r)
				b.WriteRune(next)
			}
			i++
		case r == quote:
			b.WriteRune('"')
			return i + 1, b.String(), nil
		case r == '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	return 0, "", fmt.Errorf("unterminated string literal")
}
