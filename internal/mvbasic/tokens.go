// Package mvbasic provides editor support for MultiValue BASIC sources:
// syntax tokens, completions and structural validation.
package mvbasic

import (
	"strings"
	"unicode"
)

// Token scopes.
const (
	ScopeKeyword    = "keyword.mvbasic"
	ScopeOperator   = "operator.mvbasic"
	ScopeString     = "string.mvbasic"
	ScopeNumber     = "number.mvbasic"
	ScopeIdentifier = "identifier.mvbasic"
	ScopeComment    = "comment.mvbasic"
)

// Token is a highlighted span. Lines are 1-based, columns 0-based and
// EndColumn is exclusive.
type Token struct {
	Line        int      `json:"line"`
	StartColumn int      `json:"startColumn"`
	EndColumn   int      `json:"endColumn"`
	Scopes      []string `json:"scopes"`
}

var keywords = map[string]bool{
	"OPEN": true, "READ": true, "READU": true, "READV": true, "WRITE": true, "WRITEU": true, "WRITEV": true,
	"CLOSE": true, "CLEAR": true, "STOP": true, "END": true, "IF": true, "THEN": true, "ELSE": true,
	"FOR": true, "TO": true, "STEP": true, "NEXT": true, "LOOP": true, "WHILE": true, "REPEAT": true,
	"UNTIL": true, "GOTO": true, "GOSUB": true, "RETURN": true, "CALL": true, "SUBROUTINE": true,
	"FUNCTION": true, "PROGRAM": true, "EQUATE": true, "COMMON": true, "DIMENSION": true, "DIM": true,
	"MAT": true, "BEGIN": true, "CASE": true, "PRINT": true, "CRT": true, "INPUT": true, "LOCATE": true,
	"DELETE": true, "EXECUTE": true, "INCLUDE": true, "ON": true, "ERROR": true, "LOCKED": true,
	"RELEASE": true, "SELECT": true, "READNEXT": true, "AND": true, "OR": true, "NOT": true,
}

// Word operators are matched case-insensitively.
var wordOperators = map[string]bool{
	"EQ": true, "NE": true, "GT": true, "GE": true, "LT": true, "LE": true, "MATCHES": true, "CAT": true,
}

// Longest symbols first.
var symbolOperators = []string{"<=", ">=", "<>", "+=", "-=", ":=", "=", "+", "-", "*", "/", "<", ">", ":", "^"}

// Tokenize splits source into highlighted spans, line by line.
func Tokenize(source string) []Token {
	tokens := make([]Token, 0)
	for i, line := range splitLines(source) {
		tokens = append(tokens, tokenizeLine(i+1, line)...)
	}
	return tokens
}

func tokenizeLine(lineNum int, line string) []Token {
	runes := []rune(line)
	var tokens []Token
	emit := func(start, end int, scope string) {
		tokens = append(tokens, Token{Line: lineNum, StartColumn: start, EndColumn: end, Scopes: []string{scope}})
	}

	pos := skipSpace(runes, 0)
	if isCommentStart(runes, pos) {
		emit(pos, len(runes), ScopeComment)
		return tokens
	}

	for pos < len(runes) {
		pos = skipSpace(runes, pos)
		if pos >= len(runes) {
			break
		}
		r := runes[pos]

		switch {
		case r == ';':
			// A statement separator followed by a comment marker ends the line.
			next := skipSpace(runes, pos+1)
			if isCommentStart(runes, next) {
				emit(next, len(runes), ScopeComment)
				return tokens
			}
			pos++
		case r == '"' || r == '\'':
			end, _ := scanString(runes, pos)
			emit(pos, end, ScopeString)
			pos = end
		case unicode.IsDigit(r):
			end := pos
			for end < len(runes) && (unicode.IsDigit(runes[end]) || runes[end] == '.') {
				end++
			}
			emit(pos, end, ScopeNumber)
			pos = end
		case isWordStart(r):
			end := pos
			for end < len(runes) && isWordPart(runes[end]) {
				end++
			}
			word := strings.ToUpper(string(runes[pos:end]))
			switch {
			case keywords[word]:
				emit(pos, end, ScopeKeyword)
			case wordOperators[word]:
				emit(pos, end, ScopeOperator)
			default:
				emit(pos, end, ScopeIdentifier)
			}
			pos = end
		default:
			if op := matchSymbol(runes, pos); op > 0 {
				emit(pos, pos+op, ScopeOperator)
				pos += op
				continue
			}
			pos++
		}
	}
	return tokens
}

// scanString returns the column after the closing quote and whether the
// string was terminated on this line.
func scanString(runes []rune, start int) (int, bool) {
	quote := runes[start]
	for i := start + 1; i < len(runes); i++ {
		if runes[i] == quote {
			return i + 1, true
		}
	}
	return len(runes), false
}

func matchSymbol(runes []rune, pos int) int {
	for _, op := range symbolOperators {
		n := len([]rune(op))
		if pos+n <= len(runes) && string(runes[pos:pos+n]) == op {
			return n
		}
	}
	return 0
}

// isCommentStart reports whether a statement beginning at pos is a remark.
func isCommentStart(runes []rune, pos int) bool {
	if pos >= len(runes) {
		return false
	}
	if runes[pos] == '*' || runes[pos] == '!' {
		return true
	}
	if pos+3 <= len(runes) && strings.EqualFold(string(runes[pos:pos+3]), "REM") {
		return pos+3 == len(runes) || !isWordPart(runes[pos+3])
	}
	return false
}

func skipSpace(runes []rune, pos int) int {
	for pos < len(runes) && unicode.IsSpace(runes[pos]) {
		pos++
	}
	return pos
}

func isWordStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '@' || r == '$'
}

func isWordPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '$'
}

func splitLines(source string) []string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	return strings.Split(source, "\n")
}
