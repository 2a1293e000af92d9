package mvbasic

import (
	"fmt"
	"strings"
)

const SeverityError = "error"

type Diagnostic struct {
	Line     int    `json:"line"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type Result struct {
	Valid  bool         `json:"valid"`
	Errors []Diagnostic `json:"errors"`
}

type block struct {
	kind string
	line int
}

// Validate checks string termination and block structure: FOR/NEXT,
// LOOP/REPEAT, BEGIN CASE/END CASE and multi-line IF ... THEN/ELSE ... END.
func Validate(source string) Result {
	var errs []Diagnostic
	var stack []block
	report := func(line int, format string, args ...any) {
		errs = append(errs, Diagnostic{Line: line, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
	}
	pop := func(line int, want, closer string) {
		if len(stack) == 0 || stack[len(stack)-1].kind != want {
			report(line, "%s without matching %s", closer, want)
			return
		}
		stack = stack[:len(stack)-1]
	}

	for i, line := range splitLines(source) {
		lineNum := i + 1
		runes := []rune(line)
		for _, tok := range tokenizeLine(lineNum, line) {
			if tok.Scopes[0] == ScopeString {
				if _, ok := scanString(runes, tok.StartColumn); !ok {
					report(lineNum, "unterminated string")
				}
			}
		}

		for _, stmt := range statements(lineNum, line) {
			if len(stmt) == 0 {
				continue
			}
			first, last := stmt[0], stmt[len(stmt)-1]
			switch {
			case first == "FOR":
				stack = append(stack, block{kind: "FOR", line: lineNum})
			case first == "NEXT":
				pop(lineNum, "FOR", "NEXT")
			case first == "LOOP":
				stack = append(stack, block{kind: "LOOP", line: lineNum})
			case first == "REPEAT":
				pop(lineNum, "LOOP", "REPEAT")
			case first == "BEGIN" && len(stmt) > 1 && stmt[1] == "CASE":
				stack = append(stack, block{kind: "CASE", line: lineNum})
			case first == "END" && len(stmt) > 1 && stmt[1] == "CASE":
				pop(lineNum, "CASE", "END CASE")
			case first == "END" && len(stmt) == 1:
				if len(stack) > 0 && stack[len(stack)-1].kind == "IF" {
					stack = stack[:len(stack)-1]
				}
			case first == "END" && last == "ELSE":
				pop(lineNum, "IF", "END ELSE")
				stack = append(stack, block{kind: "IF", line: lineNum})
			case last == "THEN" || last == "ELSE":
				stack = append(stack, block{kind: "IF", line: lineNum})
			}
		}
	}

	for _, open := range stack {
		switch open.kind {
		case "FOR":
			report(open.line, "FOR without NEXT")
		case "LOOP":
			report(open.line, "LOOP without REPEAT")
		case "CASE":
			report(open.line, "BEGIN CASE without END CASE")
		default:
			report(open.line, "%s block without END", open.kind)
		}
	}

	if errs == nil {
		errs = []Diagnostic{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// statements returns the upper-cased keyword and identifier words of each
// ';'-separated statement on the line, ignoring comments and strings.
func statements(lineNum int, line string) [][]string {
	runes := []rune(line)
	var out [][]string
	var current []string
	prevEnd := 0
	for _, tok := range tokenizeLine(lineNum, line) {
		if strings.Contains(string(runes[prevEnd:tok.StartColumn]), ";") {
			out = append(out, current)
			current = nil
		}
		prevEnd = tok.EndColumn
		switch tok.Scopes[0] {
		case ScopeComment:
			continue
		case ScopeKeyword, ScopeIdentifier:
			current = append(current, strings.ToUpper(string(runes[tok.StartColumn:tok.EndColumn])))
		default:
			current = append(current, "")
		}
	}
	return append(out, current)
}
