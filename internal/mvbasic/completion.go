package mvbasic

import (
	"sort"
	"strings"
)

// Completion item kinds.
const (
	KindKeyword  = "keyword"
	KindFunction = "function"
	KindVariable = "variable"
)

type CompletionItem struct {
	Label         string `json:"label"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
	Documentation string `json:"documentation,omitempty"`
	InsertText    string `json:"insertText"`
	SortText      string `json:"sortText"`
}

type builtin struct {
	label string
	doc   string
}

var builtins = []builtin{
	{"OPEN", "Opens a file for reading or writing"},
	{"READ", "Reads data from a file"},
	{"WRITE", "Writes data to a file"},
	{"READU", "Reads a record and sets an update lock"},
	{"READV", "Reads one attribute of a record"},
	{"WRITEV", "Writes one attribute of a record"},
	{"DELETE", "Deletes a record from a file"},
	{"CLOSE", "Closes an open file"},
	{"LOCATE", "Finds the position of a value in a dynamic array"},
	{"PRINT", "Prints to the current output device"},
	{"CRT", "Prints to the terminal"},
	{"INPUT", "Reads a value from the terminal"},
	{"EXECUTE", "Runs a command from the program"},
	{"GOSUB", "Calls an internal subroutine"},
	{"CALL", "Calls an external subroutine"},
	{"RETURN", "Returns from a subroutine"},
	{"SUBROUTINE", "Declares an external subroutine"},
	{"FUNCTION", "Declares an external function"},
	{"SELECT", "Builds a select list"},
	{"READNEXT", "Reads the next id from a select list"},
	{"EQUATE", "Declares a symbolic constant"},
	{"COMMON", "Declares shared variables"},
	{"DIMENSION", "Declares a dimensioned array"},
}

// Complete returns the completions matching prefix case-insensitively:
// built-in statements, then the workspace's programs, then variables
// assigned in source. Labels appear once, in that order of precedence.
func Complete(prefix, source string, programs []string) []CompletionItem {
	items := make([]CompletionItem, 0)
	seen := make(map[string]bool)
	add := func(label, kind, detail, doc string) {
		if label == "" || seen[label] || !strings.HasPrefix(strings.ToLower(label), strings.ToLower(prefix)) {
			return
		}
		seen[label] = true
		items = append(items, CompletionItem{
			Label:         label,
			Kind:          kind,
			Detail:        detail,
			Documentation: doc,
			InsertText:    label,
			SortText:      strings.ToLower(label),
		})
	}

	for _, b := range builtins {
		add(b.label, KindKeyword, b.label+" statement", b.doc)
	}
	for _, program := range programs {
		add(program, KindFunction, "User-defined "+program, "Defined in "+program)
	}
	add("VERSION", KindVariable, "Program version", "Current program version")
	for _, name := range Variables(source) {
		add(name, KindVariable, "Variable "+name, "")
	}
	return items
}

// Variables lists identifiers assigned with "name =" at the start of a
// statement, sorted.
func Variables(source string) []string {
	found := make(map[string]bool)
	for i, line := range splitLines(source) {
		tokens := tokenizeLine(i+1, line)
		runes := []rune(line)
		for j := 0; j+1 < len(tokens); j++ {
			if j > 0 && !statementStart(runes, tokens[j-1], tokens[j]) {
				continue
			}
			if tokens[j].Scopes[0] != ScopeIdentifier || tokens[j+1].Scopes[0] != ScopeOperator {
				continue
			}
			op := string(runes[tokens[j+1].StartColumn:tokens[j+1].EndColumn])
			if op == "=" || op == "+=" || op == "-=" || op == ":=" {
				found[string(runes[tokens[j].StartColumn:tokens[j].EndColumn])] = true
			}
		}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// statementStart reports whether cur follows a ';' separator after prev.
func statementStart(runes []rune, prev, cur Token) bool {
	return strings.Contains(string(runes[prev.EndColumn:cur.StartColumn]), ";")
}
