package mvbasic

import (
	"reflect"
	"testing"
)

func scopesOf(tokens []Token) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tok.Scopes[0])
	}
	return out
}

func TestTokenizeStatement(t *testing.T) {
	tokens := Tokenize(`OPEN "CUSTOMERS" TO F.CUST ELSE STOP`)
	want := []string{ScopeKeyword, ScopeString, ScopeKeyword, ScopeIdentifier, ScopeKeyword, ScopeKeyword}
	if got := scopesOf(tokens); !reflect.DeepEqual(got, want) {
		t.Fatalf("scopes = %v, want %v", got, want)
	}
	str := tokens[1]
	if str.Line != 1 || str.StartColumn != 5 || str.EndColumn != 16 {
		t.Fatalf("unexpected string span %+v", str)
	}
}

func TestTokenizeKeywordPrefixIsIdentifier(t *testing.T) {
	tokens := Tokenize("READER = 1")
	if got := scopesOf(tokens); !reflect.DeepEqual(got, []string{ScopeIdentifier, ScopeOperator, ScopeNumber}) {
		t.Fatalf("unexpected scopes %v", got)
	}
	if tokens[0].EndColumn != 6 {
		t.Fatalf("expected identifier to span the whole word, got %+v", tokens[0])
	}
}

func TestTokenizeOperatorsAndNumbers(t *testing.T) {
	tokens := Tokenize("IF TOTAL >= 10.5 AND X NE Y THEN")
	want := []string{ScopeKeyword, ScopeIdentifier, ScopeOperator, ScopeNumber, ScopeKeyword, ScopeIdentifier, ScopeOperator, ScopeIdentifier, ScopeKeyword}
	if got := scopesOf(tokens); !reflect.DeepEqual(got, want) {
		t.Fatalf("scopes = %v, want %v", got, want)
	}
	if tokens[2].EndColumn-tokens[2].StartColumn != 2 {
		t.Fatalf("expected two character operator, got %+v", tokens[2])
	}
}

func TestTokenizeComments(t *testing.T) {
	tokens := Tokenize("* header\nX = 1 ; * trailing\nREM note\n  ! bang")
	want := []Token{
		{Line: 1, StartColumn: 0, EndColumn: 8, Scopes: []string{ScopeComment}},
		{Line: 2, StartColumn: 0, EndColumn: 1, Scopes: []string{ScopeIdentifier}},
		{Line: 2, StartColumn: 2, EndColumn: 3, Scopes: []string{ScopeOperator}},
		{Line: 2, StartColumn: 4, EndColumn: 5, Scopes: []string{ScopeNumber}},
		{Line: 2, StartColumn: 8, EndColumn: 18, Scopes: []string{ScopeComment}},
		{Line: 3, StartColumn: 0, EndColumn: 8, Scopes: []string{ScopeComment}},
		{Line: 4, StartColumn: 2, EndColumn: 8, Scopes: []string{ScopeComment}},
	}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %+v\nwant %+v", tokens, want)
	}
}

func TestTokenizeUnterminatedStringRunsToEndOfLine(t *testing.T) {
	tokens := Tokenize("PRINT 'abc\nEND")
	if tokens[1].Scopes[0] != ScopeString || tokens[1].EndColumn != 10 {
		t.Fatalf("unexpected string token %+v", tokens[1])
	}
	if tokens[2].Line != 2 || tokens[2].Scopes[0] != ScopeKeyword {
		t.Fatalf("expected END on line 2, got %+v", tokens[2])
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if tokens := Tokenize(""); tokens == nil || len(tokens) != 0 {
		t.Fatalf("expected empty non-nil tokens, got %#v", tokens)
	}
}

func TestCompleteFiltersByPrefix(t *testing.T) {
	source := "TOTAL = 0\nFOR I = 1 TO 10 ; TAX = I\nNEXT I"
	items := Complete("t", source, []string{"TAX.CALC", "MAIN"})

	var labels []string
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	want := []string{"TAX.CALC", "TAX", "TOTAL"}
	if !reflect.DeepEqual(labels, want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	if items[0].Kind != KindFunction || items[0].SortText != "tax.calc" || items[0].InsertText != "TAX.CALC" {
		t.Fatalf("unexpected program item %+v", items[0])
	}
}

func TestCompleteBuiltins(t *testing.T) {
	items := Complete("Wr", "", nil)
	if len(items) != 2 || items[0].Label != "WRITE" || items[1].Label != "WRITEV" {
		t.Fatalf("unexpected items %+v", items)
	}
	if items[0].Kind != KindKeyword || items[0].Detail != "WRITE statement" || items[0].Documentation == "" {
		t.Fatalf("unexpected builtin %+v", items[0])
	}
}

func TestCompleteDeduplicates(t *testing.T) {
	items := Complete("VERSION", "VERSION = 2", []string{"VERSION"})
	if len(items) != 1 || items[0].Kind != KindFunction {
		t.Fatalf("expected a single program entry, got %+v", items)
	}
}

func TestCompleteEmptyPrefixListsEverything(t *testing.T) {
	items := Complete("", "", []string{"MAIN"})
	if len(items) != len(builtins)+2 {
		t.Fatalf("expected %d items, got %d", len(builtins)+2, len(items))
	}
}

func TestVariables(t *testing.T) {
	got := Variables("A = 1\nIF A = 1 THEN B = 2\nC += 1 ; D = 4\nPRINT E")
	if want := []string{"A", "C", "D"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("variables = %v, want %v", got, want)
	}
}

func TestValidateWellFormed(t *testing.T) {
	source := `* program
OPEN "CUSTOMERS" TO F ELSE STOP
FOR I = 1 TO 10
  READ REC FROM F, I THEN
    PRINT REC
  END ELSE
    PRINT "missing"
  END
NEXT I
LOOP
  READNEXT ID ELSE EXIT
REPEAT
BEGIN CASE
  CASE X = 1 ; PRINT 1
END CASE
END`
	result := Validate(source)
	if !result.Valid || len(result.Errors) != 0 {
		t.Fatalf("expected valid program, got %+v", result.Errors)
	}
}

func TestValidateReportsStructureErrors(t *testing.T) {
	source := "FOR I = 1 TO 3\nPRINT \"oops\nREPEAT\nIF X THEN\n"
	result := Validate(source)
	if result.Valid {
		t.Fatal("expected invalid program")
	}
	want := []Diagnostic{
		{Line: 2, Message: "unterminated string", Severity: SeverityError},
		{Line: 3, Message: "REPEAT without matching LOOP", Severity: SeverityError},
		{Line: 1, Message: "FOR without NEXT", Severity: SeverityError},
		{Line: 4, Message: "IF block without END", Severity: SeverityError},
	}
	if !reflect.DeepEqual(result.Errors, want) {
		t.Fatalf("errors = %+v\nwant %+v", result.Errors, want)
	}
}

func TestValidateStrayNext(t *testing.T) {
	result := Validate("NEXT I")
	if result.Valid || len(result.Errors) != 1 || result.Errors[0].Message != "NEXT without matching FOR" {
		t.Fatalf("unexpected result %+v", result)
	}
}
