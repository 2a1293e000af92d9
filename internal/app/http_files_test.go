package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"mveditor/api/internal/gitrepo"
)

type authedClient struct {
	t      *testing.T
	server *HTTPServer
	token  string
}

func newAuthedClient(t *testing.T, env *testEnv) *authedClient {
	t.Helper()
	server := NewHTTPServer(env.service, HTTPOptions{})
	return &authedClient{t: t, server: server, token: mustLogin(t, server).AccessToken}
}

func (c *authedClient) do(method, target, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	c.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
}

func TestFilesCRUDOverHTTP(t *testing.T) {
	client := newAuthedClient(t, newTestEnv())

	rr := client.do(http.MethodPost, "/files/BP/MAIN", `{"content":"PRINT 1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = client.do(http.MethodPost, "/files/BP/MAIN", `{"content":"PRINT 1"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	rr = client.do(http.MethodPut, "/files/BP/MAIN", `{"content":"PRINT 2","version":"25.05.01.1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = client.do(http.MethodGet, "/files/BP/MAIN", "")
	var file FileView
	decodeInto(t, rr, &file)
	if file.Content != "PRINT 2" || file.Version != "25.05.01.1" || file.WorkspaceID != DefaultWorkspaceID {
		t.Fatalf("unexpected file %+v", file)
	}

	rr = client.do(http.MethodGet, "/files/?path=BP/", "")
	var listing []FileInfo
	decodeInto(t, rr, &listing)
	if len(listing) != 1 || listing[0].Name != "BP/MAIN" || listing[0].Size != 7 {
		t.Fatalf("unexpected listing %+v", listing)
	}

	rr = client.do(http.MethodGet, "/files/BP/MAIN/history", "")
	var history []HistoryEntry
	decodeInto(t, rr, &history)
	if len(history) != 2 || history[0].Action != gitrepo.ActionUpdated {
		t.Fatalf("unexpected history %+v", history)
	}

	rr = client.do(http.MethodDelete, "/files/BP/MAIN", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = client.do(http.MethodGet, "/files/BP/MAIN", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestFilesAreScopedByWorkspace(t *testing.T) {
	env := newTestEnv()
	client := newAuthedClient(t, env)

	rr := client.do(http.MethodPost, "/workspace/", `{"id":"payroll","name":"Payroll"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = client.do(http.MethodPost, "/files/MAIN?workspace_id=payroll", `{"content":"CRT 'payroll'"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = client.do(http.MethodPost, "/files/MAIN", `{"content":"CRT 'default'"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for same id in another workspace, got %d", rr.Code)
	}

	rr = client.do(http.MethodGet, "/files/MAIN?workspace_id=payroll", "")
	var file FileView
	decodeInto(t, rr, &file)
	if file.Content != "CRT 'payroll'" {
		t.Fatalf("unexpected content %q", file.Content)
	}
}

func TestWorkspaceRoutes(t *testing.T) {
	client := newAuthedClient(t, newTestEnv())

	rr := client.do(http.MethodGet, "/workspace/", "")
	var items []WorkspaceView
	decodeInto(t, rr, &items)
	if len(items) != 1 || items[0].ID != DefaultWorkspaceID {
		t.Fatalf("unexpected workspaces %+v", items)
	}

	rr = client.do(http.MethodPut, "/workspace/default", `{"description":"shared"}`)
	var updated WorkspaceView
	decodeInto(t, rr, &updated)
	if updated.Description != "shared" || updated.ActiveUsers == nil {
		t.Fatalf("unexpected workspace %+v", updated)
	}

	rr = client.do(http.MethodGet, "/workspace/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	rr = client.do(http.MethodPatch, "/workspace/default", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestInitRouteIsIdempotent(t *testing.T) {
	client := newAuthedClient(t, newTestEnv())

	var response struct {
		Status    string        `json:"status"`
		Created   bool          `json:"created"`
		Workspace WorkspaceView `json:"workspace"`
	}
	rr := client.do(http.MethodPost, "/init?workspace_id=payroll", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	decodeInto(t, rr, &response)
	if response.Status != "success" || !response.Created || response.Workspace.ID != "payroll" {
		t.Fatalf("unexpected init response %+v", response)
	}

	rr = client.do(http.MethodPost, "/init?workspace_id=payroll", "")
	response.Created = true
	decodeInto(t, rr, &response)
	if rr.Code != http.StatusOK || response.Created {
		t.Fatalf("expected second init to report existing workspace, got %d %+v", rr.Code, response)
	}

	rr = client.do(http.MethodPost, "/init", "")
	decodeInto(t, rr, &response)
	if response.Created || response.Workspace.ID != DefaultWorkspaceID {
		t.Fatalf("expected default workspace to already exist, got %+v", response)
	}
}

func TestEditorRoutes(t *testing.T) {
	client := newAuthedClient(t, newTestEnv())
	client.do(http.MethodPost, "/files/MAIN", `{"content":"LOOP\n  CRT \"x\"\n"}`)

	rr := client.do(http.MethodPost, "/editor/syntax?file_id=MAIN", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var tokens []map[string]any
	decodeInto(t, rr, &tokens)
	if len(tokens) == 0 {
		t.Fatal("expected tokens")
	}
	if _, ok := tokens[0]["startColumn"]; !ok {
		t.Fatalf("expected camelCase token fields, got %v", tokens[0])
	}

	rr = client.do(http.MethodPost, "/editor/validate?file_id=MAIN", "")
	var result struct {
		Valid  bool             `json:"valid"`
		Errors []map[string]any `json:"errors"`
	}
	decodeInto(t, rr, &result)
	if result.Valid || len(result.Errors) == 0 {
		t.Fatalf("expected unterminated LOOP to be reported, got %+v", result)
	}

	rr = client.do(http.MethodPost, "/editor/completion", `{"file_id":"MAIN","prefix":"LO"}`)
	var items []map[string]any
	decodeInto(t, rr, &items)
	labels := map[any]bool{}
	for _, item := range items {
		labels[item["label"]] = true
	}
	if !labels["LOCATE"] || labels["CRT"] {
		t.Fatalf("unexpected completions %v", items)
	}

	rr = client.do(http.MethodPost, "/editor/syntax", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	rr = client.do(http.MethodPost, "/editor/syntax?file_id=MISSING", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestSearchRoute(t *testing.T) {
	client := newAuthedClient(t, newTestEnv())
	client.do(http.MethodPost, "/files/MAIN", `{"content":"CALL PAYROLL.RUN"}`)

	rr := client.do(http.MethodGet, "/search?q=PAYROLL", "")
	var response struct {
		Results []map[string]any `json:"results"`
		Total   int              `json:"total"`
		Query   string           `json:"query"`
	}
	decodeInto(t, rr, &response)
	if response.Total != 1 || response.Query != "PAYROLL" {
		t.Fatalf("unexpected search response %+v", response)
	}

	rr = client.do(http.MethodGet, "/search?q=x&limit=ten", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}
