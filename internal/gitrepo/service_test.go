package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileHistoryLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	created, err := svc.Record("ws-1", Revision{
		FileID:  "BP/MAIN.PROG",
		Content: "PRINT \"HELLO\"\nEND\n",
		Version: "25.04.46.1",
		Action:  ActionCreated,
		Author:  "Avery Lane",
	})
	if err != nil {
		t.Fatalf("Record(created) error = %v", err)
	}
	if created.Hash == "" || created.Added != 2 {
		t.Fatalf("unexpected created entry %+v", created)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "ws-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	if _, err := svc.Record("ws-1", Revision{
		FileID:  "OTHER.PROG",
		Content: "END\n",
		Version: "1",
		Action:  ActionCreated,
		Author:  "Avery Lane",
	}); err != nil {
		t.Fatalf("Record(other) error = %v", err)
	}

	updated, err := svc.Record("ws-1", Revision{
		FileID:  "BP/MAIN.PROG",
		Content: "PRINT \"HELLO WORLD\"\nEND\n",
		Version: "25.04.46.2",
		Action:  ActionUpdated,
		Author:  "Blake",
	})
	if err != nil {
		t.Fatalf("Record(updated) error = %v", err)
	}
	if updated.Added != 1 || updated.Removed != 1 {
		t.Fatalf("expected +1 -1, got %s", updated.Changes())
	}

	history, err := svc.History("ws-1", "BP/MAIN.PROG", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Action != ActionUpdated || history[0].Version != "25.04.46.2" || history[0].User != "Blake" {
		t.Fatalf("unexpected newest entry %+v", history[0])
	}
	if history[1].Action != ActionCreated || history[1].User != "Avery Lane" {
		t.Fatalf("unexpected oldest entry %+v", history[1])
	}

	content, err := svc.ContentAt("ws-1", "BP/MAIN.PROG", history[1].Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if content != "PRINT \"HELLO\"\nEND\n" {
		t.Fatalf("unexpected content %q", content)
	}

	deleted, err := svc.Record("ws-1", Revision{FileID: "BP/MAIN.PROG", Version: "25.04.46.2", Action: ActionDeleted, Author: "Blake"})
	if err != nil {
		t.Fatalf("Record(deleted) error = %v", err)
	}
	if deleted.Removed != 2 {
		t.Fatalf("expected two removed lines, got %s", deleted.Changes())
	}

	limited, err := svc.History("ws-1", "BP/MAIN.PROG", 1)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 1 || limited[0].Action != ActionDeleted {
		t.Fatalf("unexpected limited history %+v", limited)
	}
}

func TestHistoryForUnknownWorkspace(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("missing", "A.PROG", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d", len(history))
	}
}

func TestConcurrentRecordsAreSerialized(t *testing.T) {
	svc := New(t.TempDir())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Record("ws-1", Revision{
				FileID:  fmt.Sprintf("F%d", i),
				Content: fmt.Sprintf("line %d\n", i),
				Version: "1",
				Action:  ActionCreated,
				Author:  "Avery",
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Record() error = %v", err)
	}

	for i := 0; i < 8; i++ {
		history, err := svc.History("ws-1", fmt.Sprintf("F%d", i), 0)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("expected one entry for F%d, got %d", i, len(history))
		}
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Avery Lane"); got != "Avery.Lane" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := sanitizeEmail("@@"); got != "user" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
