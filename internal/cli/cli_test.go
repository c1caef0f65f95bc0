package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smartnotes/internal/config"
	"smartnotes/internal/search"
)

const seedJSON = `{
	"groups": [{"id": 1, "name": "Linear Algebra", "ownerId": 100, "members": [200]}],
	"folders": [{"id": 10, "groupId": 1, "name": "Week 1"}],
	"resources": [
		{"id": 5, "folderId": 10, "title": "Elimination", "type": "notes", "data": "# Row Reduction\n\nPivot on each row."},
		{"id": 6, "folderId": 10, "title": "Lecture Video", "type": "video", "data": "lecture.mp4"}
	]
}`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(seed, []byte(seedJSON), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	t.Setenv("SMARTNOTES_STORE", config.StoreMemory)
	t.Setenv("REDIS_URL", "")
	t.Setenv("MINIO_ENDPOINT", "")
	t.Setenv("KEYPHRASE_URL", "")
	t.Setenv("SMARTNOTES_FILES_DIR", t.TempDir())

	previous := loadConfig
	loadConfig = config.FromEnv
	t.Cleanup(func() {
		loadConfig = previous
		seedPath = ""
	})

	var out bytes.Buffer
	root := NewCLI()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--seed", seed))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueueWaitsForKeywords(t *testing.T) {
	out, err := runCLI(t, "enqueue", "5")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "resource 5: queued") {
		t.Fatalf("missing status line in %q", out)
	}
	if !strings.Contains(out, "keywords: Row Reduction") {
		t.Fatalf("missing keywords in %q", out)
	}
}

func TestEnqueueReportsParkedFailure(t *testing.T) {
	out, err := runCLI(t, "enqueue", "6")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "indexing failed") {
		t.Fatalf("expected failure report, got %q", out)
	}
}

func TestEnqueueMissingResource(t *testing.T) {
	out, err := runCLI(t, "enqueue", "99")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "resource 99: not-found") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEnqueueRejectsBadID(t *testing.T) {
	if _, err := runCLI(t, "enqueue", "abc"); err == nil {
		t.Fatal("expected an error for a non-numeric id")
	}
}

func TestSearchRequiresExactlyOneScope(t *testing.T) {
	if _, err := runCLI(t, "search", "pivot"); err == nil {
		t.Fatal("expected an error without --folder or --group")
	}
	if _, err := runCLI(t, "search", "--folder", "10", "--group", "1", "pivot"); err == nil {
		t.Fatal("expected an error with both scopes")
	}
}

func TestSearchOnEmptyIndex(t *testing.T) {
	out, err := runCLI(t, "search", "--group", "1", "pivot")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if strings.TrimSpace(out) != search.NoResultsMessage {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueueOnEmptyStore(t *testing.T) {
	out, err := runCLI(t, "queue")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !strings.Contains(out, "empty") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMigrateNeedsPostgres(t *testing.T) {
	if _, err := runCLI(t, "migrate"); err == nil {
		t.Fatal("expected migrate to refuse the memory store")
	}
}

func TestWriteResultsRendersTable(t *testing.T) {
	var out bytes.Buffer
	writeResults(&out, search.Response{
		Found: true,
		Results: []search.Result{
			{ID: 5, FolderID: 10, Title: "Elimination", Type: "notes", Score: 2, Rating: "4.5/5", Keywords: []string{"pivot"}},
		},
	})
	for _, want := range []string{"Elimination", "4.5/5", "pivot"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in table:\n%s", want, out.String())
		}
	}
}
