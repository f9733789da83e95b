package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func writeContainer(t *testing.T, root, id, name string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+"-json.log"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if name != "" {
		cfg := `{"Name":"/` + name + `"}`
		if err := os.WriteFile(filepath.Join(dir, "config.v2.json"), []byte(cfg), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
}

func TestDiscoverFindsLogFilesAndNames(t *testing.T) {
	root := t.TempDir()
	writeContainer(t, root, "bbb222", "web")
	writeContainer(t, root, "aaa111", "worker")

	got, err := Discover(root, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(got))
	}
	// Stable lexical order by id.
	if got[0].ID != "aaa111" || got[1].ID != "bbb222" {
		t.Errorf("expected lexical order by id, got %v, %v", got[0].ID, got[1].ID)
	}
	if got[0].Name != "worker" || got[1].Name != "web" {
		t.Errorf("unexpected names: %+v", got)
	}
}

func TestDiscoverFallsBackToIDWithoutConfig(t *testing.T) {
	root := t.TempDir()
	writeContainer(t, root, "ccc333", "")

	got, err := Discover(root, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Name != "ccc333" {
		t.Fatalf("expected name to fall back to id, got %+v", got)
	}
}

func TestDiscoverSkipsDirsWithoutLogFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "nologs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeContainer(t, root, "hasLogs", "svc")

	got, err := Discover(root, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].ID != "hasLogs" {
		t.Fatalf("expected only the container with a log file, got %+v", got)
	}
}

func TestDiscoverAppliesAllowList(t *testing.T) {
	root := t.TempDir()
	writeContainer(t, root, "aaa", "web")
	writeContainer(t, root, "bbb", "worker")

	got, err := Discover(root, map[string]struct{}{"web": {}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Name != "web" {
		t.Fatalf("expected allow-list to filter to web only, got %+v", got)
	}
}
