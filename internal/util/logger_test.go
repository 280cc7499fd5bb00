package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCleanOldLogs_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"mori_2026-01-01.log", "mori_2026-01-02.log", "mori_2026-01-03.log", "other.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	cleanOldLogs(dir, 2)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	want := []string{"mori_2026-01-02.log", "mori_2026-01-03.log", "other.log"}
	if len(got) != len(want) {
		t.Fatalf("files=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("files=%v want %v", got, want)
		}
	}
}
