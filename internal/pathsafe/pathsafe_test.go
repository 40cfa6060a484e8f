package pathsafe

import (
	"strings"
	"testing"

	"github.com/fleetsupervisor/fleetd/internal/errs"
)

func TestValidIdentifier(t *testing.T) {
	cases := map[string]bool{
		"a":        true,
		"writer":   true,
		"job-123":  true,
		"job_123":  true,
		"":         false,
		"../evil":  false,
		"/abs":     false,
		"-leading": false,
		"has space": false,
	}
	for id, want := range cases {
		if got := ValidIdentifier(id); got != want {
			t.Errorf("ValidIdentifier(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestBuildSafeFilePathValid(t *testing.T) {
	path, err := BuildSafeFilePath("/tmp/state/jobs", "job-2026-01-01-abc123", ".jsonl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(path, "job-2026-01-01-abc123.jsonl") {
		t.Errorf("unexpected path: %s", path)
	}
}

func TestBuildSafeFilePathRejectsTraversal(t *testing.T) {
	_, err := BuildSafeFilePath("/tmp/state/jobs", "../evil", ".jsonl")
	if err == nil {
		t.Fatal("expected error for traversal identifier")
	}
	if errs.KindOf(err) != errs.KindInvalid {
		t.Errorf("expected KindInvalid, got %v", errs.KindOf(err))
	}
}

func TestBuildSafeFilePathRejectsEmpty(t *testing.T) {
	if _, err := BuildSafeFilePath("/tmp/state/jobs", "", ".jsonl"); err == nil {
		t.Fatal("expected error for empty identifier")
	}
}
