package buildcheck_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AngellusMortis/ark-operator/internal/buildcheck"
)

func TestLocalBuildIDMissingManifest(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := buildcheck.LocalBuildID(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing manifest")
	}
}

func TestLocalBuildIDParsesManifest(t *testing.T) {
	dir := t.TempDir()
	manifestDir := filepath.Join(dir, "steamapps")
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "\"AppState\"\n{\n\t\"appid\"\t\t\"2430930\"\n\t\"buildid\"\t\t\"18238471\"\n}\n"
	path := filepath.Join(manifestDir, "appmanifest_2430930.acf")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	buildID, ok, err := buildcheck.LocalBuildID(dir)
	if err != nil {
		t.Fatalf("LocalBuildID: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if buildID != 18238471 {
		t.Fatalf("got buildid %d, want 18238471", buildID)
	}
}

func TestNeedsUpdate(t *testing.T) {
	if buildcheck.NeedsUpdate(100, 100) {
		t.Fatal("equal build ids should not need update")
	}
	if !buildcheck.NeedsUpdate(100, 101) {
		t.Fatal("newer latest build id should need update")
	}
	if buildcheck.NeedsUpdate(101, 100) {
		t.Fatal("older latest build id should not need update")
	}
}
