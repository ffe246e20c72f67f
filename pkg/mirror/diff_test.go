// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func testDiffConfig(t *testing.T) *Config {
	t.Helper()
	base := t.TempDir()
	cfg := &Config{
		MirrorPath:       filepath.Join(base, "mirror"),
		SkelPath:         filepath.Join(base, "skel"),
		VarPath:          filepath.Join(base, "var"),
		DiffStoragePath:  filepath.Join(base, "diffs"),
		DiffAlgorithm:    "xdelta3",
		MaxDiffSizeRatio: 0.5,
		EnableDiffs:      true,
	}
	for _, dir := range []string{cfg.MirrorPath, cfg.VarPath, cfg.DiffStoragePath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func TestVersionDatabaseRoundTrip(t *testing.T) {
	cfg := testDiffConfig(t)
	d := &differ{cfg: cfg}
	want := map[string]VersionRecord{
		"r.example/pool/a.deb": {Path: "r.example/pool/a.deb", Size: 5678, SHA256: "aa", Timestamp: 1700000000.5},
	}
	if err := d.saveVersions(want); err != nil {
		t.Fatal(err)
	}
	got := d.loadVersions()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	// The rewrite must be atomic: no temp files left behind.
	entries, err := os.ReadDir(cfg.VarPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != versionDBName {
		t.Errorf("var/ contents = %v, want only %s", entries, versionDBName)
	}
}

func TestLoadVersionsMissingOrCorrupt(t *testing.T) {
	cfg := testDiffConfig(t)
	d := &differ{cfg: cfg}
	if got := d.loadVersions(); len(got) != 0 {
		t.Errorf("missing DB should load empty, got %v", got)
	}
	if err := os.WriteFile(filepath.Join(cfg.VarPath, versionDBName), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := d.loadVersions(); len(got) != 0 {
		t.Errorf("corrupt DB should load empty, got %v", got)
	}
}

func TestGenerateRecordsVersions(t *testing.T) {
	cfg := testDiffConfig(t)
	d := &differ{cfg: cfg}
	published := filepath.Join(cfg.MirrorPath, "r.example/pool/a.deb")
	if err := os.MkdirAll(filepath.Dir(published), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(published, []byte("version one"), 0644); err != nil {
		t.Fatal(err)
	}
	tasks := []FetchTask{{CanonicalPath: "r.example/pool/a.deb", Stage: StageArchive}}
	if err := d.Generate(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
	versions := d.loadVersions()
	record, ok := versions["r.example/pool/a.deb"]
	if !ok {
		t.Fatal("version record missing after run")
	}
	want := VersionRecord{
		Path:   "r.example/pool/a.deb",
		Size:   int64(len("version one")),
		SHA256: sha256Hex([]byte("version one")),
	}
	ignoreTime := cmpopts.IgnoreFields(VersionRecord{}, "Timestamp")
	if diff := cmp.Diff(want, record, ignoreTime); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if record.Timestamp <= 0 {
		t.Error("timestamp not recorded")
	}
}

func TestGenerateDiffOnChange(t *testing.T) {
	if _, err := exec.LookPath("xdelta3"); err != nil {
		t.Skip("xdelta3 not installed")
	}
	cfg := testDiffConfig(t)
	d := &differ{cfg: cfg}
	published := filepath.Join(cfg.MirrorPath, "r.example/pool/a.deb")
	if err := os.MkdirAll(filepath.Dir(published), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(published, []byte("version one"), 0644); err != nil {
		t.Fatal(err)
	}
	tasks := []FetchTask{{CanonicalPath: "r.example/pool/a.deb", Stage: StageArchive}}
	if err := d.Generate(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(published, []byte("version two"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := d.Generate(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
	// A same-size rewrite produces a delta no smaller than half the new
	// file, so the ratio check must have deleted it either way; what must
	// hold is the updated version record.
	versions := d.loadVersions()
	if got := versions["r.example/pool/a.deb"].SHA256; got != sha256Hex([]byte("version two")) {
		t.Errorf("version record not updated: %q", got)
	}
}

func TestCreateDiffUnknownAlgorithm(t *testing.T) {
	cfg := testDiffConfig(t)
	cfg.DiffAlgorithm = "zpaq"
	d := &differ{cfg: cfg}
	if _, err := d.createDiff(context.Background(), "old", "new", filepath.Join(cfg.DiffStoragePath, "out")); err == nil {
		t.Error("unknown algorithm must error")
	}
}

func TestVersionDatabaseFormat(t *testing.T) {
	cfg := testDiffConfig(t)
	d := &differ{cfg: cfg}
	if err := d.saveVersions(map[string]VersionRecord{
		"p": {Path: "p", Size: 1, SHA256: "ab", Timestamp: 2},
	}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.VarPath, versionDBName))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("version DB is not valid JSON: %v", err)
	}
	if _, ok := decoded["p"]["hash"]; !ok {
		t.Error(`record missing "hash" key`)
	}
}
