// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/apt-mirror/internal/syncx"
	"github.com/google/go-cmp/cmp"
)

func TestStaleFiles(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{
		MirrorPath: filepath.Join(base, "mirror"),
		CleanDirs:  []string{"r.example"},
		SkipClean:  []string{"r.example/keep"},
	}
	for _, rel := range []string{
		"r.example/pool/live.deb",
		"r.example/pool/stale.deb",
		"r.example/keep/anything.deb",
		"other.example/pool/untouched.deb",
	} {
		path := filepath.Join(cfg.MirrorPath, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	var skipClean syncx.Set[string]
	skipClean.Add("r.example/pool/live.deb")

	stale, err := staleFiles(cfg, &skipClean)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"r.example/pool/stale.deb"}, stale); diff != "" {
		t.Errorf("stale set mismatch (-want +got):\n%s", diff)
	}
}

func TestAutoClean(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{
		MirrorPath: filepath.Join(base, "mirror"),
		CleanDirs:  []string{"r.example"},
	}
	stalePath := filepath.Join(cfg.MirrorPath, "r.example/pool/old/stale.deb")
	if err := os.MkdirAll(filepath.Dir(stalePath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stalePath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	autoClean(cfg, []string{"r.example/pool/old/stale.deb"})
	if fileExists(stalePath) {
		t.Error("stale file survived autoclean")
	}
	if fileExists(filepath.Join(cfg.MirrorPath, "r.example/pool/old")) {
		t.Error("empty directory survived autoclean")
	}
}

func TestRunPostMirrorExecutesScript(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	script := filepath.Join(dir, "postmirror.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ntouch "+marker+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	runPostMirror(&Config{PostMirrorScript: script})
	if !fileExists(marker) {
		t.Error("postmirror script did not run")
	}
}

func TestRunPostMirrorNonExecutableFallsBackToShell(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	script := filepath.Join(dir, "postmirror.sh")
	if err := os.WriteFile(script, []byte("touch "+marker+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runPostMirror(&Config{PostMirrorScript: script})
	if !fileExists(marker) {
		t.Error("postmirror script did not run via /bin/sh")
	}
}

func TestRunPostMirrorMissingScript(t *testing.T) {
	// Absent or empty hooks are warnings, never failures.
	runPostMirror(&Config{PostMirrorScript: ""})
	runPostMirror(&Config{PostMirrorScript: filepath.Join(t.TempDir(), "absent.sh")})
}
