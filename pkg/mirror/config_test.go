// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.list")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(writeConfig(t, `
# comment
set base_path /srv/apt-mirror
set nthreads 8
set retry_delay 0.5
set verify_checksums off
set defaultarch amd64
set _tilde 1

deb http://archive.ubuntu.com/ubuntu noble main universe
deb-i386 http://archive.ubuntu.com/ubuntu noble main
deb [arch=arm64] http://ports.ubuntu.com/ubuntu-ports noble main
deb-src http://archive.ubuntu.com/ubuntu noble main
deb http://flat.example/ packages/

clean http://archive.ubuntu.com/ubuntu
skip-clean http://archive.ubuntu.com/ubuntu/dists/noble-keep

bogus directive here
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BasePath != "/srv/apt-mirror" {
		t.Errorf("BasePath = %q", cfg.BasePath)
	}
	if cfg.MirrorPath != "/srv/apt-mirror/mirror" {
		t.Errorf("MirrorPath = %q, substitution failed", cfg.MirrorPath)
	}
	if cfg.SkelPath != "/srv/apt-mirror/skel" {
		t.Errorf("SkelPath = %q", cfg.SkelPath)
	}
	if cfg.CleanScript != "/srv/apt-mirror/var/clean.sh" {
		t.Errorf("CleanScript = %q", cfg.CleanScript)
	}
	if cfg.NThreads != 8 {
		t.Errorf("NThreads = %d", cfg.NThreads)
	}
	if cfg.RetryDelay != 500*time.Millisecond {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
	if cfg.VerifyChecksums {
		t.Error("VerifyChecksums = true, want false")
	}
	if !cfg.Tilde {
		t.Error("Tilde = false, want true")
	}
	wantRepos := []RepoSpec{
		{Kind: BinaryRepo, URI: "http://archive.ubuntu.com/ubuntu", Distribution: "noble", Components: []string{"main", "universe"}, Arch: "amd64"},
		{Kind: BinaryRepo, URI: "http://archive.ubuntu.com/ubuntu", Distribution: "noble", Components: []string{"main"}, Arch: "i386"},
		{Kind: BinaryRepo, URI: "http://ports.ubuntu.com/ubuntu-ports", Distribution: "noble", Components: []string{"main"}, Arch: "arm64"},
		{Kind: SourceRepo, URI: "http://archive.ubuntu.com/ubuntu", Distribution: "noble", Components: []string{"main"}},
		{Kind: BinaryRepo, URI: "http://flat.example/", Distribution: "packages/", Arch: "amd64"},
	}
	if diff := cmp.Diff(wantRepos, cfg.Repos, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("repos mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Repos[4].Flat() {
		t.Error("flat repo not detected")
	}
	if diff := cmp.Diff([]string{"archive.ubuntu.com/ubuntu"}, cfg.CleanDirs); diff != "" {
		t.Errorf("clean dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfigMissingFile(t *testing.T) {
	_, err := ParseConfig(filepath.Join(t.TempDir(), "absent.list"))
	if !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestResolveVarsDivergence(t *testing.T) {
	_, err := ParseConfig(writeConfig(t, `
set base_path $mirror_path
set defaultarch amd64
`))
	if !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig for divergent substitution", err)
	}
}

func TestRateLimit(t *testing.T) {
	testCases := []struct {
		value string
		want  int64
	}{
		{"", 0},
		{"0", 0},
		{"4096", 4096},
		{"100k", 100 << 10},
		{"100m", 100 << 20},
		{"1g", 1 << 30},
		{"junk", 0},
	}
	for _, tc := range testCases {
		cfg := &Config{LimitRate: tc.value}
		if got := cfg.RateLimit(); got != tc.want {
			t.Errorf("RateLimit(%q) = %d, want %d", tc.value, got, tc.want)
		}
	}
}

func TestProxyURL(t *testing.T) {
	cfg := &Config{HTTPProxy: "http://proxy.example:3128"}
	if got := cfg.ProxyURL(); got != "" {
		t.Errorf("ProxyURL with use_proxy off = %q, want empty", got)
	}
	cfg.UseProxy = true
	if got := cfg.ProxyURL(); got != "http://proxy.example:3128" {
		t.Errorf("ProxyURL = %q", got)
	}
}
