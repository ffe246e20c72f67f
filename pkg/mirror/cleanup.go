// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/apt-mirror/internal/syncx"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// staleFiles lists mirror files under the configured clean directories that
// the run did not mark live.
func staleFiles(cfg *Config, skipClean *syncx.Set[string]) ([]string, error) {
	skipPrefixes := append([]string(nil), cfg.SkipClean...)
	var stale []string
	for _, dir := range cfg.CleanDirs {
		root := filepath.Join(cfg.MirrorPath, filepath.FromSlash(dir))
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(cfg.MirrorPath, path)
			if err != nil {
				return err
			}
			canonical := filepath.ToSlash(rel)
			if skipClean.Has(canonical) {
				return nil
			}
			for _, prefix := range skipPrefixes {
				if strings.HasPrefix(canonical, prefix) {
					return nil
				}
			}
			stale = append(stale, canonical)
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "walking mirror tree")
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// writeCleanScript emits a shell script removing every stale file, written
// atomically so a crashed run never leaves a truncated script.
func writeCleanScript(cfg *Config, stale []string) error {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by apt-mirror. Review before running.\n")
	b.WriteString("set -e\n\n")
	for _, canonical := range stale {
		fmt.Fprintf(&b, "rm -f '%s'\n", filepath.Join(cfg.MirrorPath, filepath.FromSlash(canonical)))
	}
	for _, dir := range cfg.CleanDirs {
		fmt.Fprintf(&b, "find '%s' -depth -type d -empty -delete 2>/dev/null || true\n",
			filepath.Join(cfg.MirrorPath, filepath.FromSlash(dir)))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.CleanScript), 0755); err != nil {
		return errors.Wrap(err, "creating cleanscript directory")
	}
	tmp := cfg.CleanScript + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0755); err != nil {
		return errors.Wrap(err, "writing cleanscript")
	}
	if err := os.Rename(tmp, cfg.CleanScript); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replacing cleanscript")
	}
	return nil
}

// autoClean removes stale files directly instead of emitting a script.
func autoClean(cfg *Config, stale []string) {
	for _, canonical := range stale {
		path := filepath.Join(cfg.MirrorPath, filepath.FromSlash(canonical))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: removing %s: %v", path, err)
		}
	}
	for _, dir := range cfg.CleanDirs {
		pruneEmptyDirs(filepath.Join(cfg.MirrorPath, filepath.FromSlash(dir)))
	}
}

// pruneEmptyDirs removes directories left empty by cleanup, deepest first.
func pruneEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}
}

// runPostMirror executes the configured hook: directly when executable,
// via /bin/sh when merely readable.
func runPostMirror(cfg *Config) {
	script := strings.TrimSpace(cfg.PostMirrorScript)
	if script == "" {
		log.Print("Warning: postmirror_script is empty, skipping postmirror execution")
		return
	}
	st, err := os.Stat(script)
	if err != nil {
		log.Printf("Warning: postmirror script not found: %s, skipping", script)
		return
	}
	var cmd *exec.Cmd
	if st.Mode()&0111 != 0 {
		cmd = exec.Command(script)
	} else if f, err := os.Open(script); err == nil {
		f.Close()
		cmd = exec.Command("/bin/sh", script)
	} else {
		log.Printf("Warning: postmirror script is not readable: %s, skipping", script)
		return
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.Printf("Warning: postmirror script failed: %v", err)
	}
}
