// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"crypto"
	"encoding/json"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/apt-mirror/internal/hashext"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const versionDBName = "file_versions.json"

// VersionRecord tracks one canonical file's last published content for
// incremental diff generation.
type VersionRecord struct {
	Path      string  `json:"path"`
	Size      int64   `json:"size"`
	SHA256    string  `json:"hash"`
	Timestamp float64 `json:"timestamp"`
}

// differ generates binary deltas between successive versions of changed
// mirror files and maintains the version database.
type differ struct {
	cfg *Config
	// disabled flips once when the external tool is found missing; further
	// diffs are skipped for the rest of the run.
	disabled bool
}

// loadVersions reads the prior version map, or an empty map when absent.
func (d *differ) loadVersions() map[string]VersionRecord {
	versions := map[string]VersionRecord{}
	data, err := os.ReadFile(filepath.Join(d.cfg.VarPath, versionDBName))
	if err != nil {
		return versions
	}
	if err := json.Unmarshal(data, &versions); err != nil {
		log.Printf("Warning: corrupt version database, starting fresh: %v", err)
		return map[string]VersionRecord{}
	}
	return versions
}

// saveVersions rewrites the version map atomically.
func (d *differ) saveVersions(versions map[string]VersionRecord) error {
	data, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding version database")
	}
	target := filepath.Join(d.cfg.VarPath, versionDBName)
	tmp := target + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "writing version database")
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replacing version database")
	}
	return nil
}

// Generate walks the archive-stage tasks, diffs changed files against their
// recorded versions, and rewrites the database.
func (d *differ) Generate(ctx context.Context, tasks []FetchTask) error {
	old := d.loadVersions()
	next := map[string]VersionRecord{}
	var produced int

	for _, task := range tasks {
		if task.CanonicalPath == "" {
			continue
		}
		published := filepath.Join(d.cfg.MirrorPath, filepath.FromSlash(task.CanonicalPath))
		st, err := os.Stat(published)
		if err != nil {
			continue
		}
		sum, err := hashext.FileSum(published, crypto.SHA256)
		if err != nil {
			log.Printf("Warning: hashing %s: %v", task.CanonicalPath, err)
			continue
		}
		if prior, ok := old[task.CanonicalPath]; ok && prior.SHA256 != sum && !d.disabled {
			oldFile := filepath.Join(d.cfg.MirrorPath, filepath.FromSlash(prior.Path))
			if fileExists(oldFile) {
				out := filepath.Join(d.cfg.DiffStoragePath, filepath.FromSlash(task.CanonicalPath)+".diff")
				kept, err := d.createDiff(ctx, oldFile, published, out)
				if errors.Is(err, ErrToolMissing) {
					log.Printf("Warning: %s not found, disabling diff generation", d.cfg.DiffAlgorithm)
					d.disabled = true
				} else if err != nil {
					log.Printf("Warning: diff for %s: %v", task.CanonicalPath, err)
				} else if kept {
					produced++
				}
			}
		}
		next[task.CanonicalPath] = VersionRecord{
			Path:      task.CanonicalPath,
			Size:      st.Size(),
			SHA256:    sum,
			Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		}
	}
	log.Printf("Generated %d diffs", produced)
	return d.saveVersions(next)
}

// createDiff runs the configured external tool and keeps the result only
// when it is smaller than MaxDiffSizeRatio of the new file.
func (d *differ) createDiff(ctx context.Context, oldFile, newFile, out string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return false, errors.Wrap(err, "creating diff directory")
	}
	var cmd *exec.Cmd
	switch d.cfg.DiffAlgorithm {
	case "xdelta3":
		cmd = exec.CommandContext(ctx, "xdelta3", "-e", "-s", oldFile, newFile, out)
	case "bsdiff":
		cmd = exec.CommandContext(ctx, "bsdiff", oldFile, newFile, out)
	case "rsync":
		cmd = exec.CommandContext(ctx, "rsync", "--only-write-batch", out, newFile, oldFile)
	default:
		return false, errors.Wrapf(ErrConfig, "unknown diff algorithm: %s", d.cfg.DiffAlgorithm)
	}
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return false, ErrToolMissing
		}
		os.Remove(out)
		return false, errors.Wrapf(err, "running %s", d.cfg.DiffAlgorithm)
	}
	diffStat, err := os.Stat(out)
	if err != nil {
		return false, errors.Wrap(err, "stat diff")
	}
	newStat, err := os.Stat(newFile)
	if err != nil {
		return false, errors.Wrap(err, "stat new file")
	}
	if float64(diffStat.Size()) >= d.cfg.MaxDiffSizeRatio*float64(newStat.Size()) {
		os.Remove(out)
		return false, nil
	}
	return true, nil
}
