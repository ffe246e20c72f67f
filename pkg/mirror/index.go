// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/apt-mirror/internal/hashext"
	"github.com/google/apt-mirror/internal/uri"
	"github.com/google/apt-mirror/pkg/control"
	"github.com/pkg/errors"
)

// metaChecksum is the declared (algorithm, digest, size) for a metadata file,
// recorded while reading its Release document.
type metaChecksum struct {
	Algo   control.Algo
	Digest string
	Size   int64
}

// processIndex verifies one staged index against its Release declaration,
// decompresses it, and feeds the parser. A verification failure skips the
// index with a warning and enqueues nothing from it.
func (e *Engine) processIndex(repo RepoSpec, canonical string, byhash bool) error {
	staged := filepath.Join(e.cfg.SkelPath, filepath.FromSlash(canonical))
	st, err := os.Stat(staged)
	if err != nil {
		return errors.Wrapf(err, "index %s not staged", canonical)
	}
	if declared, ok := e.metadataChecksums.Load(canonical); ok {
		if declared.Size > 0 && st.Size() != declared.Size {
			return errors.Wrapf(ErrSizeMismatch, "index %s: expected %d, got %d", canonical, declared.Size, st.Size())
		}
		if declared.Digest != "" && e.cfg.VerifyChecksums {
			ok, err := hashext.VerifyFile(staged, declared.Algo.CryptoHash(), declared.Digest)
			if err != nil {
				return errors.Wrapf(err, "verifying index %s", canonical)
			}
			if !ok {
				return errors.Wrapf(ErrChecksumMismatch, "index %s", canonical)
			}
		}
	}

	base := filepath.Base(staged)
	stem := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".bz2"), ".xz")
	if !strings.HasPrefix(stem, "Packages") && !strings.HasPrefix(stem, "Sources") {
		// Contents and friends are mirrored, not parsed.
		return nil
	}

	plain, err := Decompress(staged)
	if err != nil {
		return err
	}
	f, err := os.Open(plain)
	if err != nil {
		return errors.Wrap(err, "opening index")
	}
	defer f.Close()

	if strings.HasPrefix(stem, "Packages") {
		entries, err := control.ParsePackages(f)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			e.planArtifact(repo.URI+"/"+entry.Filename, entry.Size, entry.Algo, entry.Digest, byhash)
		}
		return nil
	}
	entries, err := control.ParseSources(f)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		for _, file := range entry.Files {
			e.planArtifact(repo.URI+"/"+entry.Directory+"/"+file.Name, file.Size, file.Algo, file.Digest, byhash)
		}
	}
	return nil
}

// planArtifact records an artifact as live and enqueues a fetch for it
// unless the published mirror copy is already valid.
func (e *Engine) planArtifact(rawURL string, size int64, algo control.Algo, digest string, byhash bool) {
	rawURL = uri.Collapse(rawURL)
	canonical := uri.Sanitize(rawURL, e.cfg.Tilde)
	e.skipClean.Add(canonical)

	if e.mirrorHasValid(canonical, size, algo, digest) {
		return
	}
	// By-hash acquisition only applies when the governing Release opted in.
	strongest := control.Algo("")
	if byhash && digest != "" {
		strongest = algo
	}
	task, enqueue := e.byhash.Plan(rawURL, size, strongest, algo, digest, StageArchive)
	if enqueue {
		e.enqueue(task)
	}
}

// mirrorHasValid reports whether mirror/<canonical> already satisfies the
// declared digest, or the declared size when no digest is available.
func (e *Engine) mirrorHasValid(canonical string, size int64, algo control.Algo, digest string) bool {
	published := filepath.Join(e.cfg.MirrorPath, filepath.FromSlash(canonical))
	st, err := os.Stat(published)
	if err != nil {
		return false
	}
	if digest != "" && e.cfg.VerifyChecksums {
		ok, err := hashext.VerifyFile(published, algo.CryptoHash(), digest)
		return err == nil && ok
	}
	return size > 0 && st.Size() == size
}
