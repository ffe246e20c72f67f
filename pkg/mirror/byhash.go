// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/apt-mirror/internal/syncx"
	"github.com/google/apt-mirror/internal/uri"
	"github.com/google/apt-mirror/pkg/control"
	"golang.org/x/sync/errgroup"
)

// ByHash plans acquisitions under by-hash/<ALGO>/<digest> paths and fans the
// fetched payload back out to every canonical and weaker-algorithm alias.
type ByHash struct {
	cfg *Config
	// hashToCanonicals maps a fetched hash path to the canonical paths that
	// must receive its bytes once the batch drains.
	hashToCanonicals syncx.MultiMap[string, string]
	// canonicalToHashes maps a canonical path to redundant hash paths
	// advertised under weaker algorithms.
	canonicalToHashes syncx.MultiMap[string, string]
	skipClean         *syncx.Set[string]
}

// NewByHash constructs a coordinator recording kept paths into skipClean.
func NewByHash(cfg *Config, skipClean *syncx.Set[string]) *ByHash {
	return &ByHash{cfg: cfg, skipClean: skipClean}
}

// Plan normalises a planned download and decides its acquisition form. The
// returned task is enqueued only when enqueue is true; a digest advertised
// under a weaker algorithm than the document's strongest is recorded as an
// alias to materialise later instead of a second download.
func (b *ByHash) Plan(rawURL string, size int64, strongest, algo control.Algo, digest string, stage Stage) (task FetchTask, enqueue bool) {
	rawURL = uri.Collapse(rawURL)
	canonical := uri.Sanitize(rawURL, b.cfg.Tilde)
	b.skipClean.Add(canonical)

	if digest == "" || strongest == "" {
		return FetchTask{
			URL:           rawURL,
			Size:          size,
			Algo:          algo,
			Digest:        digest,
			CanonicalPath: canonical,
			Stage:         stage,
		}, true
	}

	effective := algo
	if effective == "" {
		effective = strongest
	}
	hashDir := "by-hash/" + string(effective)
	// path.Dir would collapse the "//" of the URL scheme.
	hashURL := dirOf(rawURL) + "/" + hashDir + "/" + digest
	hashPath := dirOf(canonical) + "/" + hashDir + "/" + digest
	b.skipClean.Add(hashPath)

	if effective != strongest {
		// No new download; materialised from the canonical file after the
		// strongest-algorithm fetch completes.
		b.canonicalToHashes.Add(canonical, hashPath)
		return FetchTask{}, false
	}
	b.hashToCanonicals.Add(hashPath, canonical)
	return FetchTask{
		URL:           hashURL,
		Size:          size,
		Algo:          effective,
		Digest:        digest,
		CanonicalPath: canonical,
		HashPath:      hashPath,
		Stage:         stage,
	}, true
}

// FanOut copies every populated hash path to its canonical aliases and then
// to the weaker-algorithm hash paths recorded for those canonicals. Copies
// preserve mtime and mode; hardlinks are used where the filesystem allows.
func (b *ByHash) FanOut(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.NThreads)
	b.hashToCanonicals.Range(func(hashPath string, canonicals []string) bool {
		src := filepath.Join(b.cfg.SkelPath, filepath.FromSlash(hashPath))
		if !fileExists(src) {
			return true
		}
		g.Go(func() error {
			for _, canonical := range canonicals {
				dst := filepath.Join(b.cfg.SkelPath, filepath.FromSlash(canonical))
				if err := promoteFile(src, dst, false); err != nil {
					return err
				}
				for _, weaker := range b.canonicalToHashes.Get(canonical) {
					weakDst := filepath.Join(b.cfg.SkelPath, filepath.FromSlash(weaker))
					if err := promoteFile(src, weakDst, false); err != nil {
						return err
					}
				}
			}
			return nil
		})
		return true
	})
	return g.Wait()
}

// aliasTargets returns every alias path (canonical and weaker hash paths)
// that should be published for the given fetched hash path.
func (b *ByHash) aliasTargets(hashPath string) []string {
	var targets []string
	for _, canonical := range b.hashToCanonicals.Get(hashPath) {
		targets = append(targets, canonical)
		targets = append(targets, b.canonicalToHashes.Get(canonical)...)
	}
	return targets
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// dirOf returns everything before the last '/' without cleaning the path.
func dirOf(s string) string {
	if i := strings.LastIndex(s, "/"); i > 0 {
		return s[:i]
	}
	return s
}
