// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package mirror implements the apt-mirror pipeline: a staged, hash-aware
// download engine that materialises a verified local copy of remote
// Debian-style repositories.
package mirror

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/google/apt-mirror/internal/syncx"
	"github.com/google/apt-mirror/internal/uri"
	"github.com/google/apt-mirror/pkg/control"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var warnf = color.New(color.FgYellow).PrintfFunc()

// Engine owns one mirroring run: the HTTP session, the concurrency gate, the
// planning tables, and the staging trees. There is no ambient state; every
// collaborator receives the Engine or a value it owns.
type Engine struct {
	cfg     *Config
	fetcher *Fetcher
	byhash  *ByHash
	differ  *differ

	skipClean         syncx.Set[string]
	metadataChecksums syncx.Map[string, metaChecksum]

	mu    sync.Mutex
	queue []FetchTask

	failedFiles atomic.Int64
}

// repoIndexes binds a RepoSpec to the index files its Release advertised.
type repoIndexes struct {
	repo       RepoSpec
	byhash     bool
	canonicals []string
}

// New builds an Engine for the given configuration.
func New(cfg *Config) (*Engine, error) {
	if cfg.NThreads < 1 {
		cfg.NThreads = 1
	}
	e := &Engine{cfg: cfg, differ: &differ{cfg: cfg}}
	fetcher, err := NewFetcher(cfg)
	if err != nil {
		return nil, err
	}
	e.fetcher = fetcher
	e.byhash = NewByHash(cfg, &e.skipClean)
	return e, nil
}

// Run drives the five pipeline stages in order. Each stage fully drains
// before the next begins. Per-file failures are counted and surfaced in the
// summary; only lock contention and unrecoverable I/O abort the run.
func (e *Engine) Run(ctx context.Context) error {
	lock, err := acquireLock(e.cfg.VarPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	for _, dir := range []string{e.cfg.MirrorPath, e.cfg.SkelPath, e.cfg.VarPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "creating tree root")
		}
	}
	if e.cfg.EnableDiffs {
		if err := os.MkdirAll(e.cfg.DiffStoragePath, 0755); err != nil {
			return errors.Wrap(err, "creating diff root")
		}
	}

	started := time.Now()

	// Stage 1: Release documents.
	releaseTasks := e.planReleaseStage()
	if err := e.downloadBatch(ctx, releaseTasks, StageRelease); err != nil {
		return err
	}
	e.warnMissingReleases()

	// Stage 2: metadata indexes.
	indexTasks, repos := e.planMetadataStage()
	if err := e.downloadBatch(ctx, indexTasks, StageIndex); err != nil {
		return err
	}
	if err := e.byhash.FanOut(ctx); err != nil {
		return err
	}

	// Stage 3: index processing fills the archive queue.
	if err := e.processIndexes(ctx, repos); err != nil {
		return err
	}

	// Stage 4: archive artifacts.
	archiveTasks := e.takeQueue()
	if len(archiveTasks) > 0 {
		var total int64
		for _, t := range archiveTasks {
			total += t.Size
		}
		log.Printf("%s will be downloaded into archive.", formatBytes(total))
	}
	if err := e.downloadBatch(ctx, archiveTasks, StageArchive); err != nil {
		return err
	}
	if err := e.byhash.FanOut(ctx); err != nil {
		return err
	}

	// Stage 5: promotion, diffs, cleanup, hook.
	e.promoteAll(releaseTasks, indexTasks, archiveTasks)
	if e.cfg.EnableDiffs {
		if err := e.differ.Generate(ctx, archiveTasks); err != nil {
			warnf("Warning: diff generation: %v\n", err)
		}
	}
	stale, err := staleFiles(e.cfg, &e.skipClean)
	if err != nil {
		warnf("Warning: cleanup scan: %v\n", err)
	} else if e.cfg.AutoClean {
		autoClean(e.cfg, stale)
	} else if err := writeCleanScript(e.cfg, stale); err != nil {
		warnf("Warning: %v\n", err)
	}
	if e.cfg.RunPostMirror {
		runPostMirror(e.cfg)
	}

	log.Printf("Completed in %s", formatDuration(time.Since(started)))
	if failed := e.failedFiles.Load(); failed > 0 {
		warnf("Warning: %d files failed to download\n", failed)
	}
	return nil
}

// planReleaseStage emits InRelease/Release/Release.gpg tasks for every repo.
func (e *Engine) planReleaseStage() []FetchTask {
	var tasks []FetchTask
	seen := map[string]bool{}
	for _, repo := range e.cfg.Repos {
		for _, name := range releaseNames {
			rawURL := uri.Collapse(repo.BaseURL() + name)
			canonical := uri.Sanitize(rawURL, e.cfg.Tilde)
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			e.skipClean.Add(canonical)
			tasks = append(tasks, FetchTask{URL: rawURL, CanonicalPath: canonical, Stage: StageRelease})
		}
	}
	return tasks
}

// warnMissingReleases reports repositories for which neither InRelease nor
// Release arrived. Release.gpg is always optional.
func (e *Engine) warnMissingReleases() {
	for _, repo := range e.cfg.Repos {
		found := false
		for _, name := range []string{"InRelease", "Release"} {
			canonical := uri.Sanitize(uri.Collapse(repo.BaseURL()+name), e.cfg.Tilde)
			if fileExists(filepath.Join(e.cfg.SkelPath, filepath.FromSlash(canonical))) ||
				fileExists(filepath.Join(e.cfg.MirrorPath, filepath.FromSlash(canonical))) {
				found = true
				break
			}
		}
		if !found {
			warnf("Warning: no Release file found for repository %s\n", repo.Key())
		}
	}
}

// loadRelease parses the staged Release (preferred) or InRelease document.
func (e *Engine) loadRelease(repo RepoSpec) *control.Release {
	for _, name := range []string{"Release", "InRelease"} {
		canonical := uri.Sanitize(uri.Collapse(repo.BaseURL()+name), e.cfg.Tilde)
		f, err := os.Open(filepath.Join(e.cfg.SkelPath, filepath.FromSlash(canonical)))
		if err != nil {
			continue
		}
		doc, err := control.ParseRelease(f)
		f.Close()
		if err != nil {
			warnf("Warning: parsing %s: %v\n", canonical, err)
			continue
		}
		return doc
	}
	return nil
}

// planMetadataStage parses every Release, selects the index files it
// advertises, records their declared checksums, and plans their acquisition
// through the by-hash coordinator.
func (e *Engine) planMetadataStage() ([]FetchTask, []repoIndexes) {
	var tasks []FetchTask
	var repos []repoIndexes
	for _, repo := range e.cfg.Repos {
		release := e.loadRelease(repo)
		if release == nil {
			continue
		}
		strongest, haveStrongest := release.Strongest()
		useByHash := release.AcquireByHash && haveStrongest
		matcher := newIndexMatcher(repo, e.cfg.Contents)

		names := make([]string, 0, len(release.Files))
		for name := range release.Files {
			names = append(names, name)
		}
		sort.Strings(names)

		ri := repoIndexes{repo: repo, byhash: useByHash}
		for _, name := range names {
			if !matcher.match(name) {
				continue
			}
			entry := release.Files[name]
			rawURL := uri.Collapse(repo.BaseURL() + name)
			canonical := uri.Sanitize(rawURL, e.cfg.Tilde)
			algo, digest, hasDigest := entry.Strongest()
			e.metadataChecksums.Store(canonical, metaChecksum{Algo: algo, Digest: digest, Size: entry.Size})
			ri.canonicals = append(ri.canonicals, canonical)

			if !useByHash || !hasDigest {
				task, enqueue := e.byhash.Plan(rawURL, entry.Size, "", algo, digest, StageIndex)
				if enqueue {
					tasks = append(tasks, task)
				}
				continue
			}
			// The Release advertises the file under several algorithms:
			// the strongest becomes the download, the rest become aliases.
			for _, a := range control.Strength {
				d, ok := entry.Digests[a]
				if !ok {
					continue
				}
				task, enqueue := e.byhash.Plan(rawURL, entry.Size, strongest, a, d, StageIndex)
				if enqueue {
					tasks = append(tasks, task)
				}
			}
		}
		repos = append(repos, ri)
	}
	return tasks, repos
}

// processIndexes runs the index processor over every staged index. Indexes
// are independent, so they are verified, decompressed and parsed in
// parallel; a bad index skips itself with a warning without stopping the
// others.
func (e *Engine) processIndexes(ctx context.Context, repos []repoIndexes) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.NThreads)
	for _, ri := range repos {
		for _, canonical := range ri.canonicals {
			ri, canonical := ri, canonical
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := e.processIndex(ri.repo, canonical, ri.byhash); err != nil {
					warnf("Warning: %v\n", err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// downloadBatch drains one stage's task list through the fetcher, tracking
// progress and failure counts. The stage boundary is a barrier: the call
// returns only when every task has reached a terminal state.
func (e *Engine) downloadBatch(ctx context.Context, tasks []FetchTask, stage Stage) error {
	if len(tasks) == 0 {
		return ctx.Err()
	}
	var total int64
	for _, t := range tasks {
		total += t.Size
	}
	log.Printf("Downloading %d %s files using %d threads...", len(tasks), stage, e.cfg.NThreads)
	log.Printf("Begin time: %s", time.Now().Format("2006-01-02 15:04:05"))
	progress := newStageProgress(string(stage), len(tasks), total, e.cfg.ProgressUpdateInterval)

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(t FetchTask) {
			defer wg.Done()
			err := e.fetcher.Fetch(ctx, t)
			if err != nil && ctx.Err() == nil {
				warnf("Warning: downloading %s: %v\n", t.URL, err)
			}
			progress.Done(t.Size, err == nil)
		}(task)
	}
	wg.Wait()
	e.failedFiles.Add(progress.Finish())
	log.Printf("End time: %s", time.Now().Format("2006-01-02 15:04:05"))
	return ctx.Err()
}

// enqueue adds a planned archive task to the fetch queue.
func (e *Engine) enqueue(task FetchTask) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, task)
}

// takeQueue drains the fetch queue for the archive stage.
func (e *Engine) takeQueue() []FetchTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	tasks := e.queue
	e.queue = nil
	return tasks
}

// promoteAll publishes every staged path of the run: release documents,
// indexes, archive artifacts, and all by-hash aliases. A failed promotion
// is fatal for that file only.
func (e *Engine) promoteAll(batches ...[]FetchTask) {
	log.Print("Copying files from skel to mirror...")
	seen := map[string]bool{}
	promote := func(rel string) {
		if rel == "" || seen[rel] {
			return
		}
		seen[rel] = true
		src := filepath.Join(e.cfg.SkelPath, filepath.FromSlash(rel))
		dst := filepath.Join(e.cfg.MirrorPath, filepath.FromSlash(rel))
		if err := promoteFile(src, dst, e.cfg.Unlink); err != nil {
			warnf("Warning: promoting %s: %v\n", rel, err)
		}
	}
	for _, batch := range batches {
		for _, task := range batch {
			promote(task.localPath())
			if task.HashPath != "" {
				for _, alias := range e.byhash.aliasTargets(task.HashPath) {
					promote(alias)
				}
			}
		}
	}
}
