// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/apt-mirror/internal/hashext"
	"github.com/google/apt-mirror/internal/httpx"
	"github.com/google/apt-mirror/internal/ratex"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

const (
	fetchUserAgent = "Debian APT-HTTP/1.3 (apt-mirror)"
	totalTimeout   = 3600 * time.Second
	connectTimeout = 30 * time.Second
)

// Fetcher performs verified HTTP downloads into the skel tree with bounded
// concurrency, resume, and retry.
type Fetcher struct {
	cfg     *Config
	client  httpx.BasicClient
	sem     *semaphore.Weighted
	limiter *ratex.Limiter
}

// NewFetcher builds a Fetcher for the run's transfer policy.
func NewFetcher(cfg *Config) (*Fetcher, error) {
	client, err := httpx.NewClient(httpx.TransportOptions{
		MaxConns:           2 * cfg.NThreads,
		Proxy:              cfg.ProxyURL(),
		ProxyUser:          cfg.ProxyUser,
		ProxyPassword:      cfg.ProxyPassword,
		InsecureSkipVerify: cfg.NoCheckCertificate,
		Timeout:            totalTimeout,
		ConnectTimeout:     connectTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &httpx.WithUserAgent{BasicClient: client, UserAgent: fetchUserAgent},
		sem:     semaphore.NewWeighted(int64(cfg.NThreads)),
		limiter: ratex.NewLimiter(cfg.RateLimit()),
	}, nil
}

// Fetch downloads one task into skel, or satisfies it from the mirror tree
// without network I/O when the published copy already verifies. A nil return
// means the staged file is complete and verified.
func (f *Fetcher) Fetch(ctx context.Context, task FetchTask) error {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer f.sem.Release(1)

	local := filepath.Join(f.cfg.SkelPath, filepath.FromSlash(task.localPath()))
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return errors.Wrap(err, "creating skel directory")
	}

	if ok, err := f.reuseFromMirror(task, local); err != nil {
		return err
	} else if ok {
		return nil
	}

	rangeFrom, done, err := f.examineStaged(task, local)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	attempts := f.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * f.cfg.RetryDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		var permanent bool
		permanent, lastErr = f.attempt(ctx, task, local, rangeFrom)
		if lastErr == nil {
			return nil
		}
		if permanent || ctx.Err() != nil {
			break
		}
		// Corrupt completions restart from zero; otherwise pick the
		// resume point up from whatever the failed attempt staged.
		if errors.Is(lastErr, ErrSizeMismatch) || errors.Is(lastErr, ErrChecksumMismatch) {
			os.Remove(local)
			rangeFrom = 0
		} else if st, err := os.Stat(local); err == nil && f.cfg.ResumePartialDownloads && task.Size > 0 && st.Size() < task.Size {
			rangeFrom = st.Size()
		} else {
			rangeFrom = 0
		}
	}
	if errors.Is(lastErr, ErrSizeMismatch) || errors.Is(lastErr, ErrChecksumMismatch) {
		os.Remove(local)
	}
	return lastErr
}

// reuseFromMirror implements the pre-existence short-circuit: a published
// copy that still verifies is linked into skel without any network I/O.
func (f *Fetcher) reuseFromMirror(task FetchTask, local string) (bool, error) {
	if task.CanonicalPath == "" {
		return false, nil
	}
	published := filepath.Join(f.cfg.MirrorPath, filepath.FromSlash(task.CanonicalPath))
	st, err := os.Stat(published)
	if err != nil {
		return false, nil
	}
	if task.Digest != "" && f.cfg.VerifyChecksums {
		ok, err := hashext.VerifyFile(published, task.Algo.CryptoHash(), task.Digest)
		if err != nil || !ok {
			return false, nil
		}
	} else if task.Size <= 0 || st.Size() != task.Size {
		return false, nil
	}
	if sameFile(published, local) {
		return true, nil
	}
	if err := copyPreserving(published, local); err != nil {
		return false, errors.Wrap(err, "copying mirror file into skel")
	}
	return true, nil
}

// examineStaged decides what to do with an existing skel file: accept it,
// resume it, or restart from zero.
func (f *Fetcher) examineStaged(task FetchTask, local string) (rangeFrom int64, done bool, err error) {
	st, err := os.Stat(local)
	if err != nil {
		return 0, false, nil
	}
	if task.Size > 0 && st.Size() == task.Size {
		if task.Digest != "" && f.cfg.VerifyChecksums {
			ok, err := hashext.VerifyFile(local, task.Algo.CryptoHash(), task.Digest)
			if err == nil && ok {
				return 0, true, nil
			}
			// Stale or corrupt; refetch from zero.
			os.Remove(local)
			return 0, false, nil
		}
		return 0, true, nil
	}
	if task.Size > 0 && st.Size() < task.Size && f.cfg.ResumePartialDownloads {
		return st.Size(), false, nil
	}
	// Longer than expected, resume disabled, or unknown size: start over.
	os.Remove(local)
	return 0, false, nil
}

// attempt performs one transfer try. permanent reports a failure not worth
// retrying.
func (f *Fetcher) attempt(ctx context.Context, task FetchTask, local string, rangeFrom int64) (permanent bool, _ error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return true, errors.Wrap(err, "building request")
	}
	if rangeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeFrom))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false, errors.Wrapf(ErrNetwork, "%s: %v", task.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		rangeFrom = 0
	case resp.StatusCode == http.StatusPartialContent && rangeFrom > 0:
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return false, errors.Wrapf(ErrNetwork, "%s: status %d", task.URL, resp.StatusCode)
	default:
		return true, errors.Wrapf(ErrNetwork, "%s: status %d", task.URL, resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if rangeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(local, flags, 0644)
	if err != nil {
		return true, errors.Wrap(err, "opening staged file")
	}
	_, copyErr := io.Copy(out, f.limiter.Reader(ctx, resp.Body))
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return false, errors.Wrapf(ErrNetwork, "%s: %v", task.URL, copyErr)
	}

	st, err := os.Stat(local)
	if err != nil {
		return true, errors.Wrap(err, "stat staged file")
	}
	if task.Size > 0 && st.Size() != task.Size {
		return false, errors.Wrapf(ErrSizeMismatch, "%s: expected %d, got %d", task.URL, task.Size, st.Size())
	}
	if task.Digest != "" && f.cfg.VerifyChecksums {
		ok, err := hashext.VerifyFile(local, task.Algo.CryptoHash(), task.Digest)
		if err != nil {
			return true, errors.Wrap(err, "verifying staged file")
		}
		if !ok {
			return false, errors.Wrapf(ErrChecksumMismatch, "%s", task.URL)
		}
	}
	return false, nil
}

func sameFile(a, b string) bool {
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}
